package claim

import (
	"context"
	"encoding/json"

	"faucet/internal/domain/faucet"
	"faucet/internal/kafka"
)

// Sender is the subset of kafka.Producer the publisher needs.
type Sender interface {
	Send(ctx context.Context, key string, payload []byte) error
}

var _ Sender = (*kafka.Producer)(nil)

// Publisher converts claim events into Kafka messages keyed by identity.
type Publisher struct {
	producer Sender
}

// NewPublisher constructs a Publisher.
func NewPublisher(producer Sender) *Publisher {
	return &Publisher{producer: producer}
}

// Publish pushes a claim event onto Kafka.
func (p *Publisher) Publish(ctx context.Context, event faucet.ClaimEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.producer.Send(ctx, event.Identity, payload)
}
