package claim

import (
	"context"
	"encoding/json"
	"log/slog"

	"faucet/internal/domain/faucet"
	"faucet/internal/kafka"
)

// Handler reacts to decoded claim events.
type Handler interface {
	HandleClaim(ctx context.Context, event faucet.ClaimEvent) error
}

// HandlerFunc makes ordinary functions usable as claim handlers.
type HandlerFunc func(ctx context.Context, event faucet.ClaimEvent) error

// HandleClaim implements Handler.
func (f HandlerFunc) HandleClaim(ctx context.Context, event faucet.ClaimEvent) error {
	return f(ctx, event)
}

// Consumer wraps a low-level Kafka consumer and decodes claim events.
type Consumer struct {
	consumer *kafka.Consumer
}

// NewConsumer wires the handler through the low-level consumer.
func NewConsumer(brokers []string, groupID, topic string, handler Handler) (*Consumer, error) {
	cons, err := kafka.NewConsumer(brokers, groupID, topic, decoder(handler))
	if err != nil {
		return nil, err
	}
	return &Consumer{consumer: cons}, nil
}

// decoder drops undecodable payloads instead of retrying them.
func decoder(handler Handler) kafka.HandlerFunc {
	return func(ctx context.Context, value []byte) error {
		var event faucet.ClaimEvent
		if err := json.Unmarshal(value, &event); err != nil {
			slog.Error("claim consumer decode error", "module", "messaging/claim", "error", err)
			return nil
		}
		return handler.HandleClaim(ctx, event)
	}
}

// Start begins consuming events.
func (c *Consumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Close cleans up resources.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}
