package kafka

import (
	"context"
	"errors"
	"testing"
)

func TestHandlerRetriesUntilSuccess(t *testing.T) {
	calls := 0
	h := &consumerGroupHandler{handler: HandlerFunc(func(context.Context, []byte) error {
		calls++
		if calls < 2 {
			return errors.New("db busy")
		}
		return nil
	})}
	if err := h.handle(context.Background(), []byte("{}")); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestHandlerGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("db down")
	h := &consumerGroupHandler{handler: HandlerFunc(func(context.Context, []byte) error {
		calls++
		return boom
	})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.handle(ctx, nil); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if calls != 1 {
		t.Fatalf("expected canceled context to stop retries after 1 call, got %d", calls)
	}
}

func TestCleanBrokers(t *testing.T) {
	got := cleanBrokers([]string{" a:9092", "", "b:9092 "})
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}
