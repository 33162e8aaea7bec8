package faucet

import (
	"context"
	"log/slog"
	"time"

	"faucet/internal/db"
	"faucet/internal/observability/metrics"
)

// ClaimStore is the persistence used by ClaimRecorder; *db.Store satisfies it.
type ClaimStore interface {
	InsertClaimLog(ctx context.Context, entry db.ClaimLog) error
	RepairClaim(ctx context.Context, entry db.ClaimLog) error
}

// ClaimRecorder persists claim events and repairs ledger rows the API could not write.
type ClaimRecorder struct {
	store  ClaimStore
	logger *slog.Logger
}

// NewClaimRecorder builds a recorder.
func NewClaimRecorder(store ClaimStore, logger *slog.Logger) *ClaimRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaimRecorder{store: store, logger: logger}
}

// HandleClaim stores the audit row; ledger_write_failed events also upsert the
// claim so the identity's cooldown starts from the original transfer.
func (r *ClaimRecorder) HandleClaim(ctx context.Context, event ClaimEvent) error {
	start := time.Now()
	defer func() { metrics.ObserveConsumerProcessing("handle_claim", time.Since(start)) }()

	entry := db.ClaimLog{
		EventID:   event.ID,
		Type:      event.Type,
		Identity:  event.Identity,
		Wallet:    event.Wallet,
		Amount:    event.Amount,
		BaseUnits: event.BaseUnits,
		TxHash:    event.TxHash,
		ClaimedAt: event.Timestamp,
	}

	switch event.Type {
	case EventLedgerWriteFailed:
		if err := r.store.RepairClaim(ctx, entry); err != nil {
			r.logger.Error("claim recorder: ledger repair failed",
				"module", "domain/faucet",
				"identity", event.Identity,
				"tx_hash", event.TxHash,
				"error", err,
			)
			return err
		}
		r.logger.Info("claim recorder: ledger repaired",
			"event", "ledger_repaired",
			"module", "domain/faucet",
			"identity", event.Identity,
			"tx_hash", event.TxHash,
		)
		return nil
	case EventClaimApproved:
		if err := r.store.InsertClaimLog(ctx, entry); err != nil {
			r.logger.Error("claim recorder: failed to insert log",
				"module", "domain/faucet",
				"identity", event.Identity,
				"tx_hash", event.TxHash,
				"error", err,
			)
			return err
		}
		return nil
	default:
		r.logger.Warn("claim recorder: unknown event type", "module", "domain/faucet", "type", event.Type, "event_id", event.ID)
		return nil
	}
}
