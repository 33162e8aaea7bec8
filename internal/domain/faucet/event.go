package faucet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// EventClaimApproved is emitted after a transfer was submitted.
	EventClaimApproved = "claim_approved"
	// EventLedgerWriteFailed is emitted when funds moved but the claim was not recorded.
	EventLedgerWriteFailed = "ledger_write_failed"
)

// ClaimEvent encapsulates the data emitted after a disbursement.
type ClaimEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Identity  string          `json:"identity"`
	Wallet    string          `json:"wallet"`
	Amount    decimal.Decimal `json:"amount"`
	BaseUnits string          `json:"base_units"`
	TxHash    string          `json:"tx_hash"`
	Timestamp time.Time       `json:"ts"`
}

func newClaimEvent(eventType string, req ClaimRequest, payout Payout, txHash string, at time.Time) ClaimEvent {
	return ClaimEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Identity:  req.Identity,
		Wallet:    req.Wallet,
		Amount:    payout.Nominal,
		BaseUnits: payout.BaseUnits.String(),
		TxHash:    txHash,
		Timestamp: at.UTC(),
	}
}
