package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"faucet/internal/observability/metrics"
)

// Store wraps a pgx connection pool and exposes typed helpers.
type Store struct {
	pool *pgxpool.Pool
}

// ClaimLog holds data for claim_log insertions.
type ClaimLog struct {
	EventID   string
	Type      string
	Identity  string
	Wallet    string
	Amount    decimal.Decimal
	BaseUnits string
	TxHash    string
	ClaimedAt time.Time
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases underlying connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema guarantees required tables exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("ensure_schema", time.Since(start)) }()
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// RunInTx executes fn within a transaction boundary.
func (s *Store) RunInTx(ctx context.Context, fn func(pgx.Tx) error) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("run_in_tx", time.Since(start)) }()
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// LastClaim returns the most recent successful claim time for identity.
func (s *Store) LastClaim(ctx context.Context, identity string) (time.Time, bool, error) {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("last_claim", time.Since(start)) }()
	var claimedAt time.Time
	err := s.pool.QueryRow(ctx, `
        SELECT claimed_at FROM faucet_claim WHERE identity = $1
    `, identity).Scan(&claimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return claimedAt, true, nil
}

// RecordClaim upserts the claim row for identity.
func (s *Store) RecordClaim(ctx context.Context, identity string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("record_claim", time.Since(start)) }()
	_, err := s.pool.Exec(ctx, upsertClaimSQL, identity, at.UTC())
	return err
}

// InsertClaimLog stores a claim event for auditing. Redelivered events are ignored.
func (s *Store) InsertClaimLog(ctx context.Context, entry ClaimLog) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("insert_claim_log", time.Since(start)) }()
	_, err := s.pool.Exec(ctx, insertClaimLogSQL, claimLogArgs(entry)...)
	return err
}

// RepairClaim records a claim whose ledger write failed after the transfer,
// together with its audit row.
func (s *Store) RepairClaim(ctx context.Context, entry ClaimLog) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("repair_claim", time.Since(start)) }()
	return s.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertClaimLogSQL, claimLogArgs(entry)...); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, upsertClaimSQL, entry.Identity, entry.ClaimedAt.UTC())
		return err
	})
}

func claimLogArgs(entry ClaimLog) []any {
	return []any{
		entry.EventID, entry.Type, entry.Identity, entry.Wallet,
		entry.Amount.String(), entry.BaseUnits, entry.TxHash, entry.ClaimedAt.UTC(),
	}
}
