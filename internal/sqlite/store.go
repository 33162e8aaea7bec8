// Package sqlite is a single-node claim ledger backed by an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"faucet/internal/observability/metrics"
)

// Store persists claim times as Unix milliseconds, one row per identity.
type Store struct {
	db *sql.DB
}

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS faucet_claim (
			identity   TEXT PRIMARY KEY,
			claimed_ms INTEGER NOT NULL
		)`,
	}
}

// Open creates or opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY on upsert.
	db.SetMaxOpenConns(1)
	for _, stmt := range migrations() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LastClaim returns the most recent successful claim time for identity.
func (s *Store) LastClaim(ctx context.Context, identity string) (time.Time, bool, error) {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("sqlite_last_claim", time.Since(start)) }()
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT claimed_ms FROM faucet_claim WHERE identity = ?`, identity).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// RecordClaim upserts the claim row for identity without moving it backwards.
func (s *Store) RecordClaim(ctx context.Context, identity string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("sqlite_record_claim", time.Since(start)) }()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO faucet_claim (identity, claimed_ms) VALUES (?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			claimed_ms = MAX(faucet_claim.claimed_ms, excluded.claimed_ms)
	`, identity, at.UnixMilli())
	return err
}
