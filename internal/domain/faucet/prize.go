package faucet

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrizeTable is returned when a prize table cannot be built.
var ErrInvalidPrizeTable = errors.New("invalid prize table")

// PrizeEntry is one reward amount and its relative weight.
type PrizeEntry struct {
	Amount decimal.Decimal
	Weight int64
}

// PrizeTable is an immutable weighted set of reward amounts.
type PrizeTable struct {
	entries []PrizeEntry
	total   int64
	intN    func(n int64) int64
}

// PrizeOption customises a PrizeTable.
type PrizeOption func(*PrizeTable)

// WithRand makes the table draw from r instead of the global source.
func WithRand(r *rand.Rand) PrizeOption {
	return func(t *PrizeTable) { t.intN = r.Int64N }
}

// DefaultPrizeEntries is the stock faucet distribution.
func DefaultPrizeEntries() []PrizeEntry {
	return []PrizeEntry{
		{Amount: decimal.RequireFromString("0.01"), Weight: 20},
		{Amount: decimal.RequireFromString("0.02"), Weight: 20},
		{Amount: decimal.RequireFromString("0.05"), Weight: 10},
		{Amount: decimal.RequireFromString("0.1"), Weight: 10},
		{Amount: decimal.RequireFromString("0.2"), Weight: 10},
		{Amount: decimal.RequireFromString("0.5"), Weight: 5},
		{Amount: decimal.RequireFromString("1"), Weight: 5},
	}
}

// NewPrizeTable validates entries and builds a table.
func NewPrizeTable(entries []PrizeEntry, opts ...PrizeOption) (*PrizeTable, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidPrizeTable)
	}
	copied := make([]PrizeEntry, len(entries))
	var total int64
	for i, e := range entries {
		if !e.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: entry %d amount %s must be positive", ErrInvalidPrizeTable, i, e.Amount)
		}
		if e.Weight <= 0 {
			return nil, fmt.Errorf("%w: entry %d weight %d must be positive", ErrInvalidPrizeTable, i, e.Weight)
		}
		if total > total+e.Weight {
			return nil, fmt.Errorf("%w: total weight overflows", ErrInvalidPrizeTable)
		}
		total += e.Weight
		copied[i] = e
	}
	t := &PrizeTable{entries: copied, total: total, intN: rand.Int64N}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Pick draws one amount with probability weight/totalWeight.
func (t *PrizeTable) Pick() decimal.Decimal {
	r := t.intN(t.total)
	for _, e := range t.entries {
		if r < e.Weight {
			return e.Amount
		}
		r -= e.Weight
	}
	return t.entries[len(t.entries)-1].Amount
}

// Entries returns a copy of the configured entries in table order.
func (t *PrizeTable) Entries() []PrizeEntry {
	out := make([]PrizeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// TotalWeight is the sum of all entry weights.
func (t *PrizeTable) TotalWeight() int64 {
	return t.total
}
