package faucet

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// prizeFile mirrors the TOML layout:
//
//	[[prize]]
//	amount = "0.01"
//	weight = 20
type prizeFile struct {
	Prizes []struct {
		Amount string `toml:"amount"`
		Weight int64  `toml:"weight"`
	} `toml:"prize"`
}

// LoadPrizeEntries reads a prize table definition from a TOML file.
// An empty path yields DefaultPrizeEntries.
func LoadPrizeEntries(path string) ([]PrizeEntry, error) {
	if path == "" {
		return DefaultPrizeEntries(), nil
	}
	var f prizeFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode prize file %s: %w", path, err)
	}
	entries := make([]PrizeEntry, 0, len(f.Prizes))
	for i, p := range f.Prizes {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: prize %d amount %q: %v", ErrInvalidPrizeTable, i, p.Amount, err)
		}
		entries = append(entries, PrizeEntry{Amount: amount, Weight: p.Weight})
	}
	return entries, nil
}
