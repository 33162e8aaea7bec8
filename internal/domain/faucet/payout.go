package faucet

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultTransferDeduction is the share the token contract burns on every transfer.
var DefaultTransferDeduction = decimal.RequireFromString("0.10")

// maxTokenDecimals keeps 10^decimals inside uint256.
const maxTokenDecimals = 77

// ErrInvalidPayoutConfig is returned for out-of-range deduction or decimals.
var ErrInvalidPayoutConfig = errors.New("invalid payout configuration")

// Payout is what the transfer engine is instructed to send for one prize.
type Payout struct {
	// Nominal is the amount the claimant should end up with.
	Nominal decimal.Decimal
	// Amount is Nominal grossed up for the deduction, in whole tokens.
	Amount decimal.Decimal
	// BaseUnits is Amount in the token's smallest unit, truncated.
	BaseUnits *big.Int
}

// PayoutCalculator grosses a nominal prize up so the recipient receives it after
// the token's proportional transfer deduction.
type PayoutCalculator struct {
	deduction decimal.Decimal
	divisor   decimal.Decimal
	decimals  int32
}

// NewPayoutCalculator validates deduction in [0, 1) and token decimals.
func NewPayoutCalculator(deduction decimal.Decimal, decimals int32) (*PayoutCalculator, error) {
	if deduction.IsNegative() || deduction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: deduction %s outside [0, 1)", ErrInvalidPayoutConfig, deduction)
	}
	if decimals < 0 || decimals > maxTokenDecimals {
		return nil, fmt.Errorf("%w: decimals %d outside [0, %d]", ErrInvalidPayoutConfig, decimals, maxTokenDecimals)
	}
	return &PayoutCalculator{
		deduction: deduction,
		divisor:   decimal.NewFromInt(1).Sub(deduction),
		decimals:  decimals,
	}, nil
}

// Adjust computes nominal / (1 - deduction).
func (p *PayoutCalculator) Adjust(nominal decimal.Decimal) Payout {
	// QuoRem at precision 0 is an exact integer quotient truncated toward zero.
	units, _ := nominal.Shift(p.decimals).QuoRem(p.divisor, 0)
	return Payout{
		Nominal:   nominal,
		Amount:    units.Shift(-p.decimals),
		BaseUnits: units.BigInt(),
	}
}

// Deduction returns the configured proportional deduction.
func (p *PayoutCalculator) Deduction() decimal.Decimal { return p.deduction }

// Decimals returns the token precision.
func (p *PayoutCalculator) Decimals() int32 { return p.decimals }
