// Package amount converts between human-readable display amounts and the
// fixed-point integer units stored on the ledger. Every monetary or token
// quantity crossing the ledger boundary carries two implied decimal digits.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// Decimals is the number of implied decimal digits in ledger units.
	Decimals = 2
	// Scale is the multiplier applied to display values before submission.
	Scale = 100
)

var (
	// ErrNegative is returned when a negative amount is converted to ledger units.
	ErrNegative = errors.New("amount: negative value")
	// ErrOverflow is returned when a value does not fit a 256-bit ledger word.
	ErrOverflow = errors.New("amount: exceeds uint256")
	// ErrInvalid is returned for unparsable display strings.
	ErrInvalid = errors.New("amount: invalid value")

	scale = decimal.NewFromInt(Scale)
)

// Rounding selects how display values with more precision than the ledger
// supports are brought to ledger precision.
type Rounding int

const (
	// RoundDown truncates towards zero.
	RoundDown Rounding = iota
	// RoundUp rounds away from zero so the ledger receives at least the stated value.
	RoundUp
)

// Parse reads a display amount such as "12.5".
func Parse(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalid)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return value, nil
}

// ToLedgerUnits multiplies a display value by Scale, rounding any excess
// precision according to mode.
func ToLedgerUnits(value decimal.Decimal, mode Rounding) (*big.Int, error) {
	if value.IsNegative() {
		return nil, ErrNegative
	}
	scaled := value.Mul(scale)
	switch mode {
	case RoundUp:
		scaled = scaled.Ceil()
	default:
		scaled = scaled.Floor()
	}
	units := scaled.BigInt()
	if _, overflow := uint256.FromBig(units); overflow {
		return nil, ErrOverflow
	}
	return units, nil
}

// ToDisplay divides ledger units by Scale. A nil value reads as zero.
func ToDisplay(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -Decimals)
}

// Quantize rounds a display value down to ledger precision.
func Quantize(value decimal.Decimal) decimal.Decimal {
	return value.Truncate(Decimals)
}

// QuantizeUp rounds a display value up to ledger precision.
func QuantizeUp(value decimal.Decimal) decimal.Decimal {
	return value.RoundCeil(Decimals)
}

// Format renders a display value with exactly two decimals.
func Format(value decimal.Decimal) string {
	return value.StringFixed(Decimals)
}
