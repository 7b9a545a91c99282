package amount

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundTripLaw(t *testing.T) {
	cases := []string{"0", "0.01", "1", "12.5", "12.34", "999999.99", "5000", "0.005", "3.999"}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			value, err := Parse(raw)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			first, err := ToLedgerUnits(value, RoundDown)
			if err != nil {
				t.Fatalf("to units: %v", err)
			}
			second, err := ToLedgerUnits(ToDisplay(first), RoundDown)
			if err != nil {
				t.Fatalf("to units (second pass): %v", err)
			}
			if first.Cmp(second) != 0 {
				t.Fatalf("round trip mismatch: %s vs %s", first, second)
			}
		})
	}
}

func TestToLedgerUnitsRounding(t *testing.T) {
	value := decimal.RequireFromString("1.234")
	down, err := ToLedgerUnits(value, RoundDown)
	if err != nil {
		t.Fatalf("round down: %v", err)
	}
	if down.Int64() != 123 {
		t.Fatalf("expected 123, got %s", down)
	}
	up, err := ToLedgerUnits(value, RoundUp)
	if err != nil {
		t.Fatalf("round up: %v", err)
	}
	if up.Int64() != 124 {
		t.Fatalf("expected 124, got %s", up)
	}
}

func TestToLedgerUnitsRejectsNegativeAndOverflow(t *testing.T) {
	if _, err := ToLedgerUnits(decimal.NewFromInt(-1), RoundDown); !errors.Is(err, ErrNegative) {
		t.Fatalf("expected ErrNegative, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := ToLedgerUnits(decimal.NewFromBigInt(huge, 0), RoundDown); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestToDisplay(t *testing.T) {
	if got := Format(ToDisplay(big.NewInt(12345))); got != "123.45" {
		t.Fatalf("unexpected display %q", got)
	}
	if !ToDisplay(nil).IsZero() {
		t.Fatalf("nil units should display as zero")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, raw := range []string{"", "  ", "abc", "1..2"} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Parse(%q): expected ErrInvalid, got %v", raw, err)
		}
	}
}

func TestQuantize(t *testing.T) {
	value := decimal.RequireFromString("10.001")
	if got := Format(Quantize(value)); got != "10.00" {
		t.Fatalf("quantize down: %s", got)
	}
	if got := Format(QuantizeUp(value)); got != "10.01" {
		t.Fatalf("quantize up: %s", got)
	}
	if got := Format(QuantizeUp(decimal.RequireFromString("10.5"))); got != "10.50" {
		t.Fatalf("quantize up exact: %s", got)
	}
}
