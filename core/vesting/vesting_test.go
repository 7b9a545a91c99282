package vesting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func scenarioRaw(t0 int64) Raw {
	return Raw{
		TotalAmount:     decimal.NewFromInt(10000),
		StartTime:       t0,
		TotalDuration:   31536000,
		TotalTranches:   4,
		CurrentTranche:  2,
		TrancheDuration: 7884000,
		AlreadyReleased: decimal.NewFromInt(5000),
		RemainingAmount: decimal.NewFromInt(5000),
		NextReleaseTime: t0 + 15768000,
	}
}

func TestDeriveScenario(t *testing.T) {
	t0 := int64(1700000000)
	s, ok := Derive(scenarioRaw(t0))
	if !ok {
		t.Fatalf("schedule should be applicable")
	}
	if !s.RemainingAmount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("remaining = %s, want 5000", s.RemainingAmount)
	}
	if got := s.TrancheLabel(); got != "2/4" {
		t.Fatalf("tranche label = %q", got)
	}
	if s.TrancheFraction() != 0.5 || s.ReleasedFraction() != 0.5 {
		t.Fatalf("unexpected fractions %v %v", s.TrancheFraction(), s.ReleasedFraction())
	}
	before := time.Unix(t0+15768000-3600, 0)
	if got := s.Countdown(before); got != "1h 0m 0s" {
		t.Fatalf("countdown before release = %q", got)
	}
	after := time.Unix(t0+15768000+1, 0)
	if got := s.Countdown(after); got != Ready {
		t.Fatalf("countdown after release = %q", got)
	}
	if !s.CanRelease() {
		t.Fatalf("mid-schedule release should be allowed")
	}
}

func TestDeriveNotApplicable(t *testing.T) {
	if _, ok := Derive(Raw{TotalAmount: decimal.Zero, TotalTranches: 4}); ok {
		t.Fatalf("zero total must not be applicable")
	}
}

func TestDeriveTerminalState(t *testing.T) {
	raw := scenarioRaw(1700000000)
	raw.CurrentTranche = 4
	raw.AlreadyReleased = decimal.NewFromInt(9999)
	s, ok := Derive(raw)
	if !ok {
		t.Fatalf("terminal schedule still applicable")
	}
	if !s.Completed() || s.CanRelease() {
		t.Fatalf("terminal schedule must be completed and not releasable")
	}
	if !s.RemainingAmount.IsZero() {
		t.Fatalf("terminal remaining = %s", s.RemainingAmount)
	}
	if got := s.Countdown(time.Unix(0, 0)); got != "" {
		t.Fatalf("terminal schedule must not render a countdown, got %q", got)
	}
}

func TestDeriveClampsInconsistentTuple(t *testing.T) {
	raw := scenarioRaw(0)
	raw.CurrentTranche = 9
	raw.AlreadyReleased = decimal.NewFromInt(20000)
	s, _ := Derive(raw)
	if s.CurrentTranche != 4 || !s.AlreadyReleased.Equal(s.TotalAmount) || !s.RemainingAmount.IsZero() {
		t.Fatalf("unexpected clamp result %+v", s)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{59 * time.Second, "59s"},
		{61 * time.Second, "1m 1s"},
		{3600 * time.Second, "1h 0m 0s"},
		{(2*86400 + 5) * time.Second, "2d 0h 0m 5s"},
		{-5 * time.Second, "0s"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.in); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatTimeRemainingClampsPast(t *testing.T) {
	now := time.Unix(1000, 0)
	if got := FormatTimeRemaining(now.Add(-time.Hour), now); got != Ready {
		t.Fatalf("past target = %q", got)
	}
	if got := FormatTimeRemaining(now.Add(90*time.Second), now); got != "1m 30s" {
		t.Fatalf("future target = %q", got)
	}
}
