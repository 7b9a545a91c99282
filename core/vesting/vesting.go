// Package vesting derives display fields from the raw vesting tuple reported
// by the royalty ledger.
package vesting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Ready is rendered instead of a countdown once the release time has passed.
const Ready = "ready"

// Raw mirrors the ledger's getVestingInfo tuple. Amounts are display values,
// times are seconds since the Unix epoch.
type Raw struct {
	TotalAmount     decimal.Decimal
	StartTime       int64
	TotalDuration   int64
	TotalTranches   uint64
	CurrentTranche  uint64
	TrancheDuration int64
	AlreadyReleased decimal.Decimal
	RemainingAmount decimal.Decimal
	NextReleaseTime int64
}

// Schedule is the derived view of a vesting schedule.
type Schedule struct {
	TotalAmount     decimal.Decimal `json:"total_amount"`
	StartTime       time.Time       `json:"start_time"`
	TotalDuration   time.Duration   `json:"total_duration"`
	TotalTranches   uint64          `json:"total_tranches"`
	CurrentTranche  uint64          `json:"current_tranche"`
	TrancheDuration time.Duration   `json:"tranche_duration"`
	AlreadyReleased decimal.Decimal `json:"already_released"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	NextReleaseTime time.Time       `json:"next_release_time"`
}

// Derive converts the raw tuple. It reports false when the schedule is not
// applicable (zero total amount) and must not be surfaced.
func Derive(raw Raw) (Schedule, bool) {
	if !raw.TotalAmount.IsPositive() {
		return Schedule{}, false
	}
	current := raw.CurrentTranche
	if raw.TotalTranches > 0 && current > raw.TotalTranches {
		current = raw.TotalTranches
	}
	released := raw.AlreadyReleased
	if released.GreaterThan(raw.TotalAmount) {
		released = raw.TotalAmount
	}
	remaining := raw.TotalAmount.Sub(released)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	s := Schedule{
		TotalAmount:     raw.TotalAmount,
		StartTime:       time.Unix(raw.StartTime, 0).UTC(),
		TotalDuration:   time.Duration(raw.TotalDuration) * time.Second,
		TotalTranches:   raw.TotalTranches,
		CurrentTranche:  current,
		TrancheDuration: time.Duration(raw.TrancheDuration) * time.Second,
		AlreadyReleased: released,
		RemainingAmount: remaining,
		NextReleaseTime: time.Unix(raw.NextReleaseTime, 0).UTC(),
	}
	if s.Completed() {
		s.RemainingAmount = decimal.Zero
	}
	return s, true
}

// Completed reports whether every tranche has been released.
func (s Schedule) Completed() bool {
	return s.TotalTranches > 0 && s.CurrentTranche >= s.TotalTranches
}

// CanRelease reports whether a release may still be attempted.
func (s Schedule) CanRelease() bool {
	return s.TotalAmount.IsPositive() && !s.Completed()
}

// TrancheLabel renders the tranche position, e.g. "2/4".
func (s Schedule) TrancheLabel() string {
	return fmt.Sprintf("%d/%d", s.CurrentTranche, s.TotalTranches)
}

// TrancheFraction is the share of tranches released, in [0, 1].
func (s Schedule) TrancheFraction() float64 {
	if s.TotalTranches == 0 {
		return 0
	}
	return float64(s.CurrentTranche) / float64(s.TotalTranches)
}

// ReleasedFraction is the share of the total amount released, in [0, 1].
func (s Schedule) ReleasedFraction() float64 {
	if !s.TotalAmount.IsPositive() {
		return 0
	}
	f, _ := s.AlreadyReleased.Div(s.TotalAmount).Float64()
	return f
}

// Countdown renders the time until the next release. It is empty once the
// schedule has completed, since no further release time exists.
func (s Schedule) Countdown(now time.Time) string {
	if s.Completed() {
		return ""
	}
	return FormatTimeRemaining(s.NextReleaseTime, now)
}

// FormatTimeRemaining renders target-now, clamping past targets to Ready.
func FormatTimeRemaining(target, now time.Time) string {
	diff := target.Sub(now)
	if diff < time.Second {
		return Ready
	}
	return FormatDuration(diff)
}

// FormatDuration renders d as "1d 2h 3m 4s", omitting leading zero units.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))
	return strings.Join(parts, " ")
}
