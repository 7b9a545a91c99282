// Package badges tracks soulbound badge ownership and time-accrued
// eligibility for one account.
package badges

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"royaltysync/ledger"
)

// Status summarises one badge type for the account.
type Status string

const (
	StatusOwned      Status = "owned"
	StatusClaimable  Status = "claimable"
	StatusInProgress Status = "in_progress"
)

// UserBadge is a badge token held by the account.
type UserBadge struct {
	TokenID     uint64 `json:"token_id"`
	BadgeTypeID uint64 `json:"badge_type_id"`
}

// Source is the ledger surface the tracker reads. UpdateHoldingProgress is
// the only write and is used as an accrual checkpoint.
type Source interface {
	BadgeTypeCount(ctx context.Context) (uint64, error)
	BadgeType(ctx context.Context, id uint64) (ledger.BadgeType, error)
	OwnerOfBadge(ctx context.Context, tokenID uint64) (common.Address, error)
	BadgeTypeOf(ctx context.Context, tokenID uint64) (uint64, error)
	Balance(ctx context.Context, account common.Address) (decimal.Decimal, error)
	SecondsHeld(ctx context.Context, badgeTypeID uint64, account common.Address) (uint64, error)
	UpdateHoldingProgress(ctx context.Context, badgeTypeID uint64, account common.Address) error
}

// maxPreallocTypes bounds the slice capacity reserved from the ledger's
// reported type count.
const maxPreallocTypes = 256

// Failure records one isolated read failure within a collection pass.
type Failure struct {
	Field string
	Err   error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.Field, f.Err) }

func (f Failure) Unwrap() error { return f.Err }

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithAccrualCheckpoint toggles the UpdateHoldingProgress write issued
// before each progress read.
func WithAccrualCheckpoint(enabled bool) Option {
	return func(t *Tracker) { t.checkpoint = enabled }
}

// Tracker derives badge state from the ledger.
type Tracker struct {
	src        Source
	logger     *slog.Logger
	checkpoint bool
}

// NewTracker binds a tracker to src. Accrual checkpoints are enabled by default.
func NewTracker(src Source, opts ...Option) *Tracker {
	t := &Tracker{src: src, logger: slog.Default(), checkpoint: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Collect performs one full pass for account. Failures are isolated to the
// affected field and returned alongside the best-effort state.
func (t *Tracker) Collect(ctx context.Context, account common.Address) (State, []Failure) {
	var failures []Failure
	fail := func(field string, err error) {
		t.logger.Warn("badge read failed", slog.String("field", field), slog.Any("error", err))
		failures = append(failures, Failure{Field: field, Err: err})
	}

	state := State{Progress: make(map[uint64]uint64)}
	types, err := t.types(ctx, fail)
	if err != nil {
		fail("badge_types", err)
	}
	state.Types = types

	owned, err := t.owned(ctx, account, fail)
	if err != nil {
		fail("user_badges", err)
	}
	state.Owned = owned

	for _, bt := range state.Types {
		if ctx.Err() != nil {
			break
		}
		state.Progress[bt.ID] = 0
		if !bt.Active {
			continue
		}
		progress, err := t.progress(ctx, bt, account)
		if err != nil {
			fail(fmt.Sprintf("progress[%d]", bt.ID), err)
			continue
		}
		state.Progress[bt.ID] = progress
	}
	return state, failures
}

func (t *Tracker) types(ctx context.Context, fail func(string, error)) ([]ledger.BadgeType, error) {
	count, err := t.src.BadgeTypeCount(ctx)
	if err != nil {
		return nil, err
	}
	types := make([]ledger.BadgeType, 0, min(count, maxPreallocTypes))
	for id := uint64(1); id <= count; id++ {
		bt, err := t.src.BadgeType(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return types, ctx.Err()
			}
			fail(fmt.Sprintf("badge_type[%d]", id), err)
			continue
		}
		bt.ID = id
		types = append(types, bt)
	}
	return types, nil
}

// owned walks token ids from 1 until the ledger reports the first missing
// id. Token ids are allocated densely by the registry. A token whose type
// cannot be read is reported through fail and skipped.
func (t *Tracker) owned(ctx context.Context, account common.Address, fail func(string, error)) ([]UserBadge, error) {
	var owned []UserBadge
	for id := uint64(1); ; id++ {
		holder, err := t.src.OwnerOfBadge(ctx, id)
		if errors.Is(err, ledger.ErrNotFound) {
			return owned, nil
		}
		if err != nil {
			return owned, err
		}
		if holder != account {
			continue
		}
		typeID, err := t.src.BadgeTypeOf(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return owned, ctx.Err()
			}
			fail(fmt.Sprintf("badge_type_of[%d]", id), err)
			continue
		}
		owned = append(owned, UserBadge{TokenID: id, BadgeTypeID: typeID})
	}
}

func (t *Tracker) progress(ctx context.Context, bt ledger.BadgeType, account common.Address) (uint64, error) {
	balance, err := t.src.Balance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	if balance.LessThan(bt.MinHolding) {
		return 0, nil
	}
	if t.checkpoint {
		if err := t.src.UpdateHoldingProgress(ctx, bt.ID, account); err != nil {
			return 0, fmt.Errorf("checkpoint: %w", err)
		}
	}
	return t.src.SecondsHeld(ctx, bt.ID, account)
}
