// Package ledger defines the typed boundary between the sync engine and the
// three external ledgers: the payment token, the royalty-bearing token and the
// soulbound badge registry.
//
// Amounts are display values. Implementations convert to the ledger's
// fixed-point integer units at their boundary only.
package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"royaltysync/core/vesting"
)

var (
	// ErrNotFound is returned by OwnerOfBadge when the token id does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrNotEligible is returned by ClaimBadge when progress is insufficient or the badge is already owned.
	ErrNotEligible = errors.New("ledger: not eligible")
	// ErrNothingToRelease is returned by ReleaseVesting when the current tranche is not yet due.
	ErrNothingToRelease = errors.New("ledger: nothing to release")
	// ErrWriteRejected wraps every write the ledger declined.
	ErrWriteRejected = errors.New("ledger: write rejected")
)

// BadgeType describes one class of soulbound badge.
type BadgeType struct {
	ID              uint64          `json:"id"`
	Name            string          `json:"name"`
	MinHolding      decimal.Decimal `json:"min_holding"`
	HoldingDuration uint64          `json:"holding_duration"`
	Active          bool            `json:"active"`
}

// Token names a ledger for human-readable output.
type Token struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// TokenInfo carries the labels of all three ledgers.
type TokenInfo struct {
	Royalty Token `json:"royalty"`
	Payment Token `json:"payment"`
	Badge   Token `json:"badge"`
}

// Reader exposes the ledger's read surface. Every call reflects ledger state at
// call time.
type Reader interface {
	Balance(ctx context.Context, account common.Address) (decimal.Decimal, error)
	PaymentBalance(ctx context.Context, account common.Address) (decimal.Decimal, error)
	PricePerToken(ctx context.Context) (decimal.Decimal, error)
	IsPaused(ctx context.Context) (bool, error)
	Owner(ctx context.Context) (common.Address, error)
	TokenInfo(ctx context.Context) (TokenInfo, error)
	VestingInfo(ctx context.Context) (vesting.Raw, error)
	BadgeTypeCount(ctx context.Context) (uint64, error)
	BadgeType(ctx context.Context, id uint64) (BadgeType, error)
	OwnerOfBadge(ctx context.Context, tokenID uint64) (common.Address, error)
	BadgeTypeOf(ctx context.Context, tokenID uint64) (uint64, error)
	Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error)
	SecondsHeld(ctx context.Context, badgeTypeID uint64, account common.Address) (uint64, error)
}

// Writer exposes the ledger's write surface. Each call returns only after the
// ledger durably accepted the change.
type Writer interface {
	Approve(ctx context.Context, spender common.Address, amount decimal.Decimal) error
	Buy(ctx context.Context, amount decimal.Decimal) error
	Sell(ctx context.Context, amount decimal.Decimal) error
	Transfer(ctx context.Context, to common.Address, amount decimal.Decimal) error
	DistributeRoyalties(ctx context.Context, amount decimal.Decimal) error
	UpdatePrice(ctx context.Context, price decimal.Decimal) error
	Mint(ctx context.Context, to common.Address, amount decimal.Decimal) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	CreateBadgeType(ctx context.Context, name string, minHolding decimal.Decimal, duration uint64) error
	ClaimBadge(ctx context.Context, badgeTypeID uint64) error
	AwardBadge(ctx context.Context, badgeTypeID uint64, to common.Address) error
	RevokeBadge(ctx context.Context, tokenID uint64) error
	BurnBadge(ctx context.Context, tokenID uint64) error
	ReleaseVesting(ctx context.Context) error
	UpdateHoldingProgress(ctx context.Context, badgeTypeID uint64, account common.Address) error
}

// Gateway is the full ledger surface bound to one authenticated account.
type Gateway interface {
	Reader
	Writer
	// Account is the address writes are signed for.
	Account() common.Address
	// RoyaltyLedger is the royalty contract address, the spender of payment-token approvals.
	RoyaltyLedger() common.Address
	// Subscribe streams ledger events to sink until the subscription ends.
	Subscribe(ctx context.Context, sink func(Event)) (Subscription, error)
	// Close releases transport resources.
	Close()
}

// Subscription is a live event feed.
type Subscription interface {
	Unsubscribe()
	// Err delivers a value when the feed fails; it is closed on Unsubscribe.
	Err() <-chan error
}
