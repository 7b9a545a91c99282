package ledgertest

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"royaltysync/core/vesting"
	"royaltysync/ledger"
)

// Gateway is a ledger.Gateway bound to one account of a Ledger.
type Gateway struct {
	l       *Ledger
	account common.Address
}

var _ ledger.Gateway = (*Gateway)(nil)

// Account returns the signing account.
func (g *Gateway) Account() common.Address { return g.account }

// RoyaltyLedger returns RoyaltyLedgerAddress.
func (g *Gateway) RoyaltyLedger() common.Address { return RoyaltyLedgerAddress }

// Close counts the close on the ledger.
func (g *Gateway) Close() {
	g.l.mu.Lock()
	defer g.l.mu.Unlock()
	g.l.closed++
}

// Subscribe registers sink for emitted events.
func (g *Gateway) Subscribe(ctx context.Context, sink func(ledger.Event)) (ledger.Subscription, error) {
	g.l.mu.Lock()
	defer g.l.mu.Unlock()
	if err := g.l.record("Subscribe"); err != nil {
		return nil, err
	}
	sub := &subscription{l: g.l, sink: sink, errs: make(chan error, 1)}
	g.l.subs[sub] = struct{}{}
	return sub, nil
}

func (g *Gateway) read(method string) (func(), error) {
	g.l.mu.Lock()
	if err := g.l.record(method); err != nil {
		g.l.mu.Unlock()
		return nil, err
	}
	return g.l.mu.Unlock, nil
}

func (g *Gateway) Balance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	unlock, err := g.read("Balance")
	if err != nil {
		return decimal.Zero, err
	}
	defer unlock()
	return g.l.royalty[account], nil
}

func (g *Gateway) PaymentBalance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	unlock, err := g.read("PaymentBalance")
	if err != nil {
		return decimal.Zero, err
	}
	defer unlock()
	return g.l.payment[account], nil
}

func (g *Gateway) PricePerToken(ctx context.Context) (decimal.Decimal, error) {
	unlock, err := g.read("PricePerToken")
	if err != nil {
		return decimal.Zero, err
	}
	defer unlock()
	return g.l.price, nil
}

func (g *Gateway) IsPaused(ctx context.Context) (bool, error) {
	unlock, err := g.read("IsPaused")
	if err != nil {
		return false, err
	}
	defer unlock()
	return g.l.paused, nil
}

func (g *Gateway) Owner(ctx context.Context) (common.Address, error) {
	unlock, err := g.read("Owner")
	if err != nil {
		return common.Address{}, err
	}
	defer unlock()
	return g.l.owner, nil
}

func (g *Gateway) TokenInfo(ctx context.Context) (ledger.TokenInfo, error) {
	unlock, err := g.read("TokenInfo")
	if err != nil {
		return ledger.TokenInfo{}, err
	}
	defer unlock()
	return g.l.info, nil
}

func (g *Gateway) VestingInfo(ctx context.Context) (vesting.Raw, error) {
	unlock, err := g.read("VestingInfo")
	if err != nil {
		return vesting.Raw{}, err
	}
	defer unlock()
	return g.l.vest, nil
}

func (g *Gateway) BadgeTypeCount(ctx context.Context) (uint64, error) {
	unlock, err := g.read("BadgeTypeCount")
	if err != nil {
		return 0, err
	}
	defer unlock()
	return uint64(len(g.l.badgeTypes)), nil
}

func (g *Gateway) BadgeType(ctx context.Context, id uint64) (ledger.BadgeType, error) {
	unlock, err := g.read("BadgeType")
	if err != nil {
		return ledger.BadgeType{}, err
	}
	defer unlock()
	bt, ok := g.l.badgeType(id)
	if !ok {
		return ledger.BadgeType{}, fmt.Errorf("badge type %d: %w", id, ledger.ErrNotFound)
	}
	return bt, nil
}

func (g *Gateway) OwnerOfBadge(ctx context.Context, tokenID uint64) (common.Address, error) {
	unlock, err := g.read("OwnerOfBadge")
	if err != nil {
		return common.Address{}, err
	}
	defer unlock()
	tok, ok := g.l.tokens[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("badge token %d: %w", tokenID, ledger.ErrNotFound)
	}
	return tok.holder, nil
}

func (g *Gateway) BadgeTypeOf(ctx context.Context, tokenID uint64) (uint64, error) {
	unlock, err := g.read("BadgeTypeOf")
	if err != nil {
		return 0, err
	}
	defer unlock()
	tok, ok := g.l.tokens[tokenID]
	if !ok {
		return 0, fmt.Errorf("badge token %d: %w", tokenID, ledger.ErrNotFound)
	}
	return tok.typeID, nil
}

func (g *Gateway) Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	unlock, err := g.read("Allowance")
	if err != nil {
		return decimal.Zero, err
	}
	defer unlock()
	return g.l.allowances[owner][spender], nil
}

func (g *Gateway) SecondsHeld(ctx context.Context, badgeTypeID uint64, account common.Address) (uint64, error) {
	unlock, err := g.read("SecondsHeld")
	if err != nil {
		return 0, err
	}
	defer unlock()
	return g.l.secondsHeld(badgeTypeID, account), nil
}

// write runs fn under the ledger lock after the write hook and error
// injection, then emits the events fn produced.
func (g *Gateway) write(ctx context.Context, method string, fn func() ([]ledger.Event, error)) error {
	g.l.mu.Lock()
	hook := g.l.hook
	g.l.mu.Unlock()
	if hook != nil {
		hook(method)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g.l.mu.Lock()
	if err := g.l.record(method); err != nil {
		g.l.mu.Unlock()
		return err
	}
	events, err := fn()
	g.l.mu.Unlock()
	if err != nil {
		return err
	}
	for _, ev := range events {
		g.l.Emit(ev)
	}
	return nil
}

func (g *Gateway) requireOwner(method string) error {
	if g.account != g.l.owner {
		return rejected(method, "caller is not the owner")
	}
	return nil
}

func (g *Gateway) requireUnpaused(method string) error {
	if g.l.paused {
		return rejected(method, "paused")
	}
	return nil
}

func (g *Gateway) Approve(ctx context.Context, spender common.Address, value decimal.Decimal) error {
	return g.write(ctx, "Approve", func() ([]ledger.Event, error) {
		if value.IsNegative() {
			return nil, rejected("Approve", "negative allowance")
		}
		g.l.setAllowance(g.account, spender, value)
		return nil, nil
	})
}

func (g *Gateway) Buy(ctx context.Context, value decimal.Decimal) error {
	return g.write(ctx, "Buy", func() ([]ledger.Event, error) {
		if err := g.requireUnpaused("Buy"); err != nil {
			return nil, err
		}
		if !value.IsPositive() {
			return nil, rejected("Buy", "non-positive amount")
		}
		cost := value.Mul(g.l.price)
		allowance := g.l.allowances[g.account][RoyaltyLedgerAddress]
		if allowance.LessThan(cost) {
			return nil, rejected("Buy", "insufficient allowance")
		}
		if g.l.payment[g.account].LessThan(cost) {
			return nil, rejected("Buy", "insufficient payment balance")
		}
		g.l.setAllowance(g.account, RoyaltyLedgerAddress, allowance.Sub(cost))
		g.l.payment[g.account] = g.l.payment[g.account].Sub(cost)
		g.l.payment[RoyaltyLedgerAddress] = g.l.payment[RoyaltyLedgerAddress].Add(cost)
		g.l.royalty[g.account] = g.l.royalty[g.account].Add(value)
		return []ledger.Event{{Kind: ledger.EventTransfer, From: RoyaltyLedgerAddress, To: g.account, Amount: value}}, nil
	})
}

func (g *Gateway) Sell(ctx context.Context, value decimal.Decimal) error {
	return g.write(ctx, "Sell", func() ([]ledger.Event, error) {
		if err := g.requireUnpaused("Sell"); err != nil {
			return nil, err
		}
		if !value.IsPositive() {
			return nil, rejected("Sell", "non-positive amount")
		}
		if g.l.royalty[g.account].LessThan(value) {
			return nil, rejected("Sell", "insufficient balance")
		}
		payout := value.Mul(g.l.price)
		g.l.royalty[g.account] = g.l.royalty[g.account].Sub(value)
		g.l.payment[g.account] = g.l.payment[g.account].Add(payout)
		return []ledger.Event{{Kind: ledger.EventTransfer, From: g.account, To: RoyaltyLedgerAddress, Amount: value}}, nil
	})
}

func (g *Gateway) Transfer(ctx context.Context, to common.Address, value decimal.Decimal) error {
	return g.write(ctx, "Transfer", func() ([]ledger.Event, error) {
		if !value.IsPositive() {
			return nil, rejected("Transfer", "non-positive amount")
		}
		if g.l.payment[g.account].LessThan(value) {
			return nil, rejected("Transfer", "insufficient balance")
		}
		g.l.payment[g.account] = g.l.payment[g.account].Sub(value)
		g.l.payment[to] = g.l.payment[to].Add(value)
		return nil, nil
	})
}

func (g *Gateway) DistributeRoyalties(ctx context.Context, value decimal.Decimal) error {
	return g.write(ctx, "DistributeRoyalties", func() ([]ledger.Event, error) {
		if !value.IsPositive() {
			return nil, rejected("DistributeRoyalties", "non-positive amount")
		}
		allowance := g.l.allowances[g.account][RoyaltyLedgerAddress]
		if allowance.LessThan(value) {
			return nil, rejected("DistributeRoyalties", "insufficient allowance")
		}
		if g.l.payment[g.account].LessThan(value) {
			return nil, rejected("DistributeRoyalties", "insufficient payment balance")
		}
		g.l.setAllowance(g.account, RoyaltyLedgerAddress, allowance.Sub(value))
		g.l.payment[g.account] = g.l.payment[g.account].Sub(value)
		g.l.payment[RoyaltyLedgerAddress] = g.l.payment[RoyaltyLedgerAddress].Add(value)
		return []ledger.Event{{Kind: ledger.EventRoyaltiesDistributed, From: g.account, Amount: value}}, nil
	})
}

func (g *Gateway) UpdatePrice(ctx context.Context, price decimal.Decimal) error {
	return g.write(ctx, "UpdatePrice", func() ([]ledger.Event, error) {
		if err := g.requireOwner("UpdatePrice"); err != nil {
			return nil, err
		}
		if !price.IsPositive() {
			return nil, rejected("UpdatePrice", "non-positive price")
		}
		g.l.price = price
		return nil, nil
	})
}

func (g *Gateway) Mint(ctx context.Context, to common.Address, value decimal.Decimal) error {
	return g.write(ctx, "Mint", func() ([]ledger.Event, error) {
		if err := g.requireOwner("Mint"); err != nil {
			return nil, err
		}
		if !value.IsPositive() {
			return nil, rejected("Mint", "non-positive amount")
		}
		g.l.royalty[to] = g.l.royalty[to].Add(value)
		return []ledger.Event{{Kind: ledger.EventTransfer, To: to, Amount: value}}, nil
	})
}

func (g *Gateway) Pause(ctx context.Context) error {
	return g.write(ctx, "Pause", func() ([]ledger.Event, error) {
		if err := g.requireOwner("Pause"); err != nil {
			return nil, err
		}
		if g.l.paused {
			return nil, rejected("Pause", "already paused")
		}
		g.l.paused = true
		return nil, nil
	})
}

func (g *Gateway) Unpause(ctx context.Context) error {
	return g.write(ctx, "Unpause", func() ([]ledger.Event, error) {
		if err := g.requireOwner("Unpause"); err != nil {
			return nil, err
		}
		if !g.l.paused {
			return nil, rejected("Unpause", "not paused")
		}
		g.l.paused = false
		return nil, nil
	})
}

func (g *Gateway) CreateBadgeType(ctx context.Context, name string, minHolding decimal.Decimal, duration uint64) error {
	return g.write(ctx, "CreateBadgeType", func() ([]ledger.Event, error) {
		if err := g.requireOwner("CreateBadgeType"); err != nil {
			return nil, err
		}
		if name == "" {
			return nil, rejected("CreateBadgeType", "empty name")
		}
		g.l.addBadgeType(name, minHolding, duration)
		return nil, nil
	})
}

func (g *Gateway) ClaimBadge(ctx context.Context, badgeTypeID uint64) error {
	return g.write(ctx, "ClaimBadge", func() ([]ledger.Event, error) {
		bt, ok := g.l.badgeType(badgeTypeID)
		if !ok || !bt.Active {
			return nil, rejected("ClaimBadge", "unknown badge type", ledger.ErrNotEligible)
		}
		if g.l.owns(g.account, badgeTypeID) {
			return nil, rejected("ClaimBadge", "already owned", ledger.ErrNotEligible)
		}
		if g.l.royalty[g.account].LessThan(bt.MinHolding) || g.l.secondsHeld(badgeTypeID, g.account) < bt.HoldingDuration {
			return nil, rejected("ClaimBadge", "holding requirement not met", ledger.ErrNotEligible)
		}
		id := g.l.mint(g.account, badgeTypeID)
		return []ledger.Event{{Kind: ledger.EventBadgeClaimed, BadgeTypeID: badgeTypeID, To: g.account, TokenID: id}}, nil
	})
}

func (g *Gateway) AwardBadge(ctx context.Context, badgeTypeID uint64, to common.Address) error {
	return g.write(ctx, "AwardBadge", func() ([]ledger.Event, error) {
		if err := g.requireOwner("AwardBadge"); err != nil {
			return nil, err
		}
		if _, ok := g.l.badgeType(badgeTypeID); !ok {
			return nil, rejected("AwardBadge", "unknown badge type")
		}
		if g.l.owns(to, badgeTypeID) {
			return nil, rejected("AwardBadge", "already owned")
		}
		id := g.l.mint(to, badgeTypeID)
		return []ledger.Event{{Kind: ledger.EventBadgeAwarded, BadgeTypeID: badgeTypeID, To: to, TokenID: id}}, nil
	})
}

func (g *Gateway) RevokeBadge(ctx context.Context, tokenID uint64) error {
	return g.write(ctx, "RevokeBadge", func() ([]ledger.Event, error) {
		if err := g.requireOwner("RevokeBadge"); err != nil {
			return nil, err
		}
		tok, ok := g.l.tokens[tokenID]
		if !ok {
			return nil, rejected("RevokeBadge", "unknown token", ledger.ErrNotFound)
		}
		delete(g.l.tokens, tokenID)
		return []ledger.Event{{Kind: ledger.EventBadgeRevoked, TokenID: tokenID, From: tok.holder}}, nil
	})
}

func (g *Gateway) BurnBadge(ctx context.Context, tokenID uint64) error {
	return g.write(ctx, "BurnBadge", func() ([]ledger.Event, error) {
		tok, ok := g.l.tokens[tokenID]
		if !ok {
			return nil, rejected("BurnBadge", "unknown token", ledger.ErrNotFound)
		}
		if tok.holder != g.account {
			return nil, rejected("BurnBadge", "caller is not the holder")
		}
		delete(g.l.tokens, tokenID)
		return nil, nil
	})
}

func (g *Gateway) ReleaseVesting(ctx context.Context) error {
	return g.write(ctx, "ReleaseVesting", func() ([]ledger.Event, error) {
		if err := g.requireOwner("ReleaseVesting"); err != nil {
			return nil, err
		}
		v := &g.l.vest
		if !v.TotalAmount.IsPositive() || v.TotalTranches == 0 || v.CurrentTranche >= v.TotalTranches {
			return nil, rejected("ReleaseVesting", "schedule complete", ledger.ErrNothingToRelease)
		}
		if g.l.now().Unix() < v.NextReleaseTime {
			return nil, rejected("ReleaseVesting", "tranche not due", ledger.ErrNothingToRelease)
		}
		tranche := v.TotalAmount.Div(decimal.NewFromInt(int64(v.TotalTranches)))
		if remaining := v.TotalAmount.Sub(v.AlreadyReleased); tranche.GreaterThan(remaining) {
			tranche = remaining
		}
		v.CurrentTranche++
		v.AlreadyReleased = v.AlreadyReleased.Add(tranche)
		v.RemainingAmount = v.TotalAmount.Sub(v.AlreadyReleased)
		v.NextReleaseTime += v.TrancheDuration
		g.l.royalty[g.account] = g.l.royalty[g.account].Add(tranche)
		return []ledger.Event{{Kind: ledger.EventVestingReleased, Amount: tranche, Tranche: v.CurrentTranche}}, nil
	})
}

// UpdateHoldingProgress checkpoints accrual: holding at or above the
// threshold keeps the clock running, dropping below resets it.
func (g *Gateway) UpdateHoldingProgress(ctx context.Context, badgeTypeID uint64, account common.Address) error {
	return g.write(ctx, "UpdateHoldingProgress", func() ([]ledger.Event, error) {
		bt, ok := g.l.badgeType(badgeTypeID)
		if !ok {
			return nil, rejected("UpdateHoldingProgress", "unknown badge type")
		}
		h := g.l.holdingFor(badgeTypeID, account)
		now := g.l.now()
		if g.l.royalty[account].LessThan(bt.MinHolding) {
			h.accrued, h.since = 0, time.Time{}
			return nil, nil
		}
		h.accrued = g.l.secondsHeld(badgeTypeID, account)
		h.since = now
		return nil, nil
	})
}
