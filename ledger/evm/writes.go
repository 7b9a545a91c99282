package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"royaltysync/core/amount"
	"royaltysync/ledger"
)

// Approve grants spender an allowance on the payment token.
func (c *Client) Approve(ctx context.Context, spender common.Address, value decimal.Decimal) error {
	units, err := toUnits(value)
	if err != nil {
		return err
	}
	return c.transact(ctx, c.addrs.PaymentToken, c.abis.payment, nil, "approve", spender, units)
}

// Buy purchases royalty tokens from the contract.
func (c *Client) Buy(ctx context.Context, value decimal.Decimal) error {
	units, err := toUnits(value)
	if err != nil {
		return err
	}
	return c.transact(ctx, c.addrs.RoyaltyToken, c.abis.royalty, nil, "buyFromContract", units)
}

// Sell returns royalty tokens to the contract.
func (c *Client) Sell(ctx context.Context, value decimal.Decimal) error {
	units, err := toUnits(value)
	if err != nil {
		return err
	}
	return c.transact(ctx, c.addrs.RoyaltyToken, c.abis.royalty, nil, "sellToContract", units)
}

// Transfer sends payment tokens to another account.
func (c *Client) Transfer(ctx context.Context, to common.Address, value decimal.Decimal) error {
	units, err := toUnits(value)
	if err != nil {
		return err
	}
	return c.transact(ctx, c.addrs.PaymentToken, c.abis.payment, nil, "transfer", to, units)
}

// DistributeRoyalties funds a royalty distribution in payment tokens.
func (c *Client) DistributeRoyalties(ctx context.Context, value decimal.Decimal) error {
	units, err := toUnits(value)
	if err != nil {
		return err
	}
	return c.transact(ctx, c.addrs.RoyaltyToken, c.abis.royalty, nil, "distributeRoyalties", units)
}

// UpdatePrice sets the royalty token price.
func (c *Client) UpdatePrice(ctx context.Context, price decimal.Decimal) error {
	units, err := toUnits(price)
	if err != nil {
		return err
	}
	return c.transact(ctx, c.addrs.RoyaltyToken, c.abis.royalty, nil, "updatePrice", units)
}

// Mint issues new royalty tokens.
func (c *Client) Mint(ctx context.Context, to common.Address, value decimal.Decimal) error {
	units, err := toUnits(value)
	if err != nil {
		return err
	}
	return c.transact(ctx, c.addrs.RoyaltyToken, c.abis.royalty, nil, "mint", to, units)
}

// Pause halts royalty token activity.
func (c *Client) Pause(ctx context.Context) error {
	return c.transact(ctx, c.addrs.RoyaltyToken, c.abis.royalty, nil, "pause")
}

// Unpause resumes royalty token activity.
func (c *Client) Unpause(ctx context.Context) error {
	return c.transact(ctx, c.addrs.RoyaltyToken, c.abis.royalty, nil, "unpause")
}

// ReleaseVesting releases the currently due tranche.
func (c *Client) ReleaseVesting(ctx context.Context) error {
	return c.transact(ctx, c.addrs.RoyaltyToken, c.abis.royalty, ledger.ErrNothingToRelease, "releaseVesting")
}

// CreateBadgeType defines a new badge type.
func (c *Client) CreateBadgeType(ctx context.Context, name string, minHolding decimal.Decimal, duration uint64) error {
	units, err := toUnits(minHolding)
	if err != nil {
		return err
	}
	return c.transact(ctx, c.addrs.BadgeRegistry, c.abis.badge, nil, "createBadgeType", name, units, new(big.Int).SetUint64(duration))
}

// ClaimBadge mints a badge of the given type to the signing account.
func (c *Client) ClaimBadge(ctx context.Context, badgeTypeID uint64) error {
	return c.transact(ctx, c.addrs.BadgeRegistry, c.abis.badge, ledger.ErrNotEligible, "claimBadge", new(big.Int).SetUint64(badgeTypeID))
}

// AwardBadge mints a badge to another account.
func (c *Client) AwardBadge(ctx context.Context, badgeTypeID uint64, to common.Address) error {
	return c.transact(ctx, c.addrs.BadgeRegistry, c.abis.badge, nil, "awardBadgeByAdmin", new(big.Int).SetUint64(badgeTypeID), to)
}

// RevokeBadge removes a badge from its holder.
func (c *Client) RevokeBadge(ctx context.Context, tokenID uint64) error {
	return c.transact(ctx, c.addrs.BadgeRegistry, c.abis.badge, nil, "revokeBadge", new(big.Int).SetUint64(tokenID))
}

// BurnBadge destroys a badge held by the signing account.
func (c *Client) BurnBadge(ctx context.Context, tokenID uint64) error {
	return c.transact(ctx, c.addrs.BadgeRegistry, c.abis.badge, nil, "burn", new(big.Int).SetUint64(tokenID))
}

// UpdateHoldingProgress checkpoints accrued holding time for account.
func (c *Client) UpdateHoldingProgress(ctx context.Context, badgeTypeID uint64, account common.Address) error {
	return c.transact(ctx, c.addrs.BadgeRegistry, c.abis.badge, nil, "updateHoldingProgress", new(big.Int).SetUint64(badgeTypeID), account)
}

func toUnits(value decimal.Decimal) (*big.Int, error) {
	out, err := amount.ToLedgerUnits(value, amount.RoundDown)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", value.String(), err)
	}
	return out, nil
}
