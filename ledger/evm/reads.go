package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"royaltysync/core/amount"
	"royaltysync/core/vesting"
	"royaltysync/ledger"
)

// Balance returns the account's royalty token balance.
func (c *Client) Balance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	return c.readAmount(ctx, c.addrs.RoyaltyToken, c.abis.royalty, "balanceOf", account)
}

// PaymentBalance returns the account's payment token balance.
func (c *Client) PaymentBalance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	return c.readAmount(ctx, c.addrs.PaymentToken, c.abis.payment, "balanceOf", account)
}

// PricePerToken returns the royalty token price in payment token.
func (c *Client) PricePerToken(ctx context.Context) (decimal.Decimal, error) {
	return c.readAmount(ctx, c.addrs.RoyaltyToken, c.abis.royalty, "viewPricePerToken")
}

// Allowance returns the payment token allowance owner granted spender.
func (c *Client) Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	return c.readAmount(ctx, c.addrs.PaymentToken, c.abis.payment, "allowance", owner, spender)
}

// IsPaused mirrors the royalty ledger pause flag.
func (c *Client) IsPaused(ctx context.Context) (bool, error) {
	values, err := c.call(ctx, c.addrs.RoyaltyToken, c.abis.royalty, "paused")
	if err != nil {
		return false, err
	}
	return asBool(values, 0)
}

// Owner returns the royalty ledger owner.
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	values, err := c.call(ctx, c.addrs.RoyaltyToken, c.abis.royalty, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values, 0)
}

// TokenInfo reads the names and symbols of all three ledgers.
func (c *Client) TokenInfo(ctx context.Context) (ledger.TokenInfo, error) {
	var (
		info ledger.TokenInfo
		err  error
	)
	if info.Royalty, err = c.token(ctx, c.addrs.RoyaltyToken, c.abis.royalty); err != nil {
		return info, fmt.Errorf("royalty token: %w", err)
	}
	if info.Payment, err = c.token(ctx, c.addrs.PaymentToken, c.abis.payment); err != nil {
		return info, fmt.Errorf("payment token: %w", err)
	}
	if info.Badge, err = c.token(ctx, c.addrs.BadgeRegistry, c.abis.badge); err != nil {
		return info, fmt.Errorf("badge registry: %w", err)
	}
	return info, nil
}

func (c *Client) token(ctx context.Context, addr common.Address, contract abi.ABI) (ledger.Token, error) {
	nameValues, err := c.call(ctx, addr, contract, "name")
	if err != nil {
		return ledger.Token{}, err
	}
	symbolValues, err := c.call(ctx, addr, contract, "symbol")
	if err != nil {
		return ledger.Token{}, err
	}
	name, err := asString(nameValues, 0)
	if err != nil {
		return ledger.Token{}, err
	}
	symbol, err := asString(symbolValues, 0)
	if err != nil {
		return ledger.Token{}, err
	}
	return ledger.Token{Name: name, Symbol: symbol}, nil
}

// VestingInfo reads the raw vesting tuple.
func (c *Client) VestingInfo(ctx context.Context) (vesting.Raw, error) {
	values, err := c.call(ctx, c.addrs.RoyaltyToken, c.abis.royalty, "getVestingInfo")
	if err != nil {
		return vesting.Raw{}, err
	}
	if len(values) < 9 {
		return vesting.Raw{}, fmt.Errorf("getVestingInfo: expected 9 values, got %d", len(values))
	}
	ints := make([]*big.Int, 9)
	for i := range ints {
		if ints[i], err = asBig(values, i); err != nil {
			return vesting.Raw{}, fmt.Errorf("getVestingInfo: %w", err)
		}
	}
	return vesting.Raw{
		TotalAmount:     amount.ToDisplay(ints[0]),
		StartTime:       ints[1].Int64(),
		TotalDuration:   ints[2].Int64(),
		TotalTranches:   ints[3].Uint64(),
		CurrentTranche:  ints[4].Uint64(),
		TrancheDuration: ints[5].Int64(),
		AlreadyReleased: amount.ToDisplay(ints[6]),
		RemainingAmount: amount.ToDisplay(ints[7]),
		NextReleaseTime: ints[8].Int64(),
	}, nil
}

// BadgeTypeCount returns the number of badge types defined on the registry.
func (c *Client) BadgeTypeCount(ctx context.Context) (uint64, error) {
	values, err := c.call(ctx, c.addrs.BadgeRegistry, c.abis.badge, "badgeTypeCount")
	if err != nil {
		return 0, err
	}
	count, err := asBig(values, 0)
	if err != nil {
		return 0, err
	}
	return count.Uint64(), nil
}

// BadgeType reads one badge type definition.
func (c *Client) BadgeType(ctx context.Context, id uint64) (ledger.BadgeType, error) {
	values, err := c.call(ctx, c.addrs.BadgeRegistry, c.abis.badge, "getBadgeType", new(big.Int).SetUint64(id))
	if err != nil {
		return ledger.BadgeType{}, err
	}
	name, err := asString(values, 0)
	if err != nil {
		return ledger.BadgeType{}, err
	}
	minHolding, err := asBig(values, 1)
	if err != nil {
		return ledger.BadgeType{}, err
	}
	duration, err := asBig(values, 2)
	if err != nil {
		return ledger.BadgeType{}, err
	}
	active, err := asBool(values, 3)
	if err != nil {
		return ledger.BadgeType{}, err
	}
	return ledger.BadgeType{
		ID:              id,
		Name:            name,
		MinHolding:      amount.ToDisplay(minHolding),
		HoldingDuration: duration.Uint64(),
		Active:          active,
	}, nil
}

// OwnerOfBadge returns the holder of tokenID or ledger.ErrNotFound.
func (c *Client) OwnerOfBadge(ctx context.Context, tokenID uint64) (common.Address, error) {
	values, err := c.call(ctx, c.addrs.BadgeRegistry, c.abis.badge, "ownerOf", new(big.Int).SetUint64(tokenID))
	if err != nil {
		if errors.Is(err, errReverted) {
			return common.Address{}, fmt.Errorf("badge token %d: %w", tokenID, ledger.ErrNotFound)
		}
		return common.Address{}, err
	}
	return asAddress(values, 0)
}

// BadgeTypeOf returns the badge type of tokenID.
func (c *Client) BadgeTypeOf(ctx context.Context, tokenID uint64) (uint64, error) {
	values, err := c.call(ctx, c.addrs.BadgeRegistry, c.abis.badge, "tokenIdToBadgeType", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return 0, err
	}
	typeID, err := asBig(values, 0)
	if err != nil {
		return 0, err
	}
	return typeID.Uint64(), nil
}

// SecondsHeld returns the accrued holding seconds recorded for account.
func (c *Client) SecondsHeld(ctx context.Context, badgeTypeID uint64, account common.Address) (uint64, error) {
	values, err := c.call(ctx, c.addrs.BadgeRegistry, c.abis.badge, "secondsHeldSoFar", new(big.Int).SetUint64(badgeTypeID), account)
	if err != nil {
		return 0, err
	}
	seconds, err := asBig(values, 0)
	if err != nil {
		return 0, err
	}
	return seconds.Uint64(), nil
}

func (c *Client) readAmount(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) (decimal.Decimal, error) {
	values, err := c.call(ctx, to, contract, method, args...)
	if err != nil {
		return decimal.Zero, err
	}
	units, err := asBig(values, 0)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", method, err)
	}
	return amount.ToDisplay(units), nil
}

func asBig(values []interface{}, idx int) (*big.Int, error) {
	if idx >= len(values) {
		return nil, fmt.Errorf("missing output %d", idx)
	}
	v, ok := values[idx].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("output %d: expected uint256, got %T", idx, values[idx])
	}
	return v, nil
}

func asBool(values []interface{}, idx int) (bool, error) {
	if idx >= len(values) {
		return false, fmt.Errorf("missing output %d", idx)
	}
	v, ok := values[idx].(bool)
	if !ok {
		return false, fmt.Errorf("output %d: expected bool, got %T", idx, values[idx])
	}
	return v, nil
}

func asAddress(values []interface{}, idx int) (common.Address, error) {
	if idx >= len(values) {
		return common.Address{}, fmt.Errorf("missing output %d", idx)
	}
	v, ok := values[idx].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output %d: expected address, got %T", idx, values[idx])
	}
	return v, nil
}

func asString(values []interface{}, idx int) (string, error) {
	if idx >= len(values) {
		return "", fmt.Errorf("missing output %d", idx)
	}
	v, ok := values[idx].(string)
	if !ok {
		return "", fmt.Errorf("output %d: expected string, got %T", idx, values[idx])
	}
	return v, nil
}
