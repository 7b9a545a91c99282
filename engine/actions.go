package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"royaltysync/core/amount"
)

// ActionKind names a write the orchestrator can carry.
type ActionKind string

const (
	ActionBuy                 ActionKind = "buy"
	ActionSell                ActionKind = "sell"
	ActionTransfer            ActionKind = "transfer"
	ActionDistributeRoyalties ActionKind = "distribute_royalties"
	ActionUpdatePrice         ActionKind = "update_price"
	ActionMint                ActionKind = "mint"
	ActionPause               ActionKind = "pause"
	ActionUnpause             ActionKind = "unpause"
	ActionCreateBadgeType     ActionKind = "create_badge_type"
	ActionClaimBadge          ActionKind = "claim_badge"
	ActionAwardBadge          ActionKind = "award_badge"
	ActionRevokeBadge         ActionKind = "revoke_badge"
	ActionBurnBadge           ActionKind = "burn_badge"
	ActionReleaseVesting      ActionKind = "release_vesting"
)

// Parameter names accepted by ParseAction and used as draft field suffixes.
const (
	ParamAmount      = "amount"
	ParamTo          = "to"
	ParamPrice       = "price"
	ParamName        = "name"
	ParamMinHolding  = "min_holding"
	ParamDuration    = "duration"
	ParamBadgeTypeID = "badge_type_id"
	ParamTokenID     = "token_id"
)

// ErrInvalidAction reports an unknown action or malformed parameters.
var ErrInvalidAction = errors.New("engine: invalid action")

var actionParams = map[ActionKind][]string{
	ActionBuy:                 {ParamAmount},
	ActionSell:                {ParamAmount},
	ActionTransfer:            {ParamTo, ParamAmount},
	ActionDistributeRoyalties: {ParamAmount},
	ActionUpdatePrice:         {ParamPrice},
	ActionMint:                {ParamTo, ParamAmount},
	ActionPause:               nil,
	ActionUnpause:             nil,
	ActionCreateBadgeType:     {ParamName, ParamMinHolding, ParamDuration},
	ActionClaimBadge:          {ParamBadgeTypeID},
	ActionAwardBadge:          {ParamBadgeTypeID, ParamTo},
	ActionRevokeBadge:         {ParamTokenID},
	ActionBurnBadge:           {ParamTokenID},
	ActionReleaseVesting:      nil,
}

// Actions lists every known action kind in name order.
func Actions() []ActionKind {
	out := make([]ActionKind, 0, len(actionParams))
	for kind := range actionParams {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Params returns the parameter names kind accepts.
func (k ActionKind) Params() []string {
	return append([]string(nil), actionParams[k]...)
}

// Valid reports whether k is a known action.
func (k ActionKind) Valid() bool {
	_, ok := actionParams[k]
	return ok
}

// Action is one fully parsed write request. Only the fields relevant to Kind
// are read.
type Action struct {
	Kind        ActionKind      `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	To          common.Address  `json:"to"`
	Name        string          `json:"name,omitempty"`
	MinHolding  decimal.Decimal `json:"min_holding"`
	Duration    uint64          `json:"duration,omitempty"`
	BadgeTypeID uint64          `json:"badge_type_id,omitempty"`
	TokenID     uint64          `json:"token_id,omitempty"`
}

// ParseAction builds an Action from string parameters. Missing parameters
// fall back to the matching draft field when drafts is non-nil.
func ParseAction(kind string, params map[string]string, drafts *Drafts) (Action, error) {
	k := ActionKind(strings.ToLower(strings.TrimSpace(kind)))
	names, ok := actionParams[k]
	if !ok {
		return Action{}, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, kind)
	}
	lookup := func(name string) (string, bool) {
		if v, ok := params[name]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
		if drafts != nil {
			if v, ok := drafts.Get(DraftField(k, name)); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}

	action := Action{Kind: k}
	for _, name := range names {
		raw, ok := lookup(name)
		if !ok {
			return Action{}, fmt.Errorf("%w: %s requires %s", ErrInvalidAction, k, name)
		}
		var err error
		switch name {
		case ParamAmount, ParamPrice:
			action.Amount, err = amount.Parse(raw)
		case ParamMinHolding:
			action.MinHolding, err = amount.Parse(raw)
		case ParamTo:
			if !common.IsHexAddress(raw) {
				err = fmt.Errorf("not an address: %q", raw)
			} else {
				action.To = common.HexToAddress(raw)
			}
		case ParamName:
			action.Name = NormaliseBadgeName(raw)
		case ParamDuration:
			action.Duration, err = strconv.ParseUint(raw, 10, 64)
		case ParamBadgeTypeID:
			action.BadgeTypeID, err = strconv.ParseUint(raw, 10, 64)
		case ParamTokenID:
			action.TokenID, err = strconv.ParseUint(raw, 10, 64)
		}
		if err != nil {
			return Action{}, fmt.Errorf("%w: %s: %v", ErrInvalidAction, name, err)
		}
	}
	return action, nil
}

// NormaliseBadgeName trims and NFC-normalises a badge type name so visually
// identical names compare equal on the ledger.
func NormaliseBadgeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
