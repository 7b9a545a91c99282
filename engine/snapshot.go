package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"royaltysync/core/badges"
	"royaltysync/core/vesting"
)

// Trigger names the cause of a refresh cycle.
type Trigger string

const (
	TriggerInitial Trigger = "initial"
	TriggerTimer   Trigger = "timer"
	TriggerEvent   Trigger = "event"
	TriggerManual  Trigger = "manual"
	TriggerWrite   Trigger = "write"
)

// Snapshot is one consistent view of ledger state for the session account.
// A published snapshot is never mutated; updates replace it whole.
type Snapshot struct {
	Account           common.Address   `json:"account"`
	RefreshedAt       time.Time        `json:"refreshed_at"`
	Cycle             uint64           `json:"cycle"`
	Badges            badges.State     `json:"badges"`
	Vesting           vesting.Schedule `json:"vesting"`
	VestingApplicable bool             `json:"vesting_applicable"`
	Balance           decimal.Decimal  `json:"balance"`
	PaymentBalance    decimal.Decimal  `json:"payment_balance"`
	Price             decimal.Decimal  `json:"price"`
	PortfolioValue    decimal.Decimal  `json:"portfolio_value"`
	Paused            bool             `json:"paused"`
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return &Snapshot{}
	}
	out := *s
	return &out
}
