package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EventKind names a ledger event type.
type EventKind string

const (
	EventTransfer             EventKind = "transfer"
	EventRoyaltiesDistributed EventKind = "royalties_distributed"
	EventVestingReleased      EventKind = "vesting_released"
	EventBadgeClaimed         EventKind = "badge_claimed"
	EventBadgeAwarded         EventKind = "badge_awarded"
	EventBadgeRevoked         EventKind = "badge_revoked"
)

// Event is a decoded ledger notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind        EventKind
	From        common.Address
	To          common.Address
	Amount      decimal.Decimal
	Tranche     uint64
	BadgeTypeID uint64
	TokenID     uint64
	BlockNumber uint64
	TxHash      common.Hash
}
