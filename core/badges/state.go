package badges

import "royaltysync/ledger"

// State is the badge portion of a snapshot. It is never mutated after a
// collection pass returns it.
type State struct {
	Types    []ledger.BadgeType `json:"types"`
	Owned    []UserBadge        `json:"owned"`
	Progress map[uint64]uint64  `json:"progress"`
}

// Type returns the badge type with id.
func (s State) Type(id uint64) (ledger.BadgeType, bool) {
	for _, bt := range s.Types {
		if bt.ID == id {
			return bt, true
		}
	}
	return ledger.BadgeType{}, false
}

// TokenOf returns the token id the account holds for typeID.
func (s State) TokenOf(typeID uint64) (uint64, bool) {
	for _, b := range s.Owned {
		if b.BadgeTypeID == typeID {
			return b.TokenID, true
		}
	}
	return 0, false
}

// Owns reports whether the account holds a badge of typeID.
func (s State) Owns(typeID uint64) bool {
	_, ok := s.TokenOf(typeID)
	return ok
}

// Claimable reports whether accrued progress meets the holding duration for a
// type the account does not yet own.
func (s State) Claimable(typeID uint64) bool {
	bt, ok := s.Type(typeID)
	if !ok || !bt.Active || s.Owns(typeID) {
		return false
	}
	return s.Progress[typeID] >= bt.HoldingDuration
}

// Status classifies typeID.
func (s State) Status(typeID uint64) Status {
	switch {
	case s.Owns(typeID):
		return StatusOwned
	case s.Claimable(typeID):
		return StatusClaimable
	default:
		return StatusInProgress
	}
}

// Percent is the accrued share of the holding duration, capped at 100.
func (s State) Percent(typeID uint64) float64 {
	bt, ok := s.Type(typeID)
	if !ok {
		return 0
	}
	if bt.HoldingDuration == 0 {
		return 100
	}
	pct := float64(s.Progress[typeID]) / float64(bt.HoldingDuration) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// View is a display row for one badge type.
type View struct {
	ledger.BadgeType
	Status   Status  `json:"status"`
	Progress uint64  `json:"progress"`
	Percent  float64 `json:"percent"`
	TokenID  uint64  `json:"token_id,omitempty"`
}

// Views renders every known type in id order.
func (s State) Views() []View {
	out := make([]View, 0, len(s.Types))
	for _, bt := range s.Types {
		tokenID, _ := s.TokenOf(bt.ID)
		out = append(out, View{
			BadgeType: bt,
			Status:    s.Status(bt.ID),
			Progress:  s.Progress[bt.ID],
			Percent:   s.Percent(bt.ID),
			TokenID:   tokenID,
		})
	}
	return out
}
