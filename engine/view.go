package engine

import (
	"time"

	"royaltysync/core/activity"
	"royaltysync/core/badges"
	"royaltysync/core/vesting"
	"royaltysync/ledger"
)

// VestingView is the display form of the vesting schedule.
type VestingView struct {
	vesting.Schedule
	Tranche          string  `json:"tranche"`
	TrancheFraction  float64 `json:"tranche_fraction"`
	ReleasedFraction float64 `json:"released_fraction"`
	Countdown        string  `json:"countdown,omitempty"`
	Completed        bool    `json:"completed"`
	CanRelease       bool    `json:"can_release"`
}

// StateView is everything an interface layer renders.
type StateView struct {
	Connected     bool              `json:"connected"`
	Session       string            `json:"session,omitempty"`
	Account       string            `json:"account,omitempty"`
	IsOwner       bool              `json:"is_owner"`
	IsDistributor bool              `json:"is_distributor"`
	Labels        *ledger.TokenInfo `json:"labels,omitempty"`
	Snapshot      *Snapshot         `json:"snapshot,omitempty"`
	Vesting       *VestingView      `json:"vesting,omitempty"`
	Badges        []badges.View     `json:"badges"`
	Busy          bool              `json:"busy"`
	Pending       PendingWrite      `json:"pending"`
	Feedback      *activity.Notice  `json:"feedback,omitempty"`
}

// State assembles the current view. Without a session only the write and
// feedback state is populated.
func (m *Manager) State() StateView {
	view := StateView{
		Busy:    m.orch.Busy(),
		Pending: m.orch.Pending(),
		Badges:  []badges.View{},
	}
	if notice, ok := m.feedback.Current(); ok {
		view.Feedback = &notice
	}
	sess, err := m.Current()
	if err != nil {
		return view
	}
	snap := sess.Snapshot()
	labels := sess.Labels()
	view.Connected = true
	view.Session = sess.ID()
	view.Account = sess.Account().Hex()
	view.IsOwner = sess.IsOwner()
	view.IsDistributor = sess.IsDistributor()
	view.Labels = &labels
	view.Snapshot = snap
	view.Badges = snap.Badges.Views()
	if snap.VestingApplicable {
		view.Vesting = vestingView(snap.Vesting, m.now())
	}
	return view
}

func vestingView(s vesting.Schedule, now time.Time) *VestingView {
	return &VestingView{
		Schedule:         s,
		Tranche:          s.TrancheLabel(),
		TrancheFraction:  s.TrancheFraction(),
		ReleasedFraction: s.ReleasedFraction(),
		Countdown:        s.Countdown(now),
		Completed:        s.Completed(),
		CanRelease:       s.CanRelease(),
	}
}
