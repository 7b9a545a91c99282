package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"royaltysync/core/activity"
	"royaltysync/core/amount"
	"royaltysync/ledger"
	"royaltysync/observability"
)

var defaultLabels = ledger.TokenInfo{
	Royalty: ledger.Token{Name: "Royalty Token", Symbol: "RT"},
	Payment: ledger.Token{Name: "Payment Token", Symbol: "PT"},
	Badge:   ledger.Token{Name: "Badges", Symbol: "BADGE"},
}

// Session is the authenticated binding of one account to the ledger. Role
// flags are fixed at connect and immutable for the session lifetime.
type Session struct {
	id            string
	account       common.Address
	isOwner       bool
	isDistributor bool
	gw            ledger.Gateway
	labels        atomic.Pointer[ledger.TokenInfo]

	log       *activity.Log
	logger    *slog.Logger
	scheduler *Scheduler
	sub       ledger.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	watch  sync.WaitGroup

	mu       sync.RWMutex
	live     bool
	snapshot *Snapshot
}

// ID identifies the session for logs.
func (s *Session) ID() string { return s.id }

// Account is the authenticated address.
func (s *Session) Account() common.Address { return s.account }

// IsOwner reports whether the account owns the royalty ledger.
func (s *Session) IsOwner() bool { return s.isOwner }

// IsDistributor reports whether the account is the configured royalty distributor.
func (s *Session) IsDistributor() bool { return s.isDistributor }

// Gateway returns the ledger gateway bound to the session.
func (s *Session) Gateway() ledger.Gateway { return s.gw }

// Labels returns the token labels current at call time.
func (s *Session) Labels() ledger.TokenInfo {
	if l := s.labels.Load(); l != nil {
		return *l
	}
	return defaultLabels
}

// Live reports whether the session has not been torn down.
func (s *Session) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Snapshot returns the last published snapshot. Callers must not modify it.
func (s *Session) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return &Snapshot{Account: s.account}
	}
	return s.snapshot
}

// Refresh runs a cycle unless one is already in flight.
func (s *Session) Refresh(ctx context.Context, trigger Trigger) bool {
	return s.scheduler.Refresh(ctx, trigger)
}

// publish swaps in snap if the session is still live.
func (s *Session) publish(snap *Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return false
	}
	s.snapshot = snap
	return true
}

// setPaused applies a confirmed pause or unpause without waiting for a cycle.
func (s *Session) setPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return
	}
	next := s.snapshot.clone()
	next.Account = s.account
	next.Paused = paused
	s.snapshot = next
}

// handleEvent logs ev with the labels current at this instant and requests a
// full refresh. It does not block.
func (s *Session) handleEvent(ev ledger.Event) {
	if !s.Live() {
		return
	}
	observability.Events().RecordEvent(string(ev.Kind))
	if msg, category, ok := s.describeEvent(ev); ok {
		s.log.Add(msg, category)
	}
	s.scheduler.Trigger(TriggerEvent)
}

func (s *Session) describeEvent(ev ledger.Event) (string, activity.Category, bool) {
	labels := s.Labels()
	switch ev.Kind {
	case ledger.EventTransfer:
		value := amount.Format(ev.Amount)
		switch {
		case ev.From == (common.Address{}):
			return fmt.Sprintf("Minted %s %s to %s", value, labels.Royalty.Symbol, shortAddress(ev.To)), activity.CategoryTransfer, true
		case ev.To == s.account:
			return fmt.Sprintf("Received %s %s from %s", value, labels.Royalty.Symbol, shortAddress(ev.From)), activity.CategoryTransfer, true
		case ev.From == s.account:
			return fmt.Sprintf("Sent %s %s to %s", value, labels.Royalty.Symbol, shortAddress(ev.To)), activity.CategoryTransfer, true
		}
		return "", "", false
	case ledger.EventRoyaltiesDistributed:
		return fmt.Sprintf("Royalties distributed: %s %s", amount.Format(ev.Amount), labels.Payment.Symbol), activity.CategoryRoyalty, true
	case ledger.EventVestingReleased:
		return fmt.Sprintf("Vesting tranche %d released: %s %s", ev.Tranche, amount.Format(ev.Amount), labels.Royalty.Symbol), activity.CategoryVesting, true
	case ledger.EventBadgeClaimed:
		return fmt.Sprintf("%s badge #%d claimed by %s", s.badgeName(ev.BadgeTypeID), ev.TokenID, shortAddress(ev.To)), activity.CategorySuccess, true
	case ledger.EventBadgeAwarded:
		return fmt.Sprintf("%s badge #%d awarded to %s", s.badgeName(ev.BadgeTypeID), ev.TokenID, shortAddress(ev.To)), activity.CategorySuccess, true
	case ledger.EventBadgeRevoked:
		return fmt.Sprintf("Badge #%d revoked from %s", ev.TokenID, shortAddress(ev.From)), activity.CategoryWarning, true
	}
	return "", "", false
}

func (s *Session) badgeName(typeID uint64) string {
	if bt, ok := s.Snapshot().Badges.Type(typeID); ok && bt.Name != "" {
		return bt.Name
	}
	return fmt.Sprintf("Type %d", typeID)
}

// watchSubscription reports the first subscription failure through lost.
// lost runs on its own goroutine so teardown can always join the watcher.
func (s *Session) watchSubscription(lost func(*Session, error)) {
	s.watch.Add(1)
	go func() {
		defer s.watch.Done()
		select {
		case <-s.ctx.Done():
		case err, ok := <-s.sub.Err():
			if !ok || s.ctx.Err() != nil {
				return
			}
			if err == nil {
				err = fmt.Errorf("event subscription closed")
			}
			go lost(s, err)
		}
	}()
}

// teardown marks the session dead, releases the subscription, stops the
// timer and joins every goroutine the session started.
func (s *Session) teardown() {
	s.mu.Lock()
	wasLive := s.live
	s.live = false
	s.mu.Unlock()
	if !wasLive {
		return
	}
	s.cancel()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.scheduler.Stop()
	s.watch.Wait()
	s.gw.Close()
}

func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	if len(hex) < 12 {
		return hex
	}
	return hex[:6] + "..." + hex[len(hex)-4:]
}
