package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"royaltysync/core/activity"
	"royaltysync/core/vesting"
	"royaltysync/ledger"
	"royaltysync/ledger/ledgertest"
)

var (
	ownerAddr       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	holderAddr      = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	distributorAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	otherAddr       = common.HexToAddress("0x00000000000000000000000000000000000000a4")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t       *testing.T
	ledger  *ledgertest.Ledger
	clock   *fakeClock
	manager *Manager

	mu      sync.Mutex
	account common.Address
}

func newHarness(t *testing.T, account common.Address, mutate ...func(*Config)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	h := &harness{
		t:       t,
		ledger:  ledgertest.New(ownerAddr, ledgertest.WithClock(clock.Now)),
		clock:   clock,
		account: account,
	}
	cfg := Config{
		Distributor:       strings.ToLower(distributorAddr.Hex()),
		PollInterval:      time.Hour,
		AccrualCheckpoint: true,
		FeedbackTTL:       time.Minute,
		Clock:             clock.Now,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := NewManager(cfg, func(ctx context.Context) (ledger.Gateway, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.ledger.Gateway(h.account), nil
	})
	require.NoError(t, err)
	h.manager = m
	t.Cleanup(m.Close)
	return h
}

func (h *harness) switchAccount(account common.Address) {
	h.mu.Lock()
	h.account = account
	h.mu.Unlock()
}

func (h *harness) connect() *Session {
	h.t.Helper()
	sess, err := h.manager.Connect(context.Background())
	require.NoError(h.t, err)
	return sess
}

// blockWrite makes the first call of method wait until the returned release
// func is called. entered is signalled when the call arrives.
func (h *harness) blockWrite(method string) (entered <-chan struct{}, release func()) {
	in := make(chan struct{}, 1)
	gate := make(chan struct{})
	var once sync.Once
	h.ledger.OnWrite(func(m string) {
		if m != method {
			return
		}
		select {
		case in <- struct{}{}:
		default:
		}
		<-gate
	})
	return in, func() { once.Do(func() { close(gate) }) }
}

func messages(entries []activity.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func indexOf(calls []string, method string) int {
	for i, c := range calls {
		if c == method {
			return i
		}
	}
	return -1
}

func scenarioVesting(t0 int64) vesting.Raw {
	return vesting.Raw{
		TotalAmount:     decimal.NewFromInt(10000),
		StartTime:       t0,
		TotalDuration:   31536000,
		TotalTranches:   4,
		CurrentTranche:  2,
		TrancheDuration: 7884000,
		AlreadyReleased: decimal.NewFromInt(5000),
		RemainingAmount: decimal.NewFromInt(5000),
		NextReleaseTime: t0 + 15768000,
	}
}

func TestConnectPublishesInitialSnapshot(t *testing.T) {
	h := newHarness(t, ownerAddr)
	t0 := h.clock.Now().Unix()
	h.ledger.SetBalance(ownerAddr, decimal.NewFromInt(150))
	h.ledger.SetPaymentBalance(ownerAddr, decimal.NewFromInt(40))
	h.ledger.SetPrice(decimal.NewFromInt(2))
	h.ledger.SetVesting(scenarioVesting(t0))
	h.ledger.AddBadgeType("Gold", decimal.NewFromInt(100), 3600)

	sess := h.connect()
	require.True(t, sess.IsOwner())
	require.False(t, sess.IsDistributor())

	snap := sess.Snapshot()
	require.Equal(t, uint64(1), snap.Cycle)
	require.True(t, snap.Balance.Equal(decimal.NewFromInt(150)))
	require.True(t, snap.PortfolioValue.Equal(decimal.NewFromInt(300)))
	require.True(t, snap.VestingApplicable)
	require.Len(t, snap.Badges.Types, 1)

	view := h.manager.State()
	require.True(t, view.Connected)
	require.NotNil(t, view.Vesting)
	require.Equal(t, "2/4", view.Vesting.Tranche)
	require.True(t, view.Vesting.RemainingAmount.Equal(decimal.NewFromInt(5000)))
	require.NotEqual(t, vesting.Ready, view.Vesting.Countdown)
	require.Len(t, view.Badges, 1)

	log := messages(h.manager.Log().Entries())
	require.Contains(t, log, "Owner access enabled")
	require.Contains(t, log, "Wallet connected: "+shortAddress(ownerAddr))
}

func TestDistributorRoleComparesCaseInsensitively(t *testing.T) {
	h := newHarness(t, distributorAddr)
	sess := h.connect()
	require.True(t, sess.IsDistributor())
	require.False(t, sess.IsOwner())
	require.Contains(t, messages(h.manager.Log().Entries()), "Distributor access enabled")
}

func TestRefreshIsSingleFlight(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.ledger.AddBadgeType("Gold", decimal.NewFromInt(10), 3600)
	h.ledger.SetBalance(holderAddr, decimal.NewFromInt(100))
	sess := h.connect()

	entered, release := h.blockWrite("UpdateHoldingProgress")
	defer release()
	done := make(chan bool, 1)
	go func() { done <- sess.Refresh(context.Background(), TriggerManual) }()
	<-entered
	base := h.ledger.CallCount("BadgeTypeCount")

	const triggers = 16
	var wg sync.WaitGroup
	results := make(chan bool, triggers)
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- sess.Refresh(context.Background(), TriggerEvent)
		}()
	}
	wg.Wait()
	close(results)
	for ran := range results {
		require.False(t, ran, "overlapping trigger must not start a cycle")
	}

	release()
	require.True(t, <-done)
	require.Equal(t, base, h.ledger.CallCount("BadgeTypeCount"))
	require.False(t, sess.scheduler.Running())
	require.Equal(t, uint64(2), sess.Snapshot().Cycle)
}

func TestAbsorbedWriteRefreshRerunsOnce(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.ledger.AddBadgeType("Gold", decimal.NewFromInt(10), 3600)
	h.ledger.SetBalance(holderAddr, decimal.NewFromInt(100))
	sess := h.connect()

	entered, release := h.blockWrite("UpdateHoldingProgress")
	defer release()
	done := make(chan bool, 1)
	go func() { done <- sess.Refresh(context.Background(), TriggerManual) }()
	<-entered
	require.False(t, sess.Refresh(context.Background(), TriggerWrite))
	require.False(t, sess.Refresh(context.Background(), TriggerWrite))

	release()
	require.True(t, <-done)
	require.False(t, sess.scheduler.Running())
	require.Equal(t, uint64(3), sess.Snapshot().Cycle)
}

func TestBuyApprovesBeforeSpend(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.ledger.SetPaymentBalance(holderAddr, decimal.NewFromInt(1000))
	sess := h.connect()
	h.ledger.ResetCalls()

	err := h.manager.Execute(context.Background(), Action{Kind: ActionBuy, Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)

	calls := h.ledger.Calls()
	approve, buy := indexOf(calls, "Approve"), indexOf(calls, "Buy")
	require.GreaterOrEqual(t, approve, 0)
	require.Greater(t, buy, approve)
	require.Less(t, indexOf(calls, "Allowance"), approve)
	require.True(t, h.ledger.BalanceOf(holderAddr).Equal(decimal.NewFromInt(500)))

	require.Eventually(t, func() bool {
		return sess.Snapshot().Balance.Equal(decimal.NewFromInt(500))
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, PendingConfirmed, h.manager.Orchestrator().Pending().State)
	notice, ok := h.manager.Feedback().Current()
	require.True(t, ok)
	require.Equal(t, activity.FeedbackSuccess, notice.Kind)
}

func TestBuySkipsApprovalWhenAllowanceSuffices(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.ledger.SetPaymentBalance(holderAddr, decimal.NewFromInt(1000))
	h.ledger.SetAllowance(holderAddr, ledgertest.RoyaltyLedgerAddress, decimal.NewFromInt(500))
	h.connect()

	require.NoError(t, h.manager.Execute(context.Background(), Action{Kind: ActionBuy, Amount: decimal.NewFromInt(500)}))
	require.Zero(t, h.ledger.CallCount("Approve"))
	require.Equal(t, 1, h.ledger.CallCount("Buy"))
}

func TestDistributeRoyaltiesRoundsUpAndApproves(t *testing.T) {
	h := newHarness(t, distributorAddr)
	h.ledger.SetPaymentBalance(distributorAddr, decimal.NewFromInt(1000))
	h.connect()

	require.NoError(t, h.manager.Execute(context.Background(), Action{Kind: ActionDistributeRoyalties, Amount: decimal.RequireFromString("10.001")}))
	require.True(t, h.ledger.PaymentBalanceOf(distributorAddr).Equal(decimal.RequireFromString("989.99")))
	calls := h.ledger.Calls()
	require.Less(t, indexOf(calls, "Approve"), indexOf(calls, "DistributeRoyalties"))
}

func TestConcurrentExecuteIsBusy(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.ledger.SetPaymentBalance(holderAddr, decimal.NewFromInt(1000))
	h.connect()
	orch := h.manager.Orchestrator()

	entered, release := h.blockWrite("Buy")
	defer release()
	done := make(chan error, 1)
	go func() {
		done <- h.manager.Execute(context.Background(), Action{Kind: ActionBuy, Amount: decimal.NewFromInt(5)})
	}()
	<-entered
	require.True(t, orch.Busy())
	require.Equal(t, PendingSubmitted, orch.Pending().State)

	err := h.manager.Execute(context.Background(), Action{Kind: ActionSell, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrBusy)

	release()
	require.NoError(t, <-done)
	require.False(t, orch.Busy())
	h.ledger.OnWrite(nil)
	require.NoError(t, h.manager.Execute(context.Background(), Action{Kind: ActionBuy, Amount: decimal.NewFromInt(1)}))
}

func TestFailedWriteReleasesBusyAndKeepsDrafts(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.ledger.SetPaymentBalance(holderAddr, decimal.NewFromInt(1000))
	h.connect()
	orch := h.manager.Orchestrator()
	require.NoError(t, orch.Drafts().Set("buy.amount", "5"))

	rejection := fmt.Errorf("Buy: %w", ledger.ErrWriteRejected)
	h.ledger.Fail("Buy", rejection)
	action, err := ParseAction("buy", nil, orch.Drafts())
	require.NoError(t, err)
	err = h.manager.Execute(context.Background(), action)
	require.ErrorIs(t, err, ledger.ErrWriteRejected)
	require.False(t, orch.Busy())
	require.Equal(t, PendingFailed, orch.Pending().State)
	require.Equal(t, activity.CategoryError, h.manager.Log().Entries()[0].Category)
	v, ok := orch.Drafts().Get("buy.amount")
	require.True(t, ok)
	require.Equal(t, "5", v)
	// The approval from the failed attempt stays in place.
	require.True(t, h.ledger.AllowanceOf(holderAddr, ledgertest.RoyaltyLedgerAddress).Equal(decimal.NewFromInt(5)))

	h.ledger.Fail("Buy", nil)
	require.NoError(t, h.manager.Execute(context.Background(), action))
	_, ok = orch.Drafts().Get("buy.amount")
	require.False(t, ok)
}

func TestPreflightRejectsDoomedWrites(t *testing.T) {
	cases := []struct {
		name    string
		account common.Address
		setup   func(*ledgertest.Ledger)
		action  Action
		want    error
		method  string
	}{
		{name: "sell above balance", account: holderAddr, action: Action{Kind: ActionSell, Amount: decimal.NewFromInt(5)}, want: ErrPreflight, method: "Sell"},
		{name: "transfer above balance", account: holderAddr, action: Action{Kind: ActionTransfer, To: otherAddr, Amount: decimal.NewFromInt(5)}, want: ErrPreflight, method: "Transfer"},
		{name: "zero buy", account: holderAddr, action: Action{Kind: ActionBuy, Amount: decimal.Zero}, want: ErrPreflight, method: "Buy"},
		{name: "negative transfer", account: holderAddr, action: Action{Kind: ActionTransfer, To: otherAddr, Amount: decimal.NewFromInt(-1)}, want: ErrPreflight, method: "Transfer"},
		{name: "price without owner", account: holderAddr, action: Action{Kind: ActionUpdatePrice, Amount: decimal.NewFromInt(3)}, want: ErrUnauthorized, method: "UpdatePrice"},
		{name: "pause without owner", account: holderAddr, action: Action{Kind: ActionPause}, want: ErrUnauthorized, method: "Pause"},
		{name: "royalties without distributor", account: ownerAddr, action: Action{Kind: ActionDistributeRoyalties, Amount: decimal.NewFromInt(5)}, want: ErrUnauthorized, method: "DistributeRoyalties"},
		{name: "claim not claimable", account: holderAddr, setup: func(l *ledgertest.Ledger) {
			l.AddBadgeType("Gold", decimal.NewFromInt(10), 3600)
		}, action: Action{Kind: ActionClaimBadge, BadgeTypeID: 1}, want: ErrPreflight, method: "ClaimBadge"},
		{name: "release in terminal state", account: ownerAddr, setup: func(l *ledgertest.Ledger) {
			raw := scenarioVesting(0)
			raw.CurrentTranche = 4
			l.SetVesting(raw)
		}, action: Action{Kind: ActionReleaseVesting}, want: ErrPreflight, method: "ReleaseVesting"},
		{name: "release without schedule", account: ownerAddr, action: Action{Kind: ActionReleaseVesting}, want: ErrPreflight, method: "ReleaseVesting"},
		{name: "buy while paused", account: holderAddr, setup: func(l *ledgertest.Ledger) {
			l.SetPaymentBalance(holderAddr, decimal.NewFromInt(1000))
			l.SetPaused(true)
		}, action: Action{Kind: ActionBuy, Amount: decimal.NewFromInt(5)}, want: ErrPreflight, method: "Approve"},
		{name: "sell while paused", account: holderAddr, setup: func(l *ledgertest.Ledger) {
			l.SetBalance(holderAddr, decimal.NewFromInt(50))
			l.SetPaused(true)
		}, action: Action{Kind: ActionSell, Amount: decimal.NewFromInt(5)}, want: ErrPreflight, method: "Sell"},
		{name: "pause while paused", account: ownerAddr, setup: func(l *ledgertest.Ledger) {
			l.SetPaused(true)
		}, action: Action{Kind: ActionPause}, want: ErrPreflight, method: "Pause"},
		{name: "unpause while trading", account: ownerAddr, action: Action{Kind: ActionUnpause}, want: ErrPreflight, method: "Unpause"},
		{name: "buy above payment balance", account: holderAddr, setup: func(l *ledgertest.Ledger) {
			l.SetPaymentBalance(holderAddr, decimal.NewFromInt(10))
		}, action: Action{Kind: ActionBuy, Amount: decimal.NewFromInt(500)}, want: ErrPreflight, method: "Approve"},
		{name: "royalties above payment balance", account: distributorAddr, setup: func(l *ledgertest.Ledger) {
			l.SetPaymentBalance(distributorAddr, decimal.NewFromInt(10))
		}, action: Action{Kind: ActionDistributeRoyalties, Amount: decimal.NewFromInt(500)}, want: ErrPreflight, method: "Approve"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.account)
			if tc.setup != nil {
				tc.setup(h.ledger)
			}
			h.connect()
			err := h.manager.Execute(context.Background(), tc.action)
			require.ErrorIs(t, err, tc.want)
			require.Zero(t, h.ledger.CallCount(tc.method))
			require.True(t, h.ledger.AllowanceOf(tc.account, ledgertest.RoyaltyLedgerAddress).IsZero())
			require.False(t, h.manager.Orchestrator().Busy())
			notice, ok := h.manager.Feedback().Current()
			require.True(t, ok)
			require.Equal(t, activity.FeedbackError, notice.Kind)
		})
	}
}

func TestExecuteWithoutSession(t *testing.T) {
	h := newHarness(t, holderAddr)
	err := h.manager.Execute(context.Background(), Action{Kind: ActionPause})
	require.ErrorIs(t, err, ErrNoSession)
	require.False(t, h.manager.Orchestrator().Busy())
}

func TestClaimAfterHoldingPeriod(t *testing.T) {
	h := newHarness(t, holderAddr)
	id := h.ledger.AddBadgeType("Gold", decimal.NewFromInt(100), 3600)
	h.ledger.SetBalance(holderAddr, decimal.NewFromInt(100))
	sess := h.connect()
	require.False(t, sess.Snapshot().Badges.Claimable(id))

	h.clock.Advance(3601 * time.Second)
	ran, err := h.manager.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	require.True(t, sess.Snapshot().Badges.Claimable(id))

	require.NoError(t, h.manager.Execute(context.Background(), Action{Kind: ActionClaimBadge, BadgeTypeID: id}))
	holder, ok := h.ledger.HolderOf(1)
	require.True(t, ok)
	require.Equal(t, holderAddr, holder)
	require.Eventually(t, func() bool {
		return sess.Snapshot().Badges.Owns(id)
	}, time.Second, 5*time.Millisecond)
}

func TestPauseUpdatesFlagImmediately(t *testing.T) {
	h := newHarness(t, ownerAddr)
	sess := h.connect()
	require.False(t, sess.Snapshot().Paused)
	require.NoError(t, h.manager.Execute(context.Background(), Action{Kind: ActionPause}))
	require.True(t, sess.Snapshot().Paused)
	require.True(t, h.ledger.Paused())
}

func TestVestingReleaseReadsFreshSchedule(t *testing.T) {
	h := newHarness(t, ownerAddr)
	t0 := h.clock.Now().Unix() - 15768000
	h.ledger.SetVesting(scenarioVesting(t0))
	sess := h.connect()

	require.NoError(t, h.manager.Execute(context.Background(), Action{Kind: ActionReleaseVesting}))
	require.True(t, h.ledger.BalanceOf(ownerAddr).Equal(decimal.NewFromInt(2500)))
	require.Eventually(t, func() bool {
		return sess.Snapshot().Vesting.CurrentTranche == 3
	}, time.Second, 5*time.Millisecond)
}

func TestEventLogsWithLabelsAtFormatTime(t *testing.T) {
	h := newHarness(t, holderAddr)
	sess := h.connect()

	h.ledger.Emit(ledger.Event{Kind: ledger.EventTransfer, From: otherAddr, To: holderAddr, Amount: decimal.NewFromInt(7)})
	sess.labels.Store(&ledger.TokenInfo{Royalty: ledger.Token{Name: "Renamed", Symbol: "NEW"}})
	h.ledger.Emit(ledger.Event{Kind: ledger.EventTransfer, From: holderAddr, To: otherAddr, Amount: decimal.NewFromInt(2)})

	entries := h.manager.Log().Entries()
	require.Equal(t, "Sent 2.00 NEW to "+shortAddress(otherAddr), entries[0].Message)
	require.Equal(t, "Received 7.00 RYL from "+shortAddress(otherAddr), entries[1].Message)
	require.Equal(t, activity.CategoryTransfer, entries[0].Category)

	require.Eventually(t, func() bool { return sess.Snapshot().Cycle >= 2 }, time.Second, 5*time.Millisecond)
}

func TestEveryEventKindLogsAndRefreshes(t *testing.T) {
	var zero common.Address
	cases := []struct {
		name     string
		event    ledger.Event
		message  string
		category activity.Category
	}{
		{"mint", ledger.Event{Kind: ledger.EventTransfer, From: zero, To: otherAddr, Amount: decimal.NewFromInt(3)},
			"Minted 3.00 RYL to " + shortAddress(otherAddr), activity.CategoryTransfer},
		{"incoming transfer", ledger.Event{Kind: ledger.EventTransfer, From: otherAddr, To: holderAddr, Amount: decimal.NewFromInt(4)},
			"Received 4.00 RYL from " + shortAddress(otherAddr), activity.CategoryTransfer},
		{"outgoing transfer", ledger.Event{Kind: ledger.EventTransfer, From: holderAddr, To: otherAddr, Amount: decimal.NewFromInt(1)},
			"Sent 1.00 RYL to " + shortAddress(otherAddr), activity.CategoryTransfer},
		{"royalties", ledger.Event{Kind: ledger.EventRoyaltiesDistributed, From: distributorAddr, Amount: decimal.NewFromInt(250)},
			"Royalties distributed: 250.00 PAY", activity.CategoryRoyalty},
		{"vesting", ledger.Event{Kind: ledger.EventVestingReleased, To: ownerAddr, Tranche: 2, Amount: decimal.NewFromInt(1250)},
			"Vesting tranche 2 released: 1250.00 RYL", activity.CategoryVesting},
		{"badge claimed", ledger.Event{Kind: ledger.EventBadgeClaimed, To: holderAddr, BadgeTypeID: 1, TokenID: 7},
			"Gold badge #7 claimed by " + shortAddress(holderAddr), activity.CategorySuccess},
		{"badge awarded", ledger.Event{Kind: ledger.EventBadgeAwarded, To: otherAddr, BadgeTypeID: 9, TokenID: 8},
			"Type 9 badge #8 awarded to " + shortAddress(otherAddr), activity.CategorySuccess},
		{"badge revoked", ledger.Event{Kind: ledger.EventBadgeRevoked, From: holderAddr, BadgeTypeID: 1, TokenID: 7},
			"Badge #7 revoked from " + shortAddress(holderAddr), activity.CategoryWarning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, holderAddr)
			h.ledger.AddBadgeType("Gold", decimal.NewFromInt(10), 3600)
			sess := h.connect()
			before := sess.Snapshot().Cycle

			h.ledger.Emit(tc.event)
			entries := h.manager.Log().Entries()
			require.NotEmpty(t, entries)
			require.Equal(t, tc.message, entries[0].Message)
			require.Equal(t, tc.category, entries[0].Category)
			require.Eventually(t, func() bool { return sess.Snapshot().Cycle > before }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestUnrelatedTransfersAreNotLogged(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.connect()
	before := h.manager.Log().Len()
	h.ledger.Emit(ledger.Event{Kind: ledger.EventTransfer, From: otherAddr, To: ownerAddr, Amount: decimal.NewFromInt(1)})
	require.Equal(t, before, h.manager.Log().Len())
}

func TestSubscriptionFailureEndsSession(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.connect()
	h.ledger.FailSubscriptions(errors.New("websocket closed"))

	require.Eventually(t, func() bool {
		_, err := h.manager.Current()
		return errors.Is(err, ErrNoSession)
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.ledger.Closed() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, h.ledger.Subscribers())
	entry := h.manager.Log().Entries()[0]
	require.Equal(t, activity.CategoryError, entry.Category)
	require.Contains(t, entry.Message, "Connection lost")
}

func TestDisconnectStopsTimer(t *testing.T) {
	h := newHarness(t, holderAddr, func(c *Config) { c.PollInterval = 5 * time.Millisecond })
	sess := h.connect()
	require.Eventually(t, func() bool { return sess.Snapshot().Cycle >= 3 }, time.Second, time.Millisecond)

	h.manager.Disconnect()
	require.Zero(t, h.ledger.Subscribers())
	count := h.ledger.CallCount("BadgeTypeCount")
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, count, h.ledger.CallCount("BadgeTypeCount"))
	require.False(t, sess.Live())
	require.Equal(t, 1, h.ledger.Closed())
}

func TestCycleFinishingAfterTeardownIsDropped(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.ledger.AddBadgeType("Gold", decimal.NewFromInt(10), 3600)
	h.ledger.SetBalance(holderAddr, decimal.NewFromInt(100))
	sess := h.connect()
	published := sess.Snapshot()

	entered, release := h.blockWrite("UpdateHoldingProgress")
	defer release()
	done := make(chan bool, 1)
	go func() { done <- sess.Refresh(context.Background(), TriggerManual) }()
	<-entered
	disconnected := make(chan struct{})
	go func() {
		h.manager.Disconnect()
		close(disconnected)
	}()
	require.Eventually(t, func() bool { return !sess.Live() }, time.Second, time.Millisecond)
	// The gateway stays open until the in-flight cycle returns.
	require.Never(t, func() bool { return h.ledger.Closed() > 0 }, 30*time.Millisecond, 5*time.Millisecond)

	release()
	require.True(t, <-done)
	<-disconnected
	require.Equal(t, 1, h.ledger.Closed())
	require.Same(t, published, sess.Snapshot())
	require.False(t, sess.Refresh(context.Background(), TriggerManual))
}

func TestAccountSwitchReplacesSession(t *testing.T) {
	h := newHarness(t, holderAddr)
	first := h.connect()
	h.switchAccount(ownerAddr)
	second := h.connect()

	require.False(t, first.Live())
	require.True(t, second.Live())
	require.True(t, second.IsOwner())
	require.Equal(t, 1, h.ledger.Subscribers())
	require.Equal(t, 1, h.ledger.Closed())
	current, err := h.manager.Current()
	require.NoError(t, err)
	require.Same(t, second, current)
}

func TestConnectFailureIsReported(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.ledger.Fail("Owner", errors.New("rpc unavailable"))
	_, err := h.manager.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, activity.CategoryError, h.manager.Log().Entries()[0].Category)
	require.Equal(t, 1, h.ledger.Closed())
	_, err = h.manager.Current()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestReadFailureZeroesFieldOnly(t *testing.T) {
	h := newHarness(t, holderAddr)
	h.ledger.SetBalance(holderAddr, decimal.NewFromInt(9))
	h.ledger.SetPaymentBalance(holderAddr, decimal.NewFromInt(4))
	h.ledger.Fail("PaymentBalance", errors.New("timeout"))
	sess := h.connect()
	snap := sess.Snapshot()
	require.True(t, snap.Balance.Equal(decimal.NewFromInt(9)))
	require.True(t, snap.PaymentBalance.IsZero())
}
