package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"royaltysync/core/activity"
	"royaltysync/core/amount"
	"royaltysync/core/vesting"
	"royaltysync/ledger"
	"royaltysync/observability"
)

var (
	// ErrBusy is returned when a write is initiated while another is in flight.
	ErrBusy = errors.New("engine: another write is in progress")
	// ErrNoSession is returned when no authenticated session exists.
	ErrNoSession = errors.New("engine: no active session")
	// ErrUnauthorized is returned when the session lacks the role an action requires.
	ErrUnauthorized = errors.New("engine: role required")
	// ErrPreflight is returned when local state proves a write would be rejected.
	ErrPreflight = errors.New("engine: write would be rejected")
)

// PendingState tracks the lifecycle of the current or last write.
type PendingState string

const (
	PendingIdle      PendingState = "idle"
	PendingSubmitted PendingState = "submitted"
	PendingConfirmed PendingState = "confirmed"
	PendingFailed    PendingState = "failed"
)

// PendingWrite describes the current or last write. It is never persisted.
type PendingWrite struct {
	Action    ActionKind   `json:"action,omitempty"`
	State     PendingState `json:"state"`
	Phase     string       `json:"phase,omitempty"`
	StartedAt time.Time    `json:"started_at,omitempty"`
	UpdatedAt time.Time    `json:"updated_at,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// SessionSource yields the live session.
type SessionSource interface {
	Current() (*Session, error)
}

// Orchestrator serialises user-initiated writes against the ledger.
type Orchestrator struct {
	sessions SessionSource
	log      *activity.Log
	feedback *activity.Feedback
	drafts   *Drafts
	metrics  *observability.EngineMetrics
	logger   *slog.Logger
	now      func() time.Time

	busy atomic.Bool

	mu      sync.Mutex
	pending PendingWrite
}

// OrchestratorOption customises the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithDrafts supplies the draft store cleared on success.
func WithDrafts(d *Drafts) OrchestratorOption {
	return func(o *Orchestrator) { o.drafts = d }
}

// WithEngineMetrics overrides the metrics registry.
func WithEngineMetrics(m *observability.EngineMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithOrchestratorLogger sets the structured logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithOrchestratorClock sets the function used to derive timestamps.
func WithOrchestratorClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = clock }
}

// NewOrchestrator constructs an orchestrator writing to log and feedback.
func NewOrchestrator(sessions SessionSource, log *activity.Log, feedback *activity.Feedback, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		log:      log,
		feedback: feedback,
		logger:   slog.Default(),
		now:      time.Now,
		pending:  PendingWrite{State: PendingIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.drafts == nil {
		o.drafts = NewDrafts()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Drafts returns the draft store.
func (o *Orchestrator) Drafts() *Drafts { return o.drafts }

// Busy reports whether a write is in flight.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// Pending returns the state of the current or last write.
func (o *Orchestrator) Pending() PendingWrite {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// plan is the resolved form of an action after local preflight.
type plan struct {
	approve  decimal.Decimal
	submit   func(ctx context.Context, gw ledger.Gateway) error
	message  string
	category activity.Category
	after    func(*Session)
}

// Execute runs action to completion: preflight, optional approval, the write
// itself, then a refresh. Only one Execute runs at a time.
func (o *Orchestrator) Execute(ctx context.Context, action Action) error {
	if !o.busy.CompareAndSwap(false, true) {
		o.metrics.RecordWrite(string(action.Kind), "busy", 0)
		o.feedback.Show("Another transaction is still in progress", activity.FeedbackWarning)
		return ErrBusy
	}
	defer o.busy.Store(false)

	ctx, span := tracer.Start(ctx, "engine.execute")
	defer span.End()
	span.SetAttributes(attribute.String("action", string(action.Kind)))

	started := o.now()
	o.mu.Lock()
	o.pending = PendingWrite{Action: action.Kind, State: PendingIdle, StartedAt: started, UpdatedAt: started}
	o.mu.Unlock()

	fail := func(phase, outcome string, err error) error {
		o.setPending(PendingFailed, phase, err)
		o.metrics.RecordWrite(string(action.Kind), outcome, o.now().Sub(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, phase)
		msg := fmt.Sprintf("%s failed: %v", actionTitle(action.Kind), err)
		o.log.Add(msg, activity.CategoryError)
		o.feedback.Show(msg, activity.FeedbackError)
		o.logger.Warn("write failed",
			slog.String("action", string(action.Kind)),
			slog.String("phase", phase),
			slog.Any("error", err))
		return err
	}

	sess, err := o.sessions.Current()
	if err != nil {
		return fail("session", "rejected", err)
	}
	p, err := o.plan(ctx, sess, action)
	if err != nil {
		return fail("preflight", "rejected", err)
	}
	gw := sess.Gateway()

	if p.approve.IsPositive() {
		spender := gw.RoyaltyLedger()
		allowance, err := gw.Allowance(ctx, sess.Account(), spender)
		if err != nil {
			return fail("allowance", "failed", fmt.Errorf("read allowance: %w", err))
		}
		if allowance.LessThan(p.approve) {
			o.setPending(PendingSubmitted, "approve", nil)
			if err := gw.Approve(ctx, spender, p.approve); err != nil {
				return fail("approve", "failed", fmt.Errorf("approve: %w", err))
			}
			o.log.Add(fmt.Sprintf("Approved %s %s for spending", amount.Format(p.approve), sess.Labels().Payment.Symbol), activity.CategoryInfo)
		}
	}

	o.setPending(PendingSubmitted, "submit", nil)
	if err := p.submit(ctx, gw); err != nil {
		return fail("submit", "failed", err)
	}
	o.setPending(PendingConfirmed, "submit", nil)
	if p.after != nil {
		p.after(sess)
	}
	o.log.Add(p.message, p.category)
	o.feedback.Show(p.message, activity.FeedbackSuccess)
	o.drafts.Clear(action.Kind)
	o.metrics.RecordWrite(string(action.Kind), "confirmed", o.now().Sub(started))
	o.logger.Info("write confirmed", slog.String("action", string(action.Kind)))

	sess.Refresh(ctx, TriggerWrite)
	return nil
}

func (o *Orchestrator) setPending(state PendingState, phase string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending.State = state
	o.pending.Phase = phase
	o.pending.UpdatedAt = o.now()
	o.pending.Error = ""
	if err != nil {
		o.pending.Error = err.Error()
	}
}

// plan validates action against the session and the latest snapshot and
// resolves the ledger calls it needs.
func (o *Orchestrator) plan(ctx context.Context, sess *Session, a Action) (plan, error) {
	labels := sess.Labels()
	snap := sess.Snapshot()
	gw := sess.Gateway()

	switch a.Kind {
	case ActionBuy:
		qty := amount.Quantize(a.Amount)
		if err := positive(qty); err != nil {
			return plan{}, err
		}
		if err := unpaused(snap, a.Kind); err != nil {
			return plan{}, err
		}
		price, err := gw.PricePerToken(ctx)
		if err != nil {
			return plan{}, fmt.Errorf("read price: %w", err)
		}
		cost := amount.QuantizeUp(qty.Mul(price))
		if err := covered(snap, cost); err != nil {
			return plan{}, err
		}
		return plan{
			approve:  cost,
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.Buy(ctx, qty) },
			message:  fmt.Sprintf("Bought %s %s for %s %s", amount.Format(qty), labels.Royalty.Symbol, amount.Format(cost), labels.Payment.Symbol),
			category: activity.CategoryTransfer,
		}, nil

	case ActionSell:
		qty := amount.Quantize(a.Amount)
		if err := positive(qty); err != nil {
			return plan{}, err
		}
		if err := unpaused(snap, a.Kind); err != nil {
			return plan{}, err
		}
		if qty.GreaterThan(snap.Balance) {
			return plan{}, fmt.Errorf("%w: sell amount %s exceeds balance %s", ErrPreflight, amount.Format(qty), amount.Format(snap.Balance))
		}
		return plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.Sell(ctx, qty) },
			message:  fmt.Sprintf("Sold %s %s", amount.Format(qty), labels.Royalty.Symbol),
			category: activity.CategoryTransfer,
		}, nil

	case ActionTransfer:
		qty := amount.Quantize(a.Amount)
		if err := positive(qty); err != nil {
			return plan{}, err
		}
		if err := recipient(a.To); err != nil {
			return plan{}, err
		}
		if qty.GreaterThan(snap.PaymentBalance) {
			return plan{}, fmt.Errorf("%w: transfer amount %s exceeds balance %s", ErrPreflight, amount.Format(qty), amount.Format(snap.PaymentBalance))
		}
		to := a.To
		return plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.Transfer(ctx, to, qty) },
			message:  fmt.Sprintf("Transferred %s %s to %s", amount.Format(qty), labels.Payment.Symbol, shortAddress(to)),
			category: activity.CategoryTransfer,
		}, nil

	case ActionDistributeRoyalties:
		if !sess.IsDistributor() {
			return plan{}, fmt.Errorf("%w: %s requires the distributor role", ErrUnauthorized, a.Kind)
		}
		qty := amount.QuantizeUp(a.Amount)
		if err := positive(qty); err != nil {
			return plan{}, err
		}
		if err := covered(snap, qty); err != nil {
			return plan{}, err
		}
		return plan{
			approve:  qty,
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.DistributeRoyalties(ctx, qty) },
			message:  fmt.Sprintf("Distributed %s %s in royalties", amount.Format(qty), labels.Payment.Symbol),
			category: activity.CategoryRoyalty,
		}, nil

	case ActionUpdatePrice:
		if err := requireOwner(sess, a.Kind); err != nil {
			return plan{}, err
		}
		price := amount.Quantize(a.Amount)
		if err := positive(price); err != nil {
			return plan{}, err
		}
		return plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.UpdatePrice(ctx, price) },
			message:  fmt.Sprintf("Price updated to %s %s", amount.Format(price), labels.Payment.Symbol),
			category: activity.CategorySuccess,
		}, nil

	case ActionMint:
		if err := requireOwner(sess, a.Kind); err != nil {
			return plan{}, err
		}
		qty := amount.Quantize(a.Amount)
		if err := positive(qty); err != nil {
			return plan{}, err
		}
		if err := recipient(a.To); err != nil {
			return plan{}, err
		}
		to := a.To
		return plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.Mint(ctx, to, qty) },
			message:  fmt.Sprintf("Minted %s %s to %s", amount.Format(qty), labels.Royalty.Symbol, shortAddress(to)),
			category: activity.CategorySuccess,
		}, nil

	case ActionPause, ActionUnpause:
		if err := requireOwner(sess, a.Kind); err != nil {
			return plan{}, err
		}
		pause := a.Kind == ActionPause
		if pause == snap.Paused {
			state := "not paused"
			if snap.Paused {
				state = "already paused"
			}
			return plan{}, fmt.Errorf("%w: %s is %s", ErrPreflight, labels.Royalty.Name, state)
		}
		p := plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.Unpause(ctx) },
			message:  fmt.Sprintf("%s unpaused", labels.Royalty.Name),
			category: activity.CategorySuccess,
			after:    func(s *Session) { s.setPaused(false) },
		}
		if pause {
			p.submit = func(ctx context.Context, gw ledger.Gateway) error { return gw.Pause(ctx) }
			p.message = fmt.Sprintf("%s paused", labels.Royalty.Name)
			p.category = activity.CategoryWarning
			p.after = func(s *Session) { s.setPaused(true) }
		}
		return p, nil

	case ActionCreateBadgeType:
		if err := requireOwner(sess, a.Kind); err != nil {
			return plan{}, err
		}
		name := NormaliseBadgeName(a.Name)
		if name == "" {
			return plan{}, fmt.Errorf("%w: badge name required", ErrPreflight)
		}
		if a.MinHolding.IsNegative() {
			return plan{}, fmt.Errorf("%w: minimum holding must not be negative", ErrPreflight)
		}
		minHolding := amount.Quantize(a.MinHolding)
		duration := a.Duration
		return plan{
			submit: func(ctx context.Context, gw ledger.Gateway) error {
				return gw.CreateBadgeType(ctx, name, minHolding, duration)
			},
			message:  fmt.Sprintf("Badge type %q created", name),
			category: activity.CategorySuccess,
		}, nil

	case ActionClaimBadge:
		id := a.BadgeTypeID
		if !snap.Badges.Claimable(id) {
			return plan{}, fmt.Errorf("%w: badge type %d is not claimable", ErrPreflight, id)
		}
		bt, _ := snap.Badges.Type(id)
		return plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.ClaimBadge(ctx, id) },
			message:  fmt.Sprintf("Claimed %s badge", bt.Name),
			category: activity.CategorySuccess,
		}, nil

	case ActionAwardBadge:
		if err := requireOwner(sess, a.Kind); err != nil {
			return plan{}, err
		}
		if a.BadgeTypeID == 0 {
			return plan{}, fmt.Errorf("%w: badge type id required", ErrPreflight)
		}
		if err := recipient(a.To); err != nil {
			return plan{}, err
		}
		id, to := a.BadgeTypeID, a.To
		return plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.AwardBadge(ctx, id, to) },
			message:  fmt.Sprintf("Awarded badge type %d to %s", id, shortAddress(to)),
			category: activity.CategorySuccess,
		}, nil

	case ActionRevokeBadge:
		if err := requireOwner(sess, a.Kind); err != nil {
			return plan{}, err
		}
		if a.TokenID == 0 {
			return plan{}, fmt.Errorf("%w: token id required", ErrPreflight)
		}
		id := a.TokenID
		return plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.RevokeBadge(ctx, id) },
			message:  fmt.Sprintf("Revoked badge #%d", id),
			category: activity.CategoryWarning,
		}, nil

	case ActionBurnBadge:
		if a.TokenID == 0 {
			return plan{}, fmt.Errorf("%w: token id required", ErrPreflight)
		}
		id := a.TokenID
		return plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.BurnBadge(ctx, id) },
			message:  fmt.Sprintf("Burned badge #%d", id),
			category: activity.CategoryWarning,
		}, nil

	case ActionReleaseVesting:
		if err := requireOwner(sess, a.Kind); err != nil {
			return plan{}, err
		}
		raw, err := gw.VestingInfo(ctx)
		if err != nil {
			return plan{}, fmt.Errorf("read vesting: %w", err)
		}
		sched, ok := vesting.Derive(raw)
		if !ok {
			return plan{}, fmt.Errorf("%w: no vesting schedule", ErrPreflight)
		}
		if !sched.CanRelease() {
			return plan{}, fmt.Errorf("%w: all %d tranches released", ErrPreflight, sched.TotalTranches)
		}
		return plan{
			submit:   func(ctx context.Context, gw ledger.Gateway) error { return gw.ReleaseVesting(ctx) },
			message:  fmt.Sprintf("Released vesting tranche %d/%d", sched.CurrentTranche+1, sched.TotalTranches),
			category: activity.CategoryVesting,
		}, nil
	}
	return plan{}, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, a.Kind)
}

func requireOwner(sess *Session, kind ActionKind) error {
	if !sess.IsOwner() {
		return fmt.Errorf("%w: %s requires the owner role", ErrUnauthorized, kind)
	}
	return nil
}

// unpaused rejects trading while the snapshot shows the royalty ledger paused.
func unpaused(snap *Snapshot, kind ActionKind) error {
	if snap.Paused {
		return fmt.Errorf("%w: %s is unavailable while trading is paused", ErrPreflight, kind)
	}
	return nil
}

// covered rejects spends above the payment balance before any approval is sent.
func covered(snap *Snapshot, required decimal.Decimal) error {
	if required.GreaterThan(snap.PaymentBalance) {
		return fmt.Errorf("%w: requires %s but payment balance is %s", ErrPreflight, amount.Format(required), amount.Format(snap.PaymentBalance))
	}
	return nil
}

func positive(value decimal.Decimal) error {
	if !value.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrPreflight)
	}
	return nil
}

func recipient(to common.Address) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: recipient required", ErrPreflight)
	}
	return nil
}

func actionTitle(kind ActionKind) string {
	switch kind {
	case ActionBuy:
		return "Buy"
	case ActionSell:
		return "Sell"
	case ActionTransfer:
		return "Transfer"
	case ActionDistributeRoyalties:
		return "Royalty distribution"
	case ActionUpdatePrice:
		return "Price update"
	case ActionMint:
		return "Mint"
	case ActionPause:
		return "Pause"
	case ActionUnpause:
		return "Unpause"
	case ActionCreateBadgeType:
		return "Badge type creation"
	case ActionClaimBadge:
		return "Badge claim"
	case ActionAwardBadge:
		return "Badge award"
	case ActionRevokeBadge:
		return "Badge revocation"
	case ActionBurnBadge:
		return "Badge burn"
	case ActionReleaseVesting:
		return "Vesting release"
	}
	return string(kind)
}
