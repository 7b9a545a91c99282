package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"royaltysync/core/badges"
	"royaltysync/core/vesting"
	"royaltysync/observability"
)

// DefaultPollInterval is the cadence of timer-driven refreshes.
const DefaultPollInterval = 30 * time.Second

var tracer = otel.Tracer("royaltysync/engine")

// Scheduler reconciles ledger state into session snapshots. At most one cycle
// runs at a time. Overlapping triggers are absorbed, not queued, except that
// an absorbed write earns the in-flight cycle a single re-run.
type Scheduler struct {
	session  *Session
	tracker  *badges.Tracker
	interval time.Duration
	now      func() time.Time
	metrics  *observability.EngineMetrics
	logger   *slog.Logger

	running atomic.Bool
	stale   atomic.Bool
	cycles  atomic.Uint64

	ctx     context.Context
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func newScheduler(session *Session, tracker *badges.Tracker, interval time.Duration, now func() time.Time, metrics *observability.EngineMetrics, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		session:  session,
		tracker:  tracker,
		interval: interval,
		now:      now,
		metrics:  metrics,
		logger:   logger,
		ctx:      session.ctx,
	}
}

// Start launches the timer loop. The first tick fires after one interval;
// callers run the initial cycle themselves.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.wg.Add(1)
	go s.loop()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.run(s.ctx, TriggerTimer)
		}
	}
}

// Trigger requests an asynchronous cycle. It is a no-op once stopped.
func (s *Scheduler) Trigger(trigger Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx, trigger)
	}()
}

// Stop halts the timer and waits for every in-flight cycle, whether started
// by the timer, by Trigger or by a synchronous Refresh. Later calls do nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether a cycle is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Refresh runs one full cycle synchronously. It returns false without doing
// any work when another cycle is already running or the scheduler is stopped.
// The cycle is cancelled when the session ends.
func (s *Scheduler) Refresh(ctx context.Context, trigger Trigger) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(s.ctx, cancel)
	defer release()
	return s.run(ctx, trigger)
}

// run executes a cycle under the single-flight guard. A write confirmed while
// another cycle is in flight marks the state stale; the in-flight cycle then
// runs once more so the write is reflected without waiting for the timer.
func (s *Scheduler) run(ctx context.Context, trigger Trigger) bool {
	if trigger == TriggerWrite {
		s.stale.Store(true)
	}
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.RecordSkipped(string(trigger))
		s.logger.Debug("refresh skipped", slog.String("trigger", string(trigger)))
		return false
	}
	for {
		s.stale.Store(false)
		s.cycle(ctx, trigger)
		s.running.Store(false)
		if ctx.Err() != nil || !s.stale.Load() || !s.running.CompareAndSwap(false, true) {
			return true
		}
		trigger = TriggerWrite
	}
}

func (s *Scheduler) cycle(ctx context.Context, trigger Trigger) {
	ctx, span := tracer.Start(ctx, "engine.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", string(trigger)))

	started := s.now()
	snap := s.collect(ctx)
	outcome := "published"
	if ctx.Err() != nil || !s.session.publish(snap) {
		outcome = "dropped"
		span.SetStatus(codes.Error, "session ended")
	}
	elapsed := s.now().Sub(started)
	s.metrics.RecordRefresh(string(trigger), outcome, elapsed)
	s.logger.Debug("refresh complete",
		slog.String("trigger", string(trigger)),
		slog.String("outcome", outcome),
		slog.Uint64("cycle", snap.Cycle),
		slog.Duration("elapsed", elapsed))
}

// collect assembles a complete snapshot in locals. Individual read failures
// zero the affected field and are reported as warnings.
func (s *Scheduler) collect(ctx context.Context) *Snapshot {
	gw := s.session.gw
	account := s.session.account
	snap := &Snapshot{
		Account: account,
		Cycle:   s.cycles.Add(1),
	}
	warn := func(field string, err error) {
		s.metrics.RecordReadFailure(field)
		s.logger.Warn("ledger read failed", slog.String("field", field), slog.Any("error", err))
	}

	state, failures := s.tracker.Collect(ctx, account)
	for _, f := range failures {
		s.metrics.RecordReadFailure("badges." + f.Field)
	}
	snap.Badges = state

	if raw, err := gw.VestingInfo(ctx); err != nil {
		warn("vesting", err)
	} else {
		snap.Vesting, snap.VestingApplicable = vesting.Derive(raw)
	}

	var err error
	if snap.Balance, err = gw.Balance(ctx, account); err != nil {
		warn("balance", err)
		snap.Balance = decimal.Zero
	}
	if snap.PaymentBalance, err = gw.PaymentBalance(ctx, account); err != nil {
		warn("payment_balance", err)
		snap.PaymentBalance = decimal.Zero
	}
	if snap.Price, err = gw.PricePerToken(ctx); err != nil {
		warn("price", err)
		snap.Price = decimal.Zero
	}
	if snap.Paused, err = gw.IsPaused(ctx); err != nil {
		warn("paused", err)
		snap.Paused = false
	}
	snap.PortfolioValue = snap.Balance.Mul(snap.Price)
	snap.RefreshedAt = s.now()
	return snap
}
