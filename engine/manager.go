// Package engine keeps a local view of the royalty, payment and badge ledgers
// consistent for one authenticated account and serialises writes against
// them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"royaltysync/core/activity"
	"royaltysync/core/badges"
	"royaltysync/ledger"
	"royaltysync/observability"
)

// Dialer produces an authenticated gateway. It stands in for the wallet
// handshake.
type Dialer func(ctx context.Context) (ledger.Gateway, error)

// Config captures the engine settings.
type Config struct {
	// Distributor is the account allowed to fund royalty distributions.
	Distributor string
	// PollInterval is the timer-driven refresh cadence.
	PollInterval time.Duration
	// LogCapacity bounds the activity log.
	LogCapacity int
	// FeedbackTTL is how long a feedback message stays visible.
	FeedbackTTL time.Duration
	// AccrualCheckpoint enables the UpdateHoldingProgress write before progress reads.
	AccrualCheckpoint bool
	Logger            *slog.Logger
	Metrics           *observability.EngineMetrics
	Clock             func() time.Time
}

// Manager owns the session lifecycle. At most one session is live.
type Manager struct {
	cfg      Config
	dial     Dialer
	logger   *slog.Logger
	metrics  *observability.EngineMetrics
	now      func() time.Time
	log      *activity.Log
	feedback *activity.Feedback
	orch     *Orchestrator

	distributor    common.Address
	hasDistributor bool

	// connect and disconnect are serialised; reads use current under mu.
	lifecycle sync.Mutex
	mu        sync.RWMutex
	current   *Session
}

// NewManager constructs an unauthenticated manager.
func NewManager(cfg Config, dial Dialer) (*Manager, error) {
	if dial == nil {
		return nil, fmt.Errorf("engine: dialer required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		cfg:      cfg,
		dial:     dial,
		logger:   logger.With(slog.String("component", "engine")),
		metrics:  cfg.Metrics,
		now:      now,
		log:      activity.NewLog(cfg.LogCapacity, activity.WithClock(now)),
		feedback: activity.NewFeedback(cfg.FeedbackTTL),
	}
	if d := strings.TrimSpace(cfg.Distributor); d != "" {
		if !common.IsHexAddress(d) {
			return nil, fmt.Errorf("engine: invalid distributor address %q", d)
		}
		m.distributor = common.HexToAddress(d)
		m.hasDistributor = true
	}
	m.orch = NewOrchestrator(m, m.log, m.feedback,
		WithEngineMetrics(cfg.Metrics),
		WithOrchestratorLogger(m.logger),
		WithOrchestratorClock(now))
	return m, nil
}

// Log returns the activity log.
func (m *Manager) Log() *activity.Log { return m.log }

// Feedback returns the feedback slot.
func (m *Manager) Feedback() *activity.Feedback { return m.feedback }

// Orchestrator returns the write orchestrator.
func (m *Manager) Orchestrator() *Orchestrator { return m.orch }

// Current returns the live session or ErrNoSession.
func (m *Manager) Current() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}

// Connect establishes a new session, replacing any existing one, and runs the
// initial refresh before returning.
func (m *Manager) Connect(ctx context.Context) (*Session, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.teardownCurrent()

	sess, err := m.open(ctx)
	if err != nil {
		msg := fmt.Sprintf("Wallet connection failed: %v", err)
		m.log.Add(msg, activity.CategoryError)
		m.feedback.Show(msg, activity.FeedbackError)
		m.logger.Error("connect failed", slog.Any("error", err))
		return nil, err
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()
	m.metrics.SetSession(true)

	m.log.Add(fmt.Sprintf("Wallet connected: %s", shortAddress(sess.account)), activity.CategorySuccess)
	if sess.isOwner {
		m.log.Add("Owner access enabled", activity.CategoryInfo)
	}
	if sess.isDistributor {
		m.log.Add("Distributor access enabled", activity.CategoryInfo)
	}
	m.feedback.Show("Wallet connected", activity.FeedbackSuccess)
	m.logger.Info("session established",
		slog.String("session", sess.id),
		slog.String("account", sess.account.Hex()),
		slog.Bool("owner", sess.isOwner),
		slog.Bool("distributor", sess.isDistributor))

	sess.Refresh(ctx, TriggerInitial)
	sess.scheduler.Start()
	sess.watchSubscription(m.lose)
	return sess, nil
}

func (m *Manager) open(ctx context.Context) (*Session, error) {
	gw, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial ledger: %w", err)
	}
	owner, err := gw.Owner(ctx)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("read owner: %w", err)
	}
	account := gw.Account()
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		id:            uuid.NewString(),
		account:       account,
		isOwner:       account == owner,
		isDistributor: m.hasDistributor && account == m.distributor,
		gw:            gw,
		log:           m.log,
		ctx:           sessCtx,
		cancel:        cancel,
		live:          true,
	}
	sess.logger = m.logger.With(slog.String("session", sess.id))
	if info, err := gw.TokenInfo(ctx); err != nil {
		sess.logger.Warn("token labels unavailable", slog.Any("error", err))
	} else {
		sess.labels.Store(&info)
	}
	tracker := badges.NewTracker(gw,
		badges.WithLogger(sess.logger),
		badges.WithAccrualCheckpoint(m.cfg.AccrualCheckpoint))
	sess.scheduler = newScheduler(sess, tracker, m.cfg.PollInterval, m.now, m.metrics, sess.logger)

	sub, err := gw.Subscribe(sessCtx, sess.handleEvent)
	if err != nil {
		cancel()
		gw.Close()
		return nil, fmt.Errorf("subscribe events: %w", err)
	}
	sess.sub = sub
	return sess, nil
}

// Disconnect tears down the live session, if any.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.teardownCurrent() {
		m.log.Add("Wallet disconnected", activity.CategoryInfo)
		m.feedback.Show("Wallet disconnected", activity.FeedbackSuccess)
	}
}

// Refresh runs a manual cycle on the live session.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	sess, err := m.Current()
	if err != nil {
		return false, err
	}
	return sess.Refresh(ctx, TriggerManual), nil
}

// Execute forwards action to the orchestrator.
func (m *Manager) Execute(ctx context.Context, action Action) error {
	return m.orch.Execute(ctx, action)
}

// Close tears down the session and releases the feedback timer.
func (m *Manager) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.teardownCurrent()
	m.feedback.Close()
}

// lose handles a failed event subscription.
func (m *Manager) lose(sess *Session, cause error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.mu.RLock()
	current := m.current == sess
	m.mu.RUnlock()
	if !current {
		return
	}
	m.teardownCurrent()
	msg := fmt.Sprintf("Connection lost: %v", cause)
	m.log.Add(msg, activity.CategoryError)
	m.feedback.Show(msg, activity.FeedbackError)
	m.logger.Error("session lost", slog.String("session", sess.id), slog.Any("error", cause))
}

// teardownCurrent must be called with lifecycle held.
func (m *Manager) teardownCurrent() bool {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.teardown()
	m.metrics.SetSession(false)
	m.logger.Info("session closed", slog.String("session", sess.id))
	return true
}
