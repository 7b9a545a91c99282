// Package ledgertest provides an in-memory ledger that enforces the business
// rules of the external contracts closely enough to exercise the engine.
package ledgertest

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"royaltysync/core/vesting"
	"royaltysync/ledger"
)

// RoyaltyLedgerAddress is the address the in-memory royalty contract reports.
var RoyaltyLedgerAddress = common.HexToAddress("0x00000000000000000000000000000000000000f1")

type badgeToken struct {
	holder common.Address
	typeID uint64
}

type holding struct {
	accrued uint64
	since   time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for holding accrual and vesting.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.now = clock
		}
	}
}

// Ledger is the shared state of the three contracts.
type Ledger struct {
	mu sync.Mutex

	now   func() time.Time
	owner common.Address
	info  ledger.TokenInfo

	royalty    map[common.Address]decimal.Decimal
	payment    map[common.Address]decimal.Decimal
	allowances map[common.Address]map[common.Address]decimal.Decimal
	price      decimal.Decimal
	paused     bool
	vest       vesting.Raw

	badgeTypes []ledger.BadgeType
	tokens     map[uint64]badgeToken
	nextToken  uint64
	holdings   map[uint64]map[common.Address]*holding

	calls  []string
	errs   map[string]error
	hook   func(method string)
	subs   map[*subscription]struct{}
	closed int
}

// New creates an empty ledger owned by owner.
func New(owner common.Address, opts ...Option) *Ledger {
	l := &Ledger{
		now:        time.Now,
		owner:      owner,
		info:       ledger.TokenInfo{Royalty: ledger.Token{Name: "Royalty", Symbol: "RYL"}, Payment: ledger.Token{Name: "Payment", Symbol: "PAY"}, Badge: ledger.Token{Name: "Badges", Symbol: "BDG"}},
		royalty:    make(map[common.Address]decimal.Decimal),
		payment:    make(map[common.Address]decimal.Decimal),
		allowances: make(map[common.Address]map[common.Address]decimal.Decimal),
		price:      decimal.NewFromInt(1),
		tokens:     make(map[uint64]badgeToken),
		nextToken:  1,
		holdings:   make(map[uint64]map[common.Address]*holding),
		errs:       make(map[string]error),
		subs:       make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Gateway returns a ledger.Gateway signing as account.
func (l *Ledger) Gateway(account common.Address) *Gateway {
	return &Gateway{l: l, account: account}
}

// SetTokenInfo replaces the ledger labels.
func (l *Ledger) SetTokenInfo(info ledger.TokenInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info = info
}

// SetBalance sets a royalty token balance without emitting events.
func (l *Ledger) SetBalance(account common.Address, value decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.royalty[account] = value
}

// SetPaymentBalance sets a payment token balance.
func (l *Ledger) SetPaymentBalance(account common.Address, value decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payment[account] = value
}

// SetAllowance sets the payment-token allowance owner granted spender.
func (l *Ledger) SetAllowance(owner, spender common.Address, value decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(owner, spender, value)
}

// SetPrice sets the royalty token price.
func (l *Ledger) SetPrice(price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.price = price
}

// SetPaused sets the royalty ledger pause flag without a write.
func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = paused
}

// SetVesting replaces the vesting tuple.
func (l *Ledger) SetVesting(raw vesting.Raw) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vest = raw
}

// AddBadgeType appends a badge type and returns its id.
func (l *Ledger) AddBadgeType(name string, minHolding decimal.Decimal, duration uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addBadgeType(name, minHolding, duration)
}

// SetProgress seeds the accrued holding seconds for account.
func (l *Ledger) SetProgress(typeID uint64, account common.Address, seconds uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holdingFor(typeID, account).accrued = seconds
}

// Fail makes every later call of method return err. A nil err clears it.
func (l *Ledger) Fail(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.errs, method)
		return
	}
	l.errs[method] = err
}

// OnWrite installs a hook invoked, without the ledger lock held, before every write.
func (l *Ledger) OnWrite(hook func(method string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// Calls returns the recorded method names in call order.
func (l *Ledger) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// CallCount returns how often method was called.
func (l *Ledger) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == method {
			n++
		}
	}
	return n
}

// ResetCalls clears the call record.
func (l *Ledger) ResetCalls() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

// Emit delivers ev to every live subscription.
func (l *Ledger) Emit(ev ledger.Event) {
	for _, sub := range l.subscribers() {
		sub.deliver(ev)
	}
}

// FailSubscriptions reports err on every live subscription.
func (l *Ledger) FailSubscriptions(err error) {
	for _, sub := range l.subscribers() {
		sub.fail(err)
	}
}

// Subscribers returns the number of live subscriptions.
func (l *Ledger) Subscribers() int {
	return len(l.subscribers())
}

// Closed returns how many gateways were closed.
func (l *Ledger) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Paused reports the pause flag.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// BalanceOf reads a royalty token balance.
func (l *Ledger) BalanceOf(account common.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.royalty[account]
}

// PaymentBalanceOf reads a payment token balance.
func (l *Ledger) PaymentBalanceOf(account common.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payment[account]
}

// AllowanceOf reads an allowance.
func (l *Ledger) AllowanceOf(owner, spender common.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[owner][spender]
}

// HolderOf returns the holder of tokenID and whether the token exists.
func (l *Ledger) HolderOf(tokenID uint64) (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, ok := l.tokens[tokenID]
	return tok.holder, ok
}

func (l *Ledger) subscribers() []*subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*subscription, 0, len(l.subs))
	for sub := range l.subs {
		out = append(out, sub)
	}
	return out
}

func (l *Ledger) record(method string) error {
	l.calls = append(l.calls, method)
	return l.errs[method]
}

func (l *Ledger) setAllowance(owner, spender common.Address, value decimal.Decimal) {
	inner, ok := l.allowances[owner]
	if !ok {
		inner = make(map[common.Address]decimal.Decimal)
		l.allowances[owner] = inner
	}
	inner[spender] = value
}

func (l *Ledger) addBadgeType(name string, minHolding decimal.Decimal, duration uint64) uint64 {
	id := uint64(len(l.badgeTypes) + 1)
	l.badgeTypes = append(l.badgeTypes, ledger.BadgeType{ID: id, Name: name, MinHolding: minHolding, HoldingDuration: duration, Active: true})
	return id
}

func (l *Ledger) badgeType(id uint64) (ledger.BadgeType, bool) {
	if id == 0 || id > uint64(len(l.badgeTypes)) {
		return ledger.BadgeType{}, false
	}
	return l.badgeTypes[id-1], true
}

func (l *Ledger) holdingFor(typeID uint64, account common.Address) *holding {
	inner, ok := l.holdings[typeID]
	if !ok {
		inner = make(map[common.Address]*holding)
		l.holdings[typeID] = inner
	}
	h, ok := inner[account]
	if !ok {
		h = &holding{}
		inner[account] = h
	}
	return h
}

func (l *Ledger) owns(account common.Address, typeID uint64) bool {
	for _, tok := range l.tokens {
		if tok.holder == account && tok.typeID == typeID {
			return true
		}
	}
	return false
}

func (l *Ledger) secondsHeld(typeID uint64, account common.Address) uint64 {
	h := l.holdingFor(typeID, account)
	total := h.accrued
	if !h.since.IsZero() {
		if elapsed := l.now().Sub(h.since); elapsed > 0 {
			total += uint64(elapsed / time.Second)
		}
	}
	return total
}

func (l *Ledger) mint(to common.Address, typeID uint64) uint64 {
	id := l.nextToken
	l.nextToken++
	l.tokens[id] = badgeToken{holder: to, typeID: typeID}
	return id
}

// MintBadge issues a badge directly and returns its token id.
func (l *Ledger) MintBadge(to common.Address, typeID uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mint(to, typeID)
}

func rejected(method, reason string, sentinels ...error) error {
	if len(sentinels) > 0 {
		return fmt.Errorf("%s: %s: %w: %w", method, reason, ledger.ErrWriteRejected, sentinels[0])
	}
	return fmt.Errorf("%s: %s: %w", method, reason, ledger.ErrWriteRejected)
}

type subscription struct {
	l    *Ledger
	sink func(ledger.Event)

	mu     sync.Mutex
	errs   chan error
	closed bool
}

func (s *subscription) deliver(ev ledger.Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.sink(ev)
	}
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

func (s *subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.errs)
	s.mu.Unlock()

	s.l.mu.Lock()
	delete(s.l.subs, s)
	s.l.mu.Unlock()
}

func (s *subscription) Err() <-chan error { return s.errs }
