package activity

import (
	"sync"
	"time"
)

// DefaultFeedbackTTL is how long a feedback message stays visible.
const DefaultFeedbackTTL = 3 * time.Second

// FeedbackKind is the tone of a transient notice.
type FeedbackKind string

const (
	FeedbackSuccess FeedbackKind = "success"
	FeedbackWarning FeedbackKind = "warning"
	FeedbackError   FeedbackKind = "error"
)

// Notice is the currently displayed feedback message.
type Notice struct {
	Text    string       `json:"text"`
	Kind    FeedbackKind `json:"kind"`
	ShownAt time.Time    `json:"shown_at"`
}

// Feedback is a single transient slot. A new message always replaces the
// current one and restarts the clear timer.
type Feedback struct {
	mu         sync.Mutex
	ttl        time.Duration
	now        func() time.Time
	current    *Notice
	generation uint64
	timer      *time.Timer
}

// NewFeedback returns a slot whose messages clear after ttl.
func NewFeedback(ttl time.Duration) *Feedback {
	if ttl <= 0 {
		ttl = DefaultFeedbackTTL
	}
	return &Feedback{ttl: ttl, now: time.Now}
}

// Show displays text, replacing any prior message.
func (f *Feedback) Show(text string, kind FeedbackKind) {
	if kind == "" {
		kind = FeedbackSuccess
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	gen := f.generation
	f.current = &Notice{Text: text, Kind: kind, ShownAt: f.now()}
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.ttl, func() { f.clear(gen) })
}

func (f *Feedback) clear(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation != gen {
		return
	}
	f.current = nil
	f.timer = nil
}

// Current returns the visible message, if any.
func (f *Feedback) Current() (Notice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return Notice{}, false
	}
	return *f.current, true
}

// Close stops any pending clear timer and empties the slot.
func (f *Feedback) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.current = nil
}
