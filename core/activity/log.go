// Package activity holds the bounded, newest-first record of human-readable
// engine events and the single transient feedback slot shown to operators.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the number of retained log entries.
const DefaultCapacity = 20

// Category classifies a log entry for presentation.
type Category string

const (
	CategoryInfo     Category = "info"
	CategorySuccess  Category = "success"
	CategoryWarning  Category = "warning"
	CategoryError    Category = "error"
	CategoryTransfer Category = "transfer"
	CategoryRoyalty  Category = "royalty"
	CategoryVesting  Category = "vesting"
)

// Entry is one formatted log line. Message text is final at insertion time.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Category  Category  `json:"category"`
}

// Log is a fixed-capacity ring buffer of entries. Once full, each insertion
// evicts the oldest entry.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	size     int
	now      func() time.Time
	watchers map[int]chan Entry
	watchSeq int
}

// Option customises a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.now = clock }
}

// NewLog returns an empty log holding at most capacity entries.
func NewLog(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		entries:  make([]Entry, capacity),
		now:      time.Now,
		watchers: make(map[int]chan Entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add appends an entry and returns it.
func (l *Log) Add(message string, category Category) Entry {
	if category == "" {
		category = CategoryInfo
	}
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		Message:   message,
		Category:  category,
	}
	l.mu.Lock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
	for _, ch := range l.watchers {
		select {
		case ch <- entry:
		default:
			// slow subscribers miss entries rather than block the engine
		}
	}
	l.mu.Unlock()
	return entry
}

// Entries returns the retained entries, newest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity reports the maximum number of retained entries.
func (l *Log) Capacity() int {
	return len(l.entries)
}

// Subscribe registers a buffered channel receiving every subsequently added
// entry. The returned cancel function closes the channel.
func (l *Log) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Entry, buffer)
	l.mu.Lock()
	id := l.watchSeq
	l.watchSeq++
	l.watchers[id] = ch
	l.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.watchers, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
