package engine

import (
	"fmt"
	"strings"
	"sync"
)

// DraftField names the draft input for param of kind, e.g. "buy.amount".
func DraftField(kind ActionKind, param string) string {
	return string(kind) + "." + param
}

// Drafts holds unsubmitted form inputs. A successful action clears its own
// fields; a failed one leaves them for correction.
type Drafts struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewDrafts returns an empty draft store.
func NewDrafts() *Drafts {
	return &Drafts{values: make(map[string]string)}
}

// Set stores value under field. Unknown fields are rejected.
func (d *Drafts) Set(field, value string) error {
	field = strings.ToLower(strings.TrimSpace(field))
	kind, param, ok := strings.Cut(field, ".")
	if !ok || !knownParam(ActionKind(kind), param) {
		return fmt.Errorf("%w: unknown draft field %q", ErrInvalidAction, field)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if value == "" {
		delete(d.values, field)
		return nil
	}
	d.values[field] = value
	return nil
}

// Get returns the draft stored under field.
func (d *Drafts) Get(field string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[field]
	return v, ok
}

// All returns a copy of every draft.
func (d *Drafts) All() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Clear removes the drafts belonging to kind.
func (d *Drafts) Clear(kind ActionKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, param := range actionParams[kind] {
		delete(d.values, DraftField(kind, param))
	}
}

func knownParam(kind ActionKind, param string) bool {
	for _, p := range actionParams[kind] {
		if p == param {
			return true
		}
	}
	return false
}
