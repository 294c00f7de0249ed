// Package actionlog keeps the most recent user-visible actions the overlay
// performed, newest first.
package actionlog

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept.
const DefaultCapacity = 5

// Entry is one recorded action.
type Entry struct {
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Ring is a bounded newest-first list. Safe for concurrent use.
type Ring struct {
	mu      sync.Mutex
	cap     int
	entries []Entry // newest first
	now     func() time.Time
}

// Option configures a Ring.
type Option func(*Ring)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(r *Ring) {
		if n > 0 {
			r.cap = n
		}
	}
}

// WithClock sets the time source for Record.
func WithClock(now func() time.Time) Option {
	return func(r *Ring) { r.now = now }
}

// New creates an empty Ring.
func New(opts ...Option) *Ring {
	r := &Ring{cap: DefaultCapacity, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record inserts action at the front, evicting the oldest entry when full.
func (r *Ring) Record(action string) Entry {
	e := Entry{Action: action, CreatedAt: r.now().UTC()}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(e)
	return e
}

func (r *Ring) insertLocked(e Entry) {
	r.entries = append(r.entries, Entry{})
	copy(r.entries[1:], r.entries)
	r.entries[0] = e
	if len(r.entries) > r.cap {
		r.entries = r.entries[:r.cap]
	}
}

// List returns a copy of the entries, newest first.
func (r *Ring) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Hydrate inserts entries recorded elsewhere, in input order, each at the
// front as Record would. History given oldest first therefore ends up newest
// first, ahead of whatever was recorded locally.
func (r *Ring) Hydrate(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.insertLocked(e)
	}
}

// InboxVisible reports whether the action panel is shown for the given host
// locator. It is visible on the inbox list only.
func InboxVisible(locator string) bool {
	switch locator {
	case "", "#", "#inbox":
		return true
	}
	return false
}
