// Package livestate renders the entity-scoped live-state fragment: a
// REST snapshot of the entities a request resolved to, plus the recent
// state transitions observed on the websocket event stream. The window
// is a circular buffer with dual eviction: count-based at write time
// and age-based at read time.
package livestate

import (
	"sync"
	"time"
)

// Entry records a single observed state transition.
type Entry struct {
	EntityID  string
	OldState  string
	NewState  string
	Timestamp time.Time
}

// Window is a bounded ring of recent state changes. Safe for
// concurrent use; a nil Window ignores writes and reads empty.
type Window struct {
	mu      sync.RWMutex
	entries []Entry
	head    int // next write position
	count   int // entries currently stored
	maxAge  time.Duration

	nowFunc func() time.Time
}

// NewWindow creates a window holding up to capacity entries, dropping
// entries older than maxAge at read time. Non-positive arguments fall
// back to 50 entries and 30 minutes.
func NewWindow(capacity int, maxAge time.Duration) *Window {
	if capacity <= 0 {
		capacity = 50
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &Window{
		entries: make([]Entry, capacity),
		maxAge:  maxAge,
		nowFunc: time.Now,
	}
}

// Record stores a state transition. The signature matches
// homeassistant.StateWatchHandler so the window composes directly into
// the watcher handler chain.
func (w *Window) Record(entityID, oldState, newState string) {
	if w == nil {
		return
	}
	now := w.nowFunc()

	w.mu.Lock()
	w.entries[w.head] = Entry{
		EntityID:  entityID,
		OldState:  oldState,
		NewState:  newState,
		Timestamp: now,
	}
	w.head = (w.head + 1) % len(w.entries)
	if w.count < len(w.entries) {
		w.count++
	}
	w.mu.Unlock()
}

// Recent returns entries newest first, excluding entries older than
// maxAge. A non-empty entityIDs filters to those entities; nil or
// empty returns everything still in the window.
func (w *Window) Recent(entityIDs []string) []Entry {
	if w == nil {
		return nil
	}

	var want map[string]bool
	if len(entityIDs) > 0 {
		want = make(map[string]bool, len(entityIDs))
		for _, id := range entityIDs {
			want[id] = true
		}
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.count == 0 {
		return nil
	}

	cutoff := w.nowFunc().Add(-w.maxAge)
	bufLen := len(w.entries)

	var out []Entry
	for i := 0; i < w.count; i++ {
		idx := (w.head - 1 - i + bufLen) % bufLen
		e := w.entries[idx]
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if want != nil && !want[e.EntityID] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len reports how many entries the ring currently holds, including
// ones that age-based eviction would exclude.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}
