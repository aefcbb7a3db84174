// Package patterns tracks recent device activity observed on the event
// bus and renders it as the recent-patterns fragment: per-entity event
// counts and last-seen summaries over a rolling window. Everything is
// in memory; the recorder is a feed consumer, never a source of
// assembly failure.
package patterns

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/events"
)

// DefaultWindow is how far back activity counts reach.
const DefaultWindow = time.Hour

// Summary is the per-entity activity rollup inside the window.
type Summary struct {
	EntityID  string
	Area      string
	Count     int
	LastSeen  time.Time
	LastState string
}

type entityActivity struct {
	times     []time.Time
	area      string
	lastState string
}

// Recorder keeps a rolling per-entity activity tally fed by bus
// events. Safe for concurrent use; a nil Recorder reads empty.
type Recorder struct {
	mu       sync.RWMutex
	byEntity map[string]*entityActivity
	window   time.Duration
	logger   *slog.Logger

	nowFunc func() time.Time
}

// NewRecorder creates a recorder with the given rolling window. A
// non-positive window uses DefaultWindow.
func NewRecorder(window time.Duration, logger *slog.Logger) *Recorder {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		byEntity: make(map[string]*entityActivity),
		window:   window,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Run consumes events from ch until ctx is done or the channel closes.
// State-change and activity events feed the tally; everything else is
// ignored.
func (r *Recorder) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch e.Kind {
			case events.KindStateChanged:
				r.Record(dataString(e.Data, "entity_id"), dataString(e.Data, "new_state"), dataString(e.Data, "area"))
			case events.KindActivity:
				r.Record(dataString(e.Data, "entity_id"), "", dataString(e.Data, "area"))
			}
		}
	}
}

// Record notes one activity event for an entity. Empty entity ids are
// dropped. An empty state leaves the last known state untouched.
func (r *Recorder) Record(entityID, state, area string) {
	if r == nil || entityID == "" {
		return
	}
	now := r.nowFunc()
	cutoff := now.Add(-r.window)

	r.mu.Lock()
	defer r.mu.Unlock()

	act := r.byEntity[entityID]
	if act == nil {
		act = &entityActivity{}
		r.byEntity[entityID] = act
	}
	act.times = append(act.times, now)
	act.times = pruneBefore(act.times, cutoff)
	if state != "" {
		act.lastState = state
	}
	if area != "" {
		act.area = area
	}
}

// Summaries returns activity rollups for entities matching the filter:
// an entity qualifies when its id is in entityIDs or its recorded area
// is in areas. Empty filters match everything. Results are sorted by
// count descending, then entity id for stable output.
func (r *Recorder) Summaries(entityIDs, areas []string) []Summary {
	if r == nil {
		return nil
	}

	wantID := toSet(entityIDs)
	wantArea := toSet(areas)
	unfiltered := len(wantID) == 0 && len(wantArea) == 0

	now := r.nowFunc()
	cutoff := now.Add(-r.window)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Summary
	for id, act := range r.byEntity {
		if !unfiltered && !wantID[id] && !(act.area != "" && wantArea[act.area]) {
			continue
		}
		times := pruneBefore(act.times, cutoff)
		if len(times) == 0 {
			continue
		}
		out = append(out, Summary{
			EntityID:  id,
			Area:      act.area,
			Count:     len(times),
			LastSeen:  times[len(times)-1],
			LastState: act.lastState,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// pruneBefore drops timestamps older than cutoff. Input is
// chronological, so the survivors are a suffix.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	for i, t := range times {
		if !t.Before(cutoff) {
			return times[i:]
		}
	}
	return nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, s := range items {
		if s != "" {
			set[s] = true
		}
	}
	return set
}

func dataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}
