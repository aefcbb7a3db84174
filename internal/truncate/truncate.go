// Package truncate bounds conversation history to the token budget.
// The system message and the newest user message are mandatory and
// never dropped; history is reduced around them. Small histories drop
// oldest-first; larger ones keep a recent window plus the first user
// message as a conversational anchor, evicting the anchor only when
// nothing else is left to cut.
package truncate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/convstore"
	"github.com/wtthornton/HomeIQ-sub000/internal/tokens"
)

// Defaults for the reduction strategy.
const (
	DefaultRecentWindow   = 10
	DefaultSmallThreshold = 10
)

// Result is the outcome of one truncation pass.
type Result struct {
	// Retained is the surviving history in chronological order. Nil
	// when the mandatory pair alone exceeds the budget.
	Retained []convstore.Message
	// DroppedCount is how many history messages were removed.
	DroppedCount int
	// OverBudget reports that system + newest alone exceed the
	// available budget. Assembly proceeds with just that pair.
	OverBudget bool
}

// Truncator reduces history to fit a budget using an accountant for
// exact pricing.
type Truncator struct {
	acct           *tokens.Accountant
	logger         *slog.Logger
	recentWindow   int
	smallThreshold int

	nowFunc func() time.Time
}

// Option adjusts truncator behavior.
type Option func(*Truncator)

// WithRecentWindow sets how many trailing messages the large-history
// strategy starts from. Non-positive values are ignored.
func WithRecentWindow(k int) Option {
	return func(t *Truncator) {
		if k > 0 {
			t.recentWindow = k
		}
	}
}

// WithSmallThreshold sets the history length at or below which plain
// oldest-first dropping is used. Non-positive values are ignored.
func WithSmallThreshold(n int) Option {
	return func(t *Truncator) {
		if n > 0 {
			t.smallThreshold = n
		}
	}
}

// WithNow overrides the clock used for timing logs.
func WithNow(now func() time.Time) Option {
	return func(t *Truncator) {
		if now != nil {
			t.nowFunc = now
		}
	}
}

// New creates a truncator. The accountant must be non-nil for
// Truncate to succeed; a nil accountant surfaces as a fatal
// accounting error at call time.
func New(acct *tokens.Accountant, logger *slog.Logger, opts ...Option) *Truncator {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Truncator{
		acct:           acct,
		logger:         logger,
		recentWindow:   DefaultRecentWindow,
		smallThreshold: DefaultSmallThreshold,
		nowFunc:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Truncate fits history between the mandatory system and newest
// messages under budget. Token accounting failures are fatal; every
// other path returns a usable Result.
func (t *Truncator) Truncate(system, newest tokens.Message, history []convstore.Message, budget tokens.Budget) (Result, error) {
	start := t.nowFunc()
	available := budget.Available()

	sysTokens, err := t.acct.MessageTokens(system.Role, system.Content)
	if err != nil {
		return Result{}, fmt.Errorf("price system message: %w", err)
	}
	newestTokens, err := t.acct.MessageTokens(newest.Role, newest.Content)
	if err != nil {
		return Result{}, fmt.Errorf("price newest message: %w", err)
	}

	if sysTokens+newestTokens > available {
		t.logger.Warn("mandatory messages alone exceed budget",
			"system_tokens", sysTokens,
			"newest_tokens", newestTokens,
			"available", available)
		return Result{DroppedCount: len(history), OverBudget: true}, nil
	}
	remaining := available - sysTokens - newestTokens

	costs := make([]int, len(history))
	total := 0
	for i, m := range history {
		n, err := t.acct.MessageTokens(m.Role, m.Content)
		if err != nil {
			return Result{}, fmt.Errorf("price history message %s: %w", m.ID, err)
		}
		costs[i] = n
		total += n
	}

	var retained []convstore.Message
	switch {
	case total <= remaining:
		retained = append(retained, history...)
	case len(history) <= t.smallThreshold:
		idx := 0
		for idx < len(history) && total > remaining {
			total -= costs[idx]
			idx++
		}
		retained = append(retained, history[idx:]...)
	default:
		retained = t.reduceWithAnchor(history, costs, remaining)
	}

	dropped := len(history) - len(retained)
	if dropped > 0 {
		t.logger.Debug("history truncated",
			"kept", len(retained),
			"dropped", dropped,
			"remaining_budget", remaining,
			"elapsed", t.nowFunc().Sub(start))
	}
	return Result{Retained: retained, DroppedCount: dropped}, nil
}

// reduceWithAnchor keeps the trailing recentWindow messages plus the
// first user message when it falls before that window, then drops from
// the front until the set fits. The anchor goes last.
func (t *Truncator) reduceWithAnchor(history []convstore.Message, costs []int, remaining int) []convstore.Message {
	cut := len(history) - t.recentWindow
	if cut < 0 {
		cut = 0
	}

	anchorIdx := -1
	for i := 0; i < cut; i++ {
		if history[i].Role == "user" {
			anchorIdx = i
			break
		}
	}

	type item struct {
		idx    int
		anchor bool
	}
	var items []item
	total := 0
	if anchorIdx >= 0 {
		items = append(items, item{idx: anchorIdx, anchor: true})
		total += costs[anchorIdx]
	}
	for i := cut; i < len(history); i++ {
		items = append(items, item{idx: i})
		total += costs[i]
	}

	for total > remaining && len(items) > 0 {
		drop := 0
		if items[0].anchor && len(items) > 1 {
			drop = 1
		}
		total -= costs[items[drop].idx]
		items = append(items[:drop], items[drop+1:]...)
	}

	retained := make([]convstore.Message, 0, len(items))
	for _, it := range items {
		retained = append(retained, history[it.idx])
	}
	return retained
}
