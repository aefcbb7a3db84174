// Package composer builds the static system-context block: base
// instructions followed by the inventory sections in declared order.
// The composed text is cached per conversation with a refresh window;
// inside the window assembly reuses it verbatim, outside it every
// static fragment is re-fetched (each still honoring its own cache
// TTL) and the result is persisted back to the conversation store.
package composer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/convstore"
	"github.com/wtthornton/HomeIQ-sub000/internal/fragment"
	"github.com/wtthornton/HomeIQ-sub000/internal/prompts"
)

// DefaultRefreshWindow is how long a composed block stays fresh.
const DefaultRefreshWindow = 5 * time.Minute

// Composer assembles and caches the static context block.
type Composer struct {
	store         convstore.Store
	cache         *fragment.Cache
	providers     []fragment.Provider
	refreshWindow time.Duration
	logger        *slog.Logger

	nowFunc func() time.Time
}

// New creates a composer over the given store, fragment cache, and
// static providers. Providers render in slice order. A non-positive
// refreshWindow uses the default.
func New(store convstore.Store, cache *fragment.Cache, providers []fragment.Provider, refreshWindow time.Duration, logger *slog.Logger) *Composer {
	if refreshWindow <= 0 {
		refreshWindow = DefaultRefreshWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		store:         store,
		cache:         cache,
		providers:     providers,
		refreshWindow: refreshWindow,
		logger:        logger,
		nowFunc:       time.Now,
	}
}

// Compose returns the static context block for conv, rebuilding it
// when the cached copy is stale or force is set. The second return
// lists fragment keys that degraded during a rebuild; a cached return
// reports none.
func (c *Composer) Compose(ctx context.Context, conv *convstore.Conversation, force bool) (string, []string, error) {
	now := c.nowFunc()

	if !force && conv.ComposedContext != nil && now.Sub(conv.ComposedContext.ComposedAt) < c.refreshWindow {
		return conv.ComposedContext.Text, nil, nil
	}

	blocks := []string{prompts.BaseSystemPrompt()}
	var degraded []string
	for _, p := range c.providers {
		frag := fragment.Fetch(ctx, c.cache, p, c.logger)
		if frag.Degraded {
			degraded = append(degraded, frag.Key)
		}
		if frag.Content != "" {
			blocks = append(blocks, frag.Content)
		}
	}
	text := strings.Join(blocks, "\n\n")

	// Persisting is a cache write: failure costs a rebuild next turn,
	// not this assembly.
	if err := c.store.SetComposedContext(conv.ID, convstore.ComposedContext{Text: text, ComposedAt: now}); err != nil {
		c.logger.Warn("persist composed context failed",
			"conversation_id", conv.ID,
			"error", err)
	}

	return text, degraded, nil
}
