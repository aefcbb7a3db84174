package fragment

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Cache is an in-memory TTL cache for fragments. Each entry expires
// independently on its own TTL. Safe for concurrent use; stored and
// returned fragments are value copies. Concurrent rebuilds of the same
// key are not deduplicated: the last writer wins, which is acceptable
// because any successfully built fragment is valid content.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Fragment
	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewCache creates an empty fragment cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]Fragment),
		nowFunc: time.Now,
		logger:  logger,
	}
}

// Get returns the fragment stored under key and whether it is fresh.
// Expired entries are still returned with fresh=false so callers can
// inspect stale content; a miss returns a zero Fragment. A nil cache
// always misses.
func (c *Cache) Get(key string) (Fragment, bool) {
	if c == nil {
		return Fragment{}, false
	}

	c.mu.RLock()
	frag, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return Fragment{}, false
	}
	return frag, !frag.Expired(c.nowFunc())
}

// Set stores frag under its key, fully replacing any prior entry for
// that key. GeneratedAt is stamped with the current time when zero.
// A nil cache ignores the write.
func (c *Cache) Set(frag Fragment) {
	if c == nil || frag.Key == "" {
		return
	}
	if frag.GeneratedAt.IsZero() {
		frag.GeneratedAt = c.nowFunc()
	}

	c.mu.Lock()
	c.entries[frag.Key] = frag
	c.mu.Unlock()
}

// Invalidate removes the entry for key, if present.
func (c *Cache) Invalidate(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]Fragment)
	c.mu.Unlock()
}

// Keys returns the cached keys in sorted order.
func (c *Cache) Keys() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of cached entries, fresh or expired.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
