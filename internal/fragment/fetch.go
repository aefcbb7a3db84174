package fragment

import (
	"context"
	"log/slog"
	"time"
)

// DefaultBuildTimeout bounds a single provider build unless the
// provider applies a tighter one itself.
const DefaultBuildTimeout = 5 * time.Second

// degradedRetryTTL caps how long placeholder content is served before
// the failed source is retried.
const degradedRetryTTL = 30 * time.Second

// Fetch is the shared read-through path for every fragment: return the
// cached fragment when fresh, otherwise rebuild via the provider,
// clamp the content to the fragment's size ceiling, store it, and
// return it. Degraded builds are cached with a short retry TTL so a
// dead source is reprobed soon without being hit on every request.
func Fetch(ctx context.Context, cache *Cache, p Provider, logger *slog.Logger) Fragment {
	if logger == nil {
		logger = slog.Default()
	}
	if p == nil {
		return Fragment{}
	}

	if frag, fresh := cache.Get(p.Key()); fresh {
		return frag
	}

	res := p.Build(ctx)
	frag := res.Fragment
	if frag.Key == "" {
		frag.Key = p.Key()
	}
	frag.Content = Clamp(frag.Content, frag.SizeCeiling)

	if frag.Degraded {
		frag.TTL = degradedRetryTTL
		logger.Warn("fragment build degraded",
			"key", frag.Key,
			"retry_ttl", degradedRetryTTL,
			"error", res.Err)
	} else {
		logger.Debug("fragment rebuilt",
			"key", frag.Key,
			"chars", len(frag.Content),
			"ttl", frag.TTL)
	}

	cache.Set(frag)
	return frag
}

// Clamp truncates s to at most ceiling runes. A ceiling of zero or
// less leaves s unchanged. Truncation is rune-safe: multibyte
// characters are never split.
func Clamp(s string, ceiling int) string {
	if ceiling <= 0 || len(s) <= ceiling {
		return s
	}
	runes := []rune(s)
	if len(runes) <= ceiling {
		return s
	}
	return string(runes[:ceiling])
}
