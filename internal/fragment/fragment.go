// Package fragment defines the typed context fragment record, the
// provider contract, and the TTL cache fragments flow through on their
// way into an assembled prompt. Each fragment is an independently
// cached block of prompt text (device inventory, service catalog,
// recent state changes) with its own time-to-live and size ceiling.
package fragment

import (
	"context"
	"time"
)

// Fragment is one cached block of context text.
type Fragment struct {
	// Key identifies the fragment in the cache ("devices", "live_state", ...).
	Key string
	// Content is the rendered prompt text, bounded by SizeCeiling.
	Content string
	// GeneratedAt is when the content was built.
	GeneratedAt time.Time
	// TTL is how long the content stays fresh after GeneratedAt.
	TTL time.Duration
	// SizeCeiling bounds Content in runes. Zero means unbounded.
	SizeCeiling int
	// Degraded marks placeholder content produced when the source was
	// unavailable. Degraded fragments carry a short retry TTL so the
	// source is reprobed soon without being hammered on every request.
	Degraded bool
}

// Expired reports whether the fragment's TTL has elapsed at now.
// A zero GeneratedAt is always expired.
func (f Fragment) Expired(now time.Time) bool {
	if f.GeneratedAt.IsZero() {
		return true
	}
	return now.Sub(f.GeneratedAt) >= f.TTL
}

// Result is what a provider build produces. A degraded build carries a
// usable placeholder fragment plus the causal error for logging; the
// caller never has to recover from a provider failure.
type Result struct {
	Fragment Fragment
	Err      error
}

// Provider builds one fragment on demand. Build must always return a
// usable Result: on any failure (timeout, unreachable source,
// malformed upstream data) it returns placeholder content with
// Degraded set rather than an unusable value.
type Provider interface {
	// Key is the stable cache key for this provider's fragment.
	Key() string
	// Build renders the fragment. The provider applies its own
	// per-call timeout inside Build.
	Build(ctx context.Context) Result
}

// DegradedResult builds a placeholder Result for a failed build.
func DegradedResult(key, placeholder string, ceiling int, err error) Result {
	return Result{
		Fragment: Fragment{
			Key:         key,
			Content:     placeholder,
			SizeCeiling: ceiling,
			Degraded:    true,
		},
		Err: err,
	}
}
