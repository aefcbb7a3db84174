package livestate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/fragment"
	"github.com/wtthornton/HomeIQ-sub000/internal/homeassistant"
)

// DefaultTTL keeps live state fresher than any other fragment. State
// against a running home goes stale in seconds, not minutes.
const DefaultTTL = 30 * time.Second

const liveStateCeiling = 1500

// KeyPrefix namespaces live-state fragments in the shared cache. The
// full key includes the entity scope so different resolutions never
// collide.
const KeyPrefix = "livestate."

// StateSource fetches a single entity's current state. Implemented by
// homeassistant.Client.
type StateSource interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
}

// Provider renders the live-state fragment for a fixed set of
// entities: current REST states plus recent transitions from the
// window. A new Provider is built per assembly from the resolver's
// matches; the fragment cache makes repeated scopes cheap.
type Provider struct {
	src     StateSource
	window  *Window
	ids     []string // sorted
	ttl     time.Duration
	timeout time.Duration
}

// NewProvider creates a provider scoped to entityIDs. The window may
// be nil when no watcher is running; the snapshot still renders. A
// zero ttl uses DefaultTTL.
func NewProvider(src StateSource, window *Window, entityIDs []string, ttl time.Duration) *Provider {
	ids := make([]string, len(entityIDs))
	copy(ids, entityIDs)
	sort.Strings(ids)

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{
		src:     src,
		window:  window,
		ids:     ids,
		ttl:     ttl,
		timeout: fragment.DefaultBuildTimeout,
	}
}

// Key is stable for a given entity scope regardless of the order the
// ids arrived in.
func (p *Provider) Key() string {
	return KeyPrefix + strings.Join(p.ids, "+")
}

func (p *Provider) Build(ctx context.Context) fragment.Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if len(p.ids) == 0 {
		return fragment.Result{Fragment: fragment.Fragment{
			Key:         p.Key(),
			TTL:         p.ttl,
			SizeCeiling: liveStateCeiling,
		}}
	}

	var lines []string
	var failed []string
	var lastErr error
	for _, id := range p.ids {
		if ctx.Err() != nil {
			failed = append(failed, id)
			lastErr = ctx.Err()
			continue
		}
		st, err := p.src.GetState(ctx, id)
		if err != nil {
			failed = append(failed, id)
			lastErr = err
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", id, st.State))
	}

	if len(lines) == 0 {
		return fragment.DegradedResult(p.Key(), "### Live State\n(live state unavailable)", liveStateCeiling,
			fmt.Errorf("all %d entities failed: %w", len(p.ids), lastErr))
	}
	for _, id := range failed {
		lines = append(lines, fmt.Sprintf("- %s: (unavailable)", id))
	}

	var sb strings.Builder
	sb.WriteString("### Live State\n")
	sb.WriteString(strings.Join(lines, "\n"))

	if changes := p.window.Recent(p.ids); len(changes) > 0 {
		sb.WriteString("\nRecent changes:\n")
		for _, e := range changes {
			fmt.Fprintf(&sb, "- %s: %s → %s (%s)\n", e.EntityID, e.OldState, e.NewState,
				e.Timestamp.UTC().Format(time.RFC3339))
		}
	}

	return fragment.Result{Fragment: fragment.Fragment{
		Key:         p.Key(),
		Content:     strings.TrimRight(sb.String(), "\n"),
		TTL:         p.ttl,
		SizeCeiling: liveStateCeiling,
	}}
}
