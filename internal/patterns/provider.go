package patterns

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/fragment"
)

// DefaultTTL balances freshness against recomputation; activity
// summaries drift slowly compared to raw state.
const DefaultTTL = 2 * time.Minute

const patternsCeiling = 1200

// KeyPrefix namespaces recent-patterns fragments in the shared cache.
const KeyPrefix = "patterns."

// maxSummaryLines bounds the rendered fragment before the character
// ceiling even gets a say.
const maxSummaryLines = 15

// Provider renders the recent-patterns fragment for a fixed
// entity/area scope. Built fresh per assembly from the resolver's
// matches; the recorder behind it is shared and long-lived.
type Provider struct {
	rec   *Recorder
	ids   []string // sorted
	areas []string // sorted
	ttl   time.Duration
}

// NewProvider creates a provider scoped to the given entities and
// areas. A zero ttl uses DefaultTTL.
func NewProvider(rec *Recorder, entityIDs, areas []string, ttl time.Duration) *Provider {
	ids := make([]string, len(entityIDs))
	copy(ids, entityIDs)
	sort.Strings(ids)

	ar := make([]string, len(areas))
	copy(ar, areas)
	sort.Strings(ar)

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{rec: rec, ids: ids, areas: ar, ttl: ttl}
}

// Key is stable for a given scope regardless of input order.
func (p *Provider) Key() string {
	parts := append(append([]string{}, p.areas...), p.ids...)
	return KeyPrefix + strings.Join(parts, "+")
}

// Build renders the activity summary. The recorder is in-memory, so
// there is no failure mode: an empty window yields an empty fragment,
// never a degraded one.
func (p *Provider) Build(_ context.Context) fragment.Result {
	summaries := p.rec.Summaries(p.ids, p.areas)

	frag := fragment.Fragment{
		Key:         p.Key(),
		TTL:         p.ttl,
		SizeCeiling: patternsCeiling,
	}
	if len(summaries) == 0 {
		return fragment.Result{Fragment: frag}
	}
	if len(summaries) > maxSummaryLines {
		summaries = summaries[:maxSummaryLines]
	}

	var sb strings.Builder
	sb.WriteString("### Recent Activity\n")
	for _, s := range summaries {
		fmt.Fprintf(&sb, "- %s: %d events, last at %s", s.EntityID, s.Count,
			s.LastSeen.UTC().Format("15:04:05"))
		if s.LastState != "" {
			fmt.Fprintf(&sb, " (now %s)", s.LastState)
		}
		sb.WriteByte('\n')
	}

	frag.Content = strings.TrimRight(sb.String(), "\n")
	return fragment.Result{Fragment: frag}
}
