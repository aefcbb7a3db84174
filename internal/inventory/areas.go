package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/fragment"
	"github.com/wtthornton/HomeIQ-sub000/internal/homeassistant"
)

// Areas renders the area registry.
type Areas struct {
	src     Source
	ttl     time.Duration
	timeout time.Duration
}

// NewAreas creates the area list provider. A zero ttl uses the package
// default.
func NewAreas(src Source, ttl time.Duration) *Areas {
	return &Areas{
		src:     src,
		ttl:     orDefault(ttl, DefaultAreasTTL),
		timeout: fragment.DefaultBuildTimeout,
	}
}

func (p *Areas) Key() string { return KeyAreas }

func (p *Areas) Build(ctx context.Context) fragment.Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	areas, err := p.src.GetAreas(ctx)
	if err != nil {
		return fragment.DegradedResult(KeyAreas, "### Areas\n(areas unavailable)", areasCeiling, err)
	}

	return fragment.Result{Fragment: fragment.Fragment{
		Key:         KeyAreas,
		Content:     renderAreas(areas),
		TTL:         p.ttl,
		SizeCeiling: areasCeiling,
	}}
}

func renderAreas(areas []homeassistant.Area) string {
	if len(areas) == 0 {
		return "### Areas\n(no areas defined)"
	}

	sorted := make([]homeassistant.Area, len(areas))
	copy(sorted, areas)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var sb strings.Builder
	sb.WriteString("### Areas\n")
	for _, a := range sorted {
		if len(a.Aliases) > 0 {
			fmt.Fprintf(&sb, "- %s (id: %s, aka: %s)\n", a.Name, a.AreaID, strings.Join(a.Aliases, ", "))
		} else {
			fmt.Fprintf(&sb, "- %s (id: %s)\n", a.Name, a.AreaID)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
