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

// Helpers renders input helpers, scenes, scripts, and automations.
type Helpers struct {
	src     Source
	ttl     time.Duration
	timeout time.Duration
}

// NewHelpers creates the helpers provider. A zero ttl uses the package
// default.
func NewHelpers(src Source, ttl time.Duration) *Helpers {
	return &Helpers{
		src:     src,
		ttl:     orDefault(ttl, DefaultHelpersTTL),
		timeout: fragment.DefaultBuildTimeout,
	}
}

func (p *Helpers) Key() string { return KeyHelpers }

func (p *Helpers) Build(ctx context.Context) fragment.Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	entities, err := p.src.GetEntities(ctx, "")
	if err != nil {
		return fragment.DegradedResult(KeyHelpers, "### Helpers & Scenes\n(helpers unavailable)", helpersCeiling, err)
	}

	return fragment.Result{Fragment: fragment.Fragment{
		Key:         KeyHelpers,
		Content:     renderHelpers(entities),
		TTL:         p.ttl,
		SizeCeiling: helpersCeiling,
	}}
}

func renderHelpers(entities []homeassistant.EntityInfo) string {
	var helpers []homeassistant.EntityInfo
	for _, e := range entities {
		if helperDomains[e.Domain] {
			helpers = append(helpers, e)
		}
	}
	if len(helpers) == 0 {
		return "### Helpers & Scenes\n(none defined)"
	}

	sort.Slice(helpers, func(i, j int) bool {
		return helpers[i].EntityID < helpers[j].EntityID
	})

	var sb strings.Builder
	sb.WriteString("### Helpers & Scenes\n")
	for _, e := range helpers {
		name := ""
		if e.FriendlyName != "" && e.FriendlyName != e.EntityID {
			name = " (" + e.FriendlyName + ")"
		}
		if showHelperState(e.Domain) {
			fmt.Fprintf(&sb, "- %s%s: %s\n", e.EntityID, name, e.State)
		} else {
			fmt.Fprintf(&sb, "- %s%s\n", e.EntityID, name)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// showHelperState reports whether a helper's state is meaningful in
// context. Scene and script states are just last-activated timestamps.
func showHelperState(domain string) bool {
	switch domain {
	case "scene", "script", "automation":
		return false
	}
	return strings.HasPrefix(domain, "input_") || domain == "timer" || domain == "counter"
}
