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

// Devices renders the full device inventory grouped by area.
type Devices struct {
	src     Source
	ttl     time.Duration
	timeout time.Duration
}

// NewDevices creates the device inventory provider. A zero ttl uses
// the package default.
func NewDevices(src Source, ttl time.Duration) *Devices {
	return &Devices{
		src:     src,
		ttl:     orDefault(ttl, DefaultDevicesTTL),
		timeout: fragment.DefaultBuildTimeout,
	}
}

func (p *Devices) Key() string { return KeyDevices }

func (p *Devices) Build(ctx context.Context) fragment.Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	entities, err := p.src.GetEntities(ctx, "")
	if err != nil {
		return fragment.DegradedResult(KeyDevices, "### Devices\n(devices unavailable)", devicesCeiling, err)
	}

	return fragment.Result{Fragment: fragment.Fragment{
		Key:         KeyDevices,
		Content:     renderDevices(entities),
		TTL:         p.ttl,
		SizeCeiling: devicesCeiling,
	}}
}

// renderDevices groups entities by area name, areas sorted
// alphabetically with unassigned entities last.
func renderDevices(entities []homeassistant.EntityInfo) string {
	byArea := make(map[string][]homeassistant.EntityInfo)
	for _, e := range entities {
		if helperDomains[e.Domain] || hiddenDomains[e.Domain] {
			continue
		}
		byArea[e.AreaName] = append(byArea[e.AreaName], e)
	}
	if len(byArea) == 0 {
		return "### Devices\n(no devices found)"
	}

	areas := make([]string, 0, len(byArea))
	for name := range byArea {
		if name != "" {
			areas = append(areas, name)
		}
	}
	sort.Strings(areas)
	if _, ok := byArea[""]; ok {
		areas = append(areas, "")
	}

	var sb strings.Builder
	sb.WriteString("### Devices")
	for _, area := range areas {
		group := byArea[area]
		sort.Slice(group, func(i, j int) bool {
			return group[i].EntityID < group[j].EntityID
		})

		header := area
		if header == "" {
			header = "Unassigned"
		}
		fmt.Fprintf(&sb, "\n**%s**\n", header)
		for _, e := range group {
			if e.FriendlyName != "" && e.FriendlyName != e.EntityID {
				fmt.Fprintf(&sb, "- %s (%s): %s\n", e.EntityID, e.FriendlyName, e.State)
			} else {
				fmt.Fprintf(&sb, "- %s: %s\n", e.EntityID, e.State)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
