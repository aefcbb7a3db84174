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

// capabilityAttrs are the entity attributes worth summarizing per
// domain, in render order.
var capabilityAttrs = []string{
	"supported_color_modes",
	"hvac_modes",
	"fan_modes",
	"preset_modes",
	"device_class",
}

// Capabilities summarizes what each domain in the installation can
// actually do, derived from entity attributes.
type Capabilities struct {
	src     Source
	ttl     time.Duration
	timeout time.Duration
}

// NewCapabilities creates the capability summary provider. A zero ttl
// uses the package default.
func NewCapabilities(src Source, ttl time.Duration) *Capabilities {
	return &Capabilities{
		src:     src,
		ttl:     orDefault(ttl, DefaultCapabilitiesTTL),
		timeout: fragment.DefaultBuildTimeout,
	}
}

func (p *Capabilities) Key() string { return KeyCapabilities }

func (p *Capabilities) Build(ctx context.Context) fragment.Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	entities, err := p.src.GetEntities(ctx, "")
	if err != nil {
		return fragment.DegradedResult(KeyCapabilities, "### Capabilities\n(capabilities unavailable)", capabilitiesCeiling, err)
	}

	return fragment.Result{Fragment: fragment.Fragment{
		Key:         KeyCapabilities,
		Content:     renderCapabilities(entities),
		TTL:         p.ttl,
		SizeCeiling: capabilitiesCeiling,
	}}
}

func renderCapabilities(entities []homeassistant.EntityInfo) string {
	// domain → attribute → set of observed values
	byDomain := make(map[string]map[string]map[string]bool)
	for _, e := range entities {
		if hiddenDomains[e.Domain] {
			continue
		}
		for _, attr := range capabilityAttrs {
			raw, ok := e.Attributes[attr]
			if !ok {
				continue
			}
			for _, v := range attrValues(raw) {
				if byDomain[e.Domain] == nil {
					byDomain[e.Domain] = make(map[string]map[string]bool)
				}
				if byDomain[e.Domain][attr] == nil {
					byDomain[e.Domain][attr] = make(map[string]bool)
				}
				byDomain[e.Domain][attr][v] = true
			}
		}
	}
	if len(byDomain) == 0 {
		return "### Capabilities\n(no capability data)"
	}

	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var sb strings.Builder
	sb.WriteString("### Capabilities\n")
	for _, d := range domains {
		var parts []string
		for _, attr := range capabilityAttrs {
			values, ok := byDomain[d][attr]
			if !ok {
				continue
			}
			sorted := make([]string, 0, len(values))
			for v := range values {
				sorted = append(sorted, v)
			}
			sort.Strings(sorted)
			parts = append(parts, fmt.Sprintf("%s=%s", attr, strings.Join(sorted, "|")))
		}
		fmt.Fprintf(&sb, "- %s: %s\n", d, strings.Join(parts, "; "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// attrValues flattens an attribute value into strings. HA reports
// capability attributes as either a scalar or a list.
func attrValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
