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

// Services renders the callable service catalog, one line per domain.
type Services struct {
	src     Source
	ttl     time.Duration
	timeout time.Duration
}

// NewServices creates the service catalog provider. A zero ttl uses
// the package default.
func NewServices(src Source, ttl time.Duration) *Services {
	return &Services{
		src:     src,
		ttl:     orDefault(ttl, DefaultServicesTTL),
		timeout: fragment.DefaultBuildTimeout,
	}
}

func (p *Services) Key() string { return KeyServices }

func (p *Services) Build(ctx context.Context) fragment.Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	domains, err := p.src.GetServices(ctx)
	if err != nil {
		return fragment.DegradedResult(KeyServices, "### Services\n(services unavailable)", servicesCeiling, err)
	}

	return fragment.Result{Fragment: fragment.Fragment{
		Key:         KeyServices,
		Content:     renderServices(domains),
		TTL:         p.ttl,
		SizeCeiling: servicesCeiling,
	}}
}

func renderServices(domains []homeassistant.ServiceDomain) string {
	if len(domains) == 0 {
		return "### Services\n(no services reported)"
	}

	var sb strings.Builder
	sb.WriteString("### Services\n")
	for _, d := range domains {
		names := make([]string, 0, len(d.Services))
		for name := range d.Services {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&sb, "- %s: %s\n", d.Domain, strings.Join(names, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}
