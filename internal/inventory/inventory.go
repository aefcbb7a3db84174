// Package inventory renders the static context fragments: the device
// inventory, area list, service catalog, capability summary, and
// helpers. Each provider implements fragment.Provider, owns its cache
// TTL and size ceiling, and degrades to a placeholder section when
// Home Assistant is unreachable so assembly never fails on a dead
// source.
package inventory

import (
	"context"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/fragment"
	"github.com/wtthornton/HomeIQ-sub000/internal/homeassistant"
)

// Fragment cache keys, also the names surfaced in degraded-fragment lists.
const (
	KeyDevices      = "inventory.devices"
	KeyAreas        = "inventory.areas"
	KeyServices     = "inventory.services"
	KeyCapabilities = "inventory.capabilities"
	KeyHelpers      = "inventory.helpers"
)

// Default cache lifetimes, tuned to how often each catalog actually
// changes on a running installation.
const (
	DefaultDevicesTTL      = 15 * time.Minute
	DefaultAreasTTL        = 30 * time.Minute
	DefaultServicesTTL     = 30 * time.Minute
	DefaultCapabilitiesTTL = 15 * time.Minute
	DefaultHelpersTTL      = 15 * time.Minute
)

// Content ceilings in characters. Oversized renders are clamped by the
// shared fetch path.
const (
	devicesCeiling      = 4000
	areasCeiling        = 1000
	servicesCeiling     = 2000
	capabilitiesCeiling = 1500
	helpersCeiling      = 1500
)

// Source is the Home Assistant surface the static providers consume.
// Implemented by homeassistant.Client.
type Source interface {
	GetEntities(ctx context.Context, domain string) ([]homeassistant.EntityInfo, error)
	GetAreas(ctx context.Context) ([]homeassistant.Area, error)
	GetServices(ctx context.Context) ([]homeassistant.ServiceDomain, error)
}

// helperDomains are rendered in the helpers section, not the device
// inventory.
var helperDomains = map[string]bool{
	"input_boolean":  true,
	"input_number":   true,
	"input_select":   true,
	"input_text":     true,
	"input_datetime": true,
	"input_button":   true,
	"timer":          true,
	"counter":        true,
	"scene":          true,
	"script":         true,
	"automation":     true,
}

// hiddenDomains never appear in rendered context.
var hiddenDomains = map[string]bool{
	"zone":                    true,
	"persistent_notification": true,
	"update":                  true,
	"tts":                     true,
}

// TTLs carries per-provider cache lifetimes. Zero fields fall back to
// the package defaults.
type TTLs struct {
	Devices      time.Duration
	Areas        time.Duration
	Services     time.Duration
	Capabilities time.Duration
	Helpers      time.Duration
}

// Providers returns the five static providers in composed-context
// order: devices, areas, services, capabilities, helpers.
func Providers(src Source, ttls TTLs) []fragment.Provider {
	return []fragment.Provider{
		NewDevices(src, ttls.Devices),
		NewAreas(src, ttls.Areas),
		NewServices(src, ttls.Services),
		NewCapabilities(src, ttls.Capabilities),
		NewHelpers(src, ttls.Helpers),
	}
}

func orDefault(ttl, fallback time.Duration) time.Duration {
	if ttl <= 0 {
		return fallback
	}
	return ttl
}
