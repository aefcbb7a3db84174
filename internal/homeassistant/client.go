// Package homeassistant provides clients for the Home Assistant API.
// The REST client is the inventory source for the context engine:
// entity, area, and service records flow from here into the fragment
// providers. The WebSocket client feeds live state changes.
package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/httpkit"
)

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	watcher    readyChecker // set via SetWatcher for health status
}

// readyChecker is satisfied by connwatch.Watcher. Defined here to avoid
// importing connwatch directly, keeping the dependency one-directional.
type readyChecker interface {
	IsReady() bool
}

// SetWatcher sets the connection watcher for health status queries.
func (c *Client) SetWatcher(w readyChecker) {
	c.watcher = w
}

// IsReady reports whether Home Assistant is currently reachable.
// Returns true if no watcher is configured (backward compatible).
func (c *Client) IsReady() bool {
	if c.watcher == nil {
		return true
	}
	return c.watcher.IsReady()
}

// NewClient creates a new Home Assistant client. LAN dials can
// transiently fail (sleeping hosts, ARP churn); retry with a short
// delay lets the route settle before the second attempt.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// State represents an entity state from Home Assistant.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// FriendlyName returns the friendly_name attribute, or "" when unset.
func (s State) FriendlyName() string {
	if fn, ok := s.Attributes["friendly_name"].(string); ok {
		return fn
	}
	return ""
}

// Domain returns the entity domain (the part before the first dot).
func (s State) Domain() string {
	parts := splitEntityID(s.EntityID)
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

// APIStatus represents the HA API status response.
type APIStatus struct {
	Message string `json:"message"`
}

// InstanceConfig represents basic HA configuration.
type InstanceConfig struct {
	LocationName string  `json:"location_name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Elevation    int     `json:"elevation"`
	UnitSystem   struct {
		Length      string `json:"length"`
		Mass        string `json:"mass"`
		Temperature string `json:"temperature"`
		Volume      string `json:"volume"`
	} `json:"unit_system"`
	TimeZone string `json:"time_zone"`
	Version  string `json:"version"`
}

// Ping checks if the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var status APIStatus
	if err := c.get(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetConfig retrieves the Home Assistant instance configuration.
func (c *Client) GetConfig(ctx context.Context) (*InstanceConfig, error) {
	var cfg InstanceConfig
	if err := c.get(ctx, "/api/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetStates retrieves all entity states.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := c.get(ctx, "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// GetState retrieves a single entity state.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	var state State
	if err := c.get(ctx, "/api/states/"+entityID, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Area represents a Home Assistant area.
type Area struct {
	AreaID  string   `json:"area_id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// GetAreas retrieves all areas from the area registry.
func (c *Client) GetAreas(ctx context.Context) ([]Area, error) {
	var areas []Area
	if err := c.get(ctx, "/api/config/area_registry/list", &areas); err != nil {
		return nil, err
	}
	return areas, nil
}

// EntityRegistryEntry represents an entity from the registry with area info.
type EntityRegistryEntry struct {
	EntityID     string   `json:"entity_id"`
	Name         string   `json:"name"`
	OriginalName string   `json:"original_name"`
	AreaID       string   `json:"area_id"`
	DeviceID     string   `json:"device_id"`
	Platform     string   `json:"platform"`
	DisabledBy   string   `json:"disabled_by"`
	Aliases      []string `json:"aliases"`
}

// IsDisabled reports whether the entity is disabled in Home Assistant.
func (e EntityRegistryEntry) IsDisabled() bool {
	return e.DisabledBy != ""
}

// GetEntityRegistry retrieves the entity registry.
func (c *Client) GetEntityRegistry(ctx context.Context) ([]EntityRegistryEntry, error) {
	var entries []EntityRegistryEntry
	if err := c.get(ctx, "/api/config/entity_registry/list", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ServiceField describes a single parameter of a service.
type ServiceField struct {
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Example     any    `json:"example"`
}

// ServiceInfo describes one callable service within a domain.
type ServiceInfo struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Fields      map[string]ServiceField `json:"fields"`
}

// ServiceDomain groups the services exposed by one domain.
type ServiceDomain struct {
	Domain   string                 `json:"domain"`
	Services map[string]ServiceInfo `json:"services"`
}

// GetServices retrieves the service catalog, sorted by domain so that
// rendered output is stable across calls.
func (c *Client) GetServices(ctx context.Context) ([]ServiceDomain, error) {
	var domains []ServiceDomain
	if err := c.get(ctx, "/api/services", &domains); err != nil {
		return nil, err
	}
	sort.Slice(domains, func(i, j int) bool {
		return domains[i].Domain < domains[j].Domain
	})
	return domains, nil
}

// EntityInfo is the joined inventory record for a single entity:
// current state plus registry and area enrichment. This is the shape
// the relevance scorer and entity resolver operate on.
type EntityInfo struct {
	EntityID     string
	FriendlyName string
	Domain       string
	AreaID       string
	AreaName     string
	Aliases      []string
	State        string
	Attributes   map[string]any
}

// GetEntities retrieves the joined entity inventory, optionally
// filtered by domain. States are required; registry and area
// enrichment (area names, aliases, disabled filtering) is best-effort,
// so a registry outage degrades the join rather than failing it.
func (c *Client) GetEntities(ctx context.Context, domain string) ([]EntityInfo, error) {
	states, err := c.GetStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("get states: %w", err)
	}

	registry := make(map[string]EntityRegistryEntry)
	if entries, err := c.GetEntityRegistry(ctx); err == nil {
		for _, e := range entries {
			registry[e.EntityID] = e
		}
	}

	areaNames := make(map[string]string)
	if areas, err := c.GetAreas(ctx); err == nil {
		for _, a := range areas {
			areaNames[a.AreaID] = a.Name
		}
	}

	var entities []EntityInfo
	for _, s := range states {
		parts := splitEntityID(s.EntityID)
		if len(parts) != 2 {
			continue
		}
		entityDomain := parts[0]

		if domain != "" && entityDomain != domain {
			continue
		}

		info := EntityInfo{
			EntityID:     s.EntityID,
			FriendlyName: s.FriendlyName(),
			Domain:       entityDomain,
			State:        s.State,
			Attributes:   s.Attributes,
		}

		if reg, ok := registry[s.EntityID]; ok {
			if reg.IsDisabled() {
				continue
			}
			info.AreaID = reg.AreaID
			info.AreaName = areaNames[reg.AreaID]
			info.Aliases = reg.Aliases
			if info.FriendlyName == "" {
				if reg.Name != "" {
					info.FriendlyName = reg.Name
				} else {
					info.FriendlyName = reg.OriginalName
				}
			}
		}

		entities = append(entities, info)
	}

	return entities, nil
}

func splitEntityID(entityID string) []string {
	for i, c := range entityID {
		if c == '.' {
			return []string{entityID[:i], entityID[i+1:]}
		}
	}
	return nil
}

// get performs a GET request to the HA API.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
