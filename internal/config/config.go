// Package config handles HomeIQ configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/homeiq/config.yaml, /etc/homeiq/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "homeiq", "config.yaml"))
	}

	paths = append(paths, "/etc/homeiq/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all HomeIQ configuration.
type Config struct {
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Model         string              `yaml:"model"`
	Budget        BudgetConfig        `yaml:"budget"`
	Context       ContextConfig       `yaml:"context"`
	Store         StoreConfig         `yaml:"store"`
	LogLevel      string              `yaml:"log_level"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL        string          `yaml:"url"`
	Token      string          `yaml:"token"`
	TimeoutSec int             `yaml:"timeout_sec"` // per-request timeout (default 10)
	Subscribe  SubscribeConfig `yaml:"subscribe"`
}

// SubscribeConfig tunes the websocket state watch in watch mode.
type SubscribeConfig struct {
	// EntityGlobs restricts which entities feed the live-state window
	// ("light.*", "sensor.kitchen_*"). Empty matches every entity.
	EntityGlobs []string `yaml:"entity_globs"`
	// RateLimitPerMinute caps state changes processed per entity per
	// minute. Zero disables the limit.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// Timeout returns the per-request HA timeout as a duration.
func (c HomeAssistantConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// MQTTConfig defines the optional MQTT activity feed. When enabled,
// HomeIQ subscribes to the configured topics and folds matching
// messages into the recent-activity window.
type MQTTConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Broker     string   `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	ClientName string   `yaml:"client_name"` // default "homeiq"
	Topics     []string `yaml:"topics"`      // default homeassistant statestream
	// MaxMessagesPerSec caps inbound message processing; excess
	// messages are dropped (default 50).
	MaxMessagesPerSec int `yaml:"max_messages_per_sec"`
}

// BudgetConfig defines the process-wide token budget.
type BudgetConfig struct {
	MaxInputTokens         int `yaml:"max_input_tokens"`         // default 16000
	ReservedResponseTokens int `yaml:"reserved_response_tokens"` // default 4096
}

// ContextConfig tunes composed-context caching, history truncation,
// and per-fragment TTLs.
type ContextConfig struct {
	// RefreshWindowSec is how long a composed context block stays
	// fresh before static fragments are recomposed (default 300).
	RefreshWindowSec int `yaml:"refresh_window_sec"`
	// RecentHistoryWindow is how many recent messages truncation
	// prefers to keep (default 10).
	RecentHistoryWindow int             `yaml:"recent_history_window"`
	Fragments           FragmentsConfig `yaml:"fragments"`
}

// RefreshWindow returns the composed-context refresh window as a duration.
func (c ContextConfig) RefreshWindow() time.Duration {
	if c.RefreshWindowSec <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.RefreshWindowSec) * time.Second
}

// FragmentsConfig holds per-fragment TTLs in seconds. Static inventory
// fragments accept 300-1800; the live-state and activity fragments are
// far more volatile and accept 5-600.
type FragmentsConfig struct {
	InventoryTTLSec    int `yaml:"inventory_ttl_sec"`    // default 900
	AreasTTLSec        int `yaml:"areas_ttl_sec"`        // default 1800
	ServicesTTLSec     int `yaml:"services_ttl_sec"`     // default 1800
	CapabilitiesTTLSec int `yaml:"capabilities_ttl_sec"` // default 900
	HelpersTTLSec      int `yaml:"helpers_ttl_sec"`      // default 900
	LiveStateTTLSec    int `yaml:"live_state_ttl_sec"`   // default 30
	PatternsTTLSec     int `yaml:"patterns_ttl_sec"`     // default 120
}

// StoreConfig defines persistence locations. Empty paths select the
// in-memory conversation store and disable the assembly ledger.
type StoreConfig struct {
	ConversationsPath string `yaml:"conversations_path"`
	LedgerPath        string `yaml:"ledger_path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		HomeAssistant: HomeAssistantConfig{
			URL:        "http://homeassistant.local:8123",
			TimeoutSec: 10,
		},
		MQTT: MQTTConfig{
			Broker:            "mqtt://localhost:1883",
			ClientName:        "homeiq",
			Topics:            []string{"homeassistant/statestream/#"},
			MaxMessagesPerSec: 50,
		},
		Model: "gpt-4o",
		Budget: BudgetConfig{
			MaxInputTokens:         16000,
			ReservedResponseTokens: 4096,
		},
		Context: ContextConfig{
			RefreshWindowSec:    300,
			RecentHistoryWindow: 10,
			Fragments: FragmentsConfig{
				InventoryTTLSec:    900,
				AreasTTLSec:        1800,
				ServicesTTLSec:     1800,
				CapabilitiesTTLSec: 900,
				HelpersTTLSec:      900,
				LiveStateTTLSec:    30,
				PatternsTTLSec:     120,
			},
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for values the engine cannot run
// with. All problems are reported at once via errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if c.Budget.MaxInputTokens <= 0 {
		errs = append(errs, fmt.Errorf("budget.max_input_tokens must be positive, got %d", c.Budget.MaxInputTokens))
	}
	if c.Budget.ReservedResponseTokens < 0 {
		errs = append(errs, fmt.Errorf("budget.reserved_response_tokens must not be negative, got %d", c.Budget.ReservedResponseTokens))
	}
	if c.Budget.MaxInputTokens > 0 && c.Budget.ReservedResponseTokens >= c.Budget.MaxInputTokens {
		errs = append(errs, fmt.Errorf("budget.reserved_response_tokens (%d) must be below budget.max_input_tokens (%d)",
			c.Budget.ReservedResponseTokens, c.Budget.MaxInputTokens))
	}
	if c.Context.RecentHistoryWindow < 1 {
		errs = append(errs, fmt.Errorf("context.recent_history_window must be at least 1, got %d", c.Context.RecentHistoryWindow))
	}

	for _, ttl := range []struct {
		name     string
		sec      int
		min, max int
	}{
		{"inventory_ttl_sec", c.Context.Fragments.InventoryTTLSec, 300, 1800},
		{"areas_ttl_sec", c.Context.Fragments.AreasTTLSec, 300, 1800},
		{"services_ttl_sec", c.Context.Fragments.ServicesTTLSec, 300, 1800},
		{"capabilities_ttl_sec", c.Context.Fragments.CapabilitiesTTLSec, 300, 1800},
		{"helpers_ttl_sec", c.Context.Fragments.HelpersTTLSec, 300, 1800},
		{"live_state_ttl_sec", c.Context.Fragments.LiveStateTTLSec, 5, 600},
		{"patterns_ttl_sec", c.Context.Fragments.PatternsTTLSec, 5, 600},
	} {
		if ttl.sec < ttl.min || ttl.sec > ttl.max {
			errs = append(errs, fmt.Errorf("context.fragments.%s must be within %d-%d, got %d",
				ttl.name, ttl.min, ttl.max, ttl.sec))
		}
	}

	if c.HomeAssistant.Subscribe.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("homeassistant.subscribe.rate_limit_per_minute must not be negative, got %d",
			c.HomeAssistant.Subscribe.RateLimitPerMinute))
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
