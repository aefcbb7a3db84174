package defaults

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wtthornton/HomeIQ-sub000/internal/config"
)

// The embedded example must always load and validate, since init hands
// it to new users verbatim.
func TestConfigYAMLLoadsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, ConfigYAML, 0o600); err != nil {
		t.Fatalf("write example config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example config does not validate: %v", err)
	}

	if cfg.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", cfg.Model)
	}
	if cfg.MQTT.Enabled {
		t.Error("example config should ship with mqtt disabled")
	}
	if cfg.Budget.MaxInputTokens != 16000 {
		t.Errorf("Budget.MaxInputTokens = %d, want 16000", cfg.Budget.MaxInputTokens)
	}
	if cfg.Context.Fragments.LiveStateTTLSec != 30 {
		t.Errorf("Fragments.LiveStateTTLSec = %d, want 30", cfg.Context.Fragments.LiveStateTTLSec)
	}
}
