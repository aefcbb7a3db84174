// Package paths resolves the filesystem locations HomeIQ writes to.
// Durable state that is not placed explicitly by configuration (the
// MQTT instance id, for example) lives under a single data directory,
// ~/.homeiq by default, movable with the HOMEIQ_DATA environment
// variable. Configured database paths are used as given after tilde
// expansion.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvDataDir overrides the default data directory when set.
const EnvDataDir = "HOMEIQ_DATA"

// DataDir returns the HomeIQ data directory without creating it.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return ExpandHome(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".homeiq"), nil
}

// EnsureDataDir returns the data directory, creating it if needed.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return dir, nil
}

// EnsureParent creates the parent directory of path so a database file
// can be opened there. SQLite does not create missing directories.
func EnsureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory %s: %w", dir, err)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
// Paths that do not start with ~ are returned unchanged, as are
// ~user forms, which Go cannot resolve portably.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
