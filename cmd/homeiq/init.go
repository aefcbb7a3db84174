package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wtthornton/HomeIQ-sub000/internal/defaults"
)

// runInit handles the "homeiq init" subcommand: it scaffolds a working
// directory with a starter config. Existing files are never
// overwritten, so re-running init on a configured workspace is safe.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing HomeIQ workspace in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// The config holds the Home Assistant token, so owner-only.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(w, configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, set homeassistant.url and HA_TOKEN, then run:")
	fmt.Fprintln(w, `  homeiq assemble "turn on the kitchen lights"`)
	return nil
}

// writeIfMissing creates path with the given content and mode, skipping
// files that already exist. O_EXCL makes the existence check atomic.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if errors.Is(err, fs.ErrExist) {
		fmt.Fprintf(w, "  %s exists, skipping\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
