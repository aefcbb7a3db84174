package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/fragment"
)

// fragmentOutput describes one rendered fragment for the fragments
// subcommand.
type fragmentOutput struct {
	Key         string    `json:"key"`
	Degraded    bool      `json:"degraded"`
	Size        int       `json:"size"`
	TTLSec      int       `json:"ttl_sec"`
	GeneratedAt time.Time `json:"generated_at"`
	Content     string    `json:"content"`
}

// runFragments handles the "homeiq fragments" subcommand: every static
// inventory fragment is built once and printed with its freshness
// metadata. Useful for checking what the model actually sees and how
// large each section is.
func runFragments(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, logLevel(cfg))
	logger.Info("config loaded", "path", cfgPath, "ha_url", cfg.HomeAssistant.URL)

	eng, err := buildEngine(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	outputs := make([]fragmentOutput, 0, len(eng.providers))
	for _, p := range eng.providers {
		frag := fragment.Fetch(ctx, eng.cache, p, logger)
		outputs = append(outputs, fragmentOutput{
			Key:         frag.Key,
			Degraded:    frag.Degraded,
			Size:        len(frag.Content),
			TTLSec:      int(frag.TTL / time.Second),
			GeneratedAt: frag.GeneratedAt,
			Content:     frag.Content,
		})
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outputs)
	}

	for _, out := range outputs {
		status := "ok"
		if out.Degraded {
			status = "degraded"
		}
		fmt.Fprintf(stdout, "== %s (%s, %d bytes, ttl %s)\n", out.Key, status, out.Size, time.Duration(out.TTLSec)*time.Second)
		fmt.Fprintln(stdout, out.Content)
		fmt.Fprintln(stdout)
	}
	return nil
}
