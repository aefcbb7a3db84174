package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/assembler"
	"github.com/wtthornton/HomeIQ-sub000/internal/composer"
	"github.com/wtthornton/HomeIQ-sub000/internal/config"
	"github.com/wtthornton/HomeIQ-sub000/internal/convstore"
	"github.com/wtthornton/HomeIQ-sub000/internal/events"
	"github.com/wtthornton/HomeIQ-sub000/internal/fragment"
	"github.com/wtthornton/HomeIQ-sub000/internal/homeassistant"
	"github.com/wtthornton/HomeIQ-sub000/internal/inventory"
	"github.com/wtthornton/HomeIQ-sub000/internal/livestate"
	"github.com/wtthornton/HomeIQ-sub000/internal/paths"
	"github.com/wtthornton/HomeIQ-sub000/internal/patterns"
	"github.com/wtthornton/HomeIQ-sub000/internal/tokens"
	"github.com/wtthornton/HomeIQ-sub000/internal/truncate"
	"github.com/wtthornton/HomeIQ-sub000/internal/usage"
)

// engine bundles the assembly pipeline and its collaborators. One
// engine serves one process; the fragment cache, live-state window,
// and activity recorder inside it are shared across assemblies.
type engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store     convstore.Store
	ledger    *usage.Store
	ha        *homeassistant.Client
	cache     *fragment.Cache
	providers []fragment.Provider
	window    *livestate.Window
	recorder  *patterns.Recorder
	budget    tokens.Budget
	asm       *assembler.Assembler
}

// buildEngine constructs the full pipeline from configuration. The bus
// may be nil for one-shot commands; the assembler publishes into it
// when present. Callers own the returned engine and must Close it.
func buildEngine(cfg *config.Config, bus *events.Bus, logger *slog.Logger) (*engine, error) {
	store, err := openConversationStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	ledger, err := openLedger(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	acct, err := tokens.NewAccountant(cfg.Model, logger)
	if err != nil {
		if ledger != nil {
			ledger.Close()
		}
		store.Close()
		return nil, fmt.Errorf("token accountant for model %s: %w", cfg.Model, err)
	}

	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, cfg.HomeAssistant.Timeout(), logger)
	cache := fragment.NewCache(logger)

	frags := cfg.Context.Fragments
	providers := inventory.Providers(ha, inventory.TTLs{
		Devices:      time.Duration(frags.InventoryTTLSec) * time.Second,
		Areas:        time.Duration(frags.AreasTTLSec) * time.Second,
		Services:     time.Duration(frags.ServicesTTLSec) * time.Second,
		Capabilities: time.Duration(frags.CapabilitiesTTLSec) * time.Second,
		Helpers:      time.Duration(frags.HelpersTTLSec) * time.Second,
	})

	comp := composer.New(store, cache, providers, cfg.Context.RefreshWindow(), logger)
	trunc := truncate.New(acct, logger, truncate.WithRecentWindow(cfg.Context.RecentHistoryWindow))
	window := livestate.NewWindow(0, 0)
	recorder := patterns.NewRecorder(0, logger)

	budget := tokens.Budget{
		MaxInputTokens:         cfg.Budget.MaxInputTokens,
		ReservedResponseTokens: cfg.Budget.ReservedResponseTokens,
	}

	asm := assembler.New(assembler.Config{
		Store:        store,
		Composer:     comp,
		Cache:        cache,
		Inventory:    ha,
		States:       ha,
		Window:       window,
		Recorder:     recorder,
		Truncator:    trunc,
		Accountant:   acct,
		Budget:       budget,
		Bus:          bus,
		Audit:        ledger,
		Model:        cfg.Model,
		Logger:       logger,
		LiveStateTTL: time.Duration(frags.LiveStateTTLSec) * time.Second,
		PatternsTTL:  time.Duration(frags.PatternsTTLSec) * time.Second,
	})

	return &engine{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		ledger:    ledger,
		ha:        ha,
		cache:     cache,
		providers: providers,
		window:    window,
		recorder:  recorder,
		budget:    budget,
		asm:       asm,
	}, nil
}

// Close releases the engine's database handles.
func (e *engine) Close() {
	if e.ledger != nil {
		if err := e.ledger.Close(); err != nil {
			e.logger.Warn("close ledger failed", "error", err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("close conversation store failed", "error", err)
	}
}

// refreshFragments fetches every static provider through the cache,
// rebuilding expired entries. Returns how many came back degraded.
func (e *engine) refreshFragments(ctx context.Context) int {
	var degraded int
	for _, p := range e.providers {
		frag := fragment.Fetch(ctx, e.cache, p, e.logger)
		if frag.Degraded {
			degraded++
		}
	}
	return degraded
}

// openConversationStore selects the conversation store per config: an
// empty conversations_path keeps history in memory for the lifetime of
// the process.
func openConversationStore(cfg *config.Config, logger *slog.Logger) (convstore.Store, error) {
	if cfg.Store.ConversationsPath == "" {
		logger.Info("conversation store is in-memory (no conversations_path configured)")
		return convstore.NewMemStore(), nil
	}

	path := paths.ExpandHome(cfg.Store.ConversationsPath)
	if err := paths.EnsureParent(path); err != nil {
		return nil, err
	}
	db, err := convstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open conversation database %s: %w", path, err)
	}
	store, err := convstore.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare conversation database %s: %w", path, err)
	}
	logger.Info("conversation database opened", "path", path)
	return store, nil
}

// openLedger opens the assembly ledger, or returns nil when no
// ledger_path is configured. A nil ledger disables auditing.
func openLedger(cfg *config.Config, logger *slog.Logger) (*usage.Store, error) {
	if cfg.Store.LedgerPath == "" {
		logger.Info("assembly ledger disabled (no ledger_path configured)")
		return nil, nil
	}

	path := paths.ExpandHome(cfg.Store.LedgerPath)
	if err := paths.EnsureParent(path); err != nil {
		return nil, err
	}
	db, err := usage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database %s: %w", path, err)
	}
	ledger, err := usage.NewStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare ledger database %s: %w", path, err)
	}
	logger.Info("assembly ledger opened", "path", path)
	return ledger, nil
}
