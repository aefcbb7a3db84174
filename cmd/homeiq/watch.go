package main

import (
	"context"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/buildinfo"
	"github.com/wtthornton/HomeIQ-sub000/internal/connwatch"
	"github.com/wtthornton/HomeIQ-sub000/internal/events"
	"github.com/wtthornton/HomeIQ-sub000/internal/homeassistant"
	"github.com/wtthornton/HomeIQ-sub000/internal/mqtt"
	"github.com/wtthornton/HomeIQ-sub000/internal/paths"
)

// freshnessInterval is how often watch mode re-fetches the static
// fragments and logs cache state. Fresh entries are cache hits, so the
// tick is cheap; expired and degraded entries rebuild here instead of
// on the next assembly's critical path.
const freshnessInterval = time.Minute

// runWatch handles the "homeiq watch" subcommand: the long-running
// feed mode. It connects the websocket state watch and the optional
// MQTT subscriber to the event bus, keeps the static fragments warm,
// monitors endpoint health, and logs the event stream until the
// process receives SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The MQTT subscriber publishes its offline status and disconnects
//  3. The websocket closes; databases close via the engine
func runWatch(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, logLevel(cfg))
	logger.Info("starting HomeIQ watch",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"model", cfg.Model,
		"ha_url", cfg.HomeAssistant.URL,
	)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()

	eng, err := buildEngine(cfg, bus, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	// --- Activity recorder ---
	// Tallies entity activity from every feed on the bus. The recorder
	// goroutine exits when ctx is cancelled.
	recCh := bus.Subscribe(64)
	go eng.recorder.Run(ctx, recCh)

	// --- Websocket state watch ---
	// state_changed events feed the live-state window directly and the
	// bus for everything else. The subscription itself is established
	// by the connection watcher's OnReady callback below.
	ws := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	handler := func(entityID, oldState, newState string) {
		eng.window.Record(entityID, oldState, newState)
		bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceStateWatch,
			Kind:      events.KindStateChanged,
			Data: map[string]any{
				"entity_id": entityID,
				"old_state": oldState,
				"new_state": newState,
			},
		})
	}
	subCfg := cfg.HomeAssistant.Subscribe
	filter := homeassistant.NewEntityFilter(subCfg.EntityGlobs, logger)
	limiter := homeassistant.NewEntityRateLimiter(subCfg.RateLimitPerMinute)
	watcher := homeassistant.NewStateWatcher(ws.Events(), filter, limiter, handler, logger)
	go watcher.Run(ctx)
	logger.Info("state watcher started",
		"entity_globs", subCfg.EntityGlobs,
		"rate_limit_per_minute", subCfg.RateLimitPerMinute,
	)

	// --- Connection resilience ---
	// Background health monitoring with exponential backoff. The
	// websocket (re)connects whenever the REST endpoint comes back, so
	// a Home Assistant restart needs no homeiq restart.
	connMgr := connwatch.NewManager(bus, logger)
	defer connMgr.Stop()

	var subscribeOnce sync.Once
	haWatcher := connMgr.Watch(ctx, connwatch.WatcherConfig{
		Name:    "ha-rest",
		Probe:   func(pCtx context.Context) error { return eng.ha.Ping(pCtx) },
		Backoff: connwatch.DefaultBackoffConfig(),
		OnReady: func() {
			wsCtx, wsCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer wsCancel()
			if err := ws.Reconnect(wsCtx); err != nil {
				logger.Error("websocket reconnect failed", "error", err)
				return
			}

			// Subscribe to state_changed on the first connection.
			// Later reconnects restore subscriptions automatically.
			subscribeOnce.Do(func() {
				subCtx, subCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer subCancel()
				if err := ws.Subscribe(subCtx, "state_changed"); err != nil {
					logger.Error("subscribe to state_changed failed", "error", err)
				} else {
					logger.Info("subscribed to state_changed events")
				}
			})
		},
		Logger: logger,
	})
	eng.ha.SetWatcher(haWatcher)

	// --- MQTT activity feed ---
	var sub *mqtt.Subscriber
	if cfg.MQTT.Enabled {
		dataDir, err := paths.EnsureDataDir()
		if err != nil {
			return err
		}
		instanceID, err := mqtt.LoadOrCreateInstanceID(dataDir)
		if err != nil {
			return err
		}
		sub = mqtt.NewSubscriber(cfg.MQTT, instanceID, mqtt.BusHandler(bus, logger), logger)
		go func() {
			if err := sub.Start(ctx); err != nil {
				logger.Error("mqtt subscriber failed", "error", err)
			}
		}()

		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name: "mqtt",
			Probe: func(pCtx context.Context) error {
				awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
				defer awaitCancel()
				return sub.AwaitConnection(awaitCtx)
			},
			Backoff: connwatch.DefaultBackoffConfig(),
			Logger:  logger,
		})
		logger.Info("mqtt feed enabled", "broker", cfg.MQTT.Broker, "topics", cfg.MQTT.Topics)
	} else {
		logger.Info("mqtt feed disabled (not configured)")
	}

	// --- Event stream and freshness loop ---
	evCh := bus.Subscribe(64)
	ticker := time.NewTicker(freshnessInterval)
	defer ticker.Stop()

	if degraded := eng.refreshFragments(ctx); degraded > 0 {
		logger.Warn("initial fragment warm incomplete", "degraded", degraded)
	}
	logFreshness(logger, eng)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")

			// Publish MQTT offline status before disconnecting.
			if sub != nil {
				offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := sub.Stop(offlineCtx); err != nil {
					logger.Error("mqtt shutdown failed", "error", err)
				}
				offlineCancel()
			}
			_ = ws.Close()

			logger.Info("HomeIQ watch stopped")
			return nil
		case ev := <-evCh:
			logEvent(logger, ev)
		case <-ticker.C:
			degraded := eng.refreshFragments(ctx)
			if degraded > 0 {
				logger.Warn("fragment refresh incomplete", "degraded", degraded)
			}
			logFreshness(logger, eng)
		}
	}
}

// logEvent writes one bus event to the log. The high-volume feed kinds
// go to Debug; lifecycle and health transitions go to Info.
func logEvent(logger *slog.Logger, ev events.Event) {
	attrs := make([]any, 0, 2+2*len(ev.Data))
	attrs = append(attrs, "source", ev.Source)
	for k, v := range ev.Data {
		attrs = append(attrs, k, v)
	}

	switch ev.Kind {
	case events.KindStateChanged, events.KindActivity:
		logger.Debug(ev.Kind, attrs...)
	default:
		logger.Info(ev.Kind, attrs...)
	}
}

// logFreshness summarizes the fragment cache and feed windows. Per-key
// detail goes to Debug; the one-line summary goes to Info.
func logFreshness(logger *slog.Logger, eng *engine) {
	now := time.Now()
	var stale int
	for _, key := range eng.cache.Keys() {
		frag, fresh := eng.cache.Get(key)
		if !fresh {
			stale++
		}
		logger.Debug("fragment",
			"key", key,
			"fresh", fresh,
			"degraded", frag.Degraded,
			"age", now.Sub(frag.GeneratedAt).Truncate(time.Second),
			"size", len(frag.Content),
		)
	}
	logger.Info("feed status",
		"fragments", eng.cache.Len(),
		"stale", stale,
		"window_entries", eng.window.Len(),
	)
}
