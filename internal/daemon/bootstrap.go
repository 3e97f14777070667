// SPDX-License-Identifier: MIT

// Package daemon wires the presenced subsystems together and owns their
// lifecycle: servers, run loops and the shutdown order between them.
package daemon

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/presenced/internal/config"
	"github.com/ManuGH/presenced/internal/flip"
	"github.com/ManuGH/presenced/internal/gateway"
	"github.com/ManuGH/presenced/internal/health"
	"github.com/ManuGH/presenced/internal/log"
	"github.com/ManuGH/presenced/internal/presence"
	"github.com/ManuGH/presenced/internal/session"
	"github.com/ManuGH/presenced/internal/store"
	"github.com/ManuGH/presenced/internal/telemetry"
)

// Runtime is a fully wired presenced process.
type Runtime struct {
	Manager   Manager
	Health    *health.Manager
	Telemetry *telemetry.Provider
}

// Run starts the runtime and blocks until shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	return r.Manager.Start(ctx)
}

// Build constructs every subsystem from the configuration. Wiring follows
// the dependency chain: store, registry, fan-out, hub, gateway, servers.
// Construction failures are fatal to the process, so nothing built earlier
// is unwound here.
func Build(ctx context.Context, cfg config.Config, version string) (*Runtime, error) {
	logger := log.WithComponent("daemon")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "presenced",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	st, err := store.New(store.Config{URL: cfg.StoreURL}, log.WithComponent("store"))
	if err != nil {
		return nil, fmt.Errorf("store init: %w", err)
	}

	reg := presence.NewRegistry(st, presence.RegistryConfig{
		ServerID:         cfg.ServerID,
		TTL:              cfg.PresenceTTL,
		MaxSnapshotBatch: cfg.MaxSnapshotBatch,
	}, log.WithComponent("presence"))

	// The watcher index exists only in targeted mode; sharded mode routes
	// by user hash alone.
	var watchers *flip.Watchers
	if cfg.RoutingMode == config.RoutingTargeted {
		watchers = flip.NewWatchers(st, cfg.ServerID, cfg.WatcherTTL)
	}

	pub := flip.NewPublisher(st, watchers, flip.PublisherConfig{
		Mode:       cfg.RoutingMode,
		ShardCount: cfg.ShardCount,
	}, log.WithComponent("flip"))

	hub := session.NewHub(reg, pub, watchers, session.Config{
		HeartbeatInterval:   cfg.HeartbeatInterval,
		RefreshCooldown:     cfg.RefreshCooldown(),
		MaxFocusPerClient:   cfg.MaxFocusPerClient,
		FocusRatePerMinute:  cfg.FocusRateLimitPerMinute,
		MaxConnectionsPerIP: cfg.MaxConnectionsPerIP,
	}, log.WithComponent("session"))

	sub := flip.NewSubscriber(st, flip.SubscriberConfig{
		Mode:       cfg.RoutingMode,
		ShardCount: cfg.ShardCount,
		ServerID:   cfg.ServerID,
	}, hub.DispatchFlip, log.WithComponent("flip"))

	healthM := health.NewManager(version)
	healthM.RegisterChecker(health.NewStoreChecker(st.Ping))
	healthM.RegisterChecker(health.NewDrainChecker(hub.Draining))

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = "presenced"
	}

	gw, err := gateway.New(gateway.Config{
		AllowedOrigins:    cfg.AllowedOrigins,
		DialRate:          cfg.DialRate,
		DialBurst:         cfg.DialBurst,
		HeartbeatInterval: cfg.HeartbeatInterval,
		TracingService:    tracingService,
	}, hub, reg, st, healthM, log.WithComponent("gateway"))
	if err != nil {
		return nil, fmt.Errorf("gateway init: %w", err)
	}

	mgr, err := NewManager(config.ParseServerConfig(cfg), Deps{
		Logger:         logger,
		Store:          st,
		Hub:            hub,
		Subscriber:     sub,
		APIHandler:     gw.Router(),
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		return nil, fmt.Errorf("manager init: %w", err)
	}

	// Registered before the manager's own hooks, so it runs last: spans
	// from shutdown itself still get exported.
	mgr.RegisterShutdownHook("telemetry_shutdown", tel.Shutdown)

	logger.Info().
		Str("server_id", cfg.ServerID).
		Str("routing_mode", string(cfg.RoutingMode)).
		Dur("heartbeat", cfg.HeartbeatInterval).
		Dur("presence_ttl", cfg.PresenceTTL).
		Msg("presenced runtime built")

	return &Runtime{Manager: mgr, Health: healthM, Telemetry: tel}, nil
}
