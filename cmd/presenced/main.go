// SPDX-License-Identifier: MIT

// presenced is the presence fabric server. It terminates client WebSockets,
// keeps the shared online-truth keys fresh and fans presence flips out to
// the servers that care.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/presenced/internal/config"
	"github.com/ManuGH/presenced/internal/daemon"
	"github.com/ManuGH/presenced/internal/log"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration with precedence: ENV > file > defaults. The logger
	// is configured afterwards; configuration loading itself does not log.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	cfg, err := config.Load(effectiveConfigPath)
	if err != nil {
		log.Configure(log.Config{Service: "presenced", Version: version})
		fatalLogger := log.WithComponent("main")
		fatalLogger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "presenced",
		Version: version,
	})
	logger := log.WithComponent("main")

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Int("port", cfg.Port).
		Msg("starting presenced")

	logger.Info().Msgf("→ Store: %s", maskURL(cfg.StoreURL))
	logger.Info().Msgf("→ Server ID: %s", cfg.ServerID)
	logger.Info().Msgf("→ Routing: %s (%d shards)", cfg.RoutingMode, cfg.ShardCount)
	logger.Info().Msgf("→ Heartbeat: %s, presence TTL: %s", cfg.HeartbeatInterval, cfg.PresenceTTL)
	if len(cfg.AllowedOrigins) > 0 {
		logger.Info().Msgf("→ Origins: %d allowed", len(cfg.AllowedOrigins))
	} else {
		logger.Info().Msg("→ Origins: same-host only")
	}
	if cfg.Telemetry.Enabled {
		logger.Info().Msgf("→ Tracing: %s via %s", cfg.Telemetry.Endpoint, cfg.Telemetry.ExporterType)
	}

	rt, err := daemon.Build(ctx, cfg, version)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.build_failed").
			Msg("failed to build runtime")
	}

	if err := rt.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}
