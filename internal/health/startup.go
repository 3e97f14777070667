// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/config"
	"github.com/ManuGH/presenced/internal/log"
)

// PerformStartupChecks validates the environment before the server starts
// accepting connections. Structural config validation has already run; this
// catches the operational mistakes that only surface at runtime.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := checkListeners(logger, cfg); err != nil {
		return fmt.Errorf("listener check failed: %w", err)
	}

	if err := checkStoreURL(logger, cfg.StoreURL); err != nil {
		return fmt.Errorf("store URL check failed: %w", err)
	}

	if err := checkOrigins(logger, cfg.AllowedOrigins); err != nil {
		return fmt.Errorf("origin allowlist check failed: %w", err)
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkListeners(logger zerolog.Logger, cfg config.Config) error {
	if cfg.Port == cfg.MetricsPort {
		return fmt.Errorf("API and metrics listeners cannot share port %d", cfg.Port)
	}
	logger.Info().Int("port", cfg.Port).Int("metrics_port", cfg.MetricsPort).Msg("✓ Listener ports are distinct")
	return nil
}

// checkStoreURL parses the URL with the store client's own parser so a typo
// fails here instead of inside the first connection attempt.
func checkStoreURL(logger zerolog.Logger, rawURL string) error {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return fmt.Errorf("invalid store URL: %w", err)
	}
	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("✓ Store URL is valid")
	return nil
}

func checkOrigins(logger zerolog.Logger, origins []string) error {
	if len(origins) == 0 {
		logger.Info().Msg("✓ No origin allowlist configured; same-host origins only")
		return nil
	}

	for _, origin := range origins {
		u, err := url.Parse(origin)
		if err != nil {
			return fmt.Errorf("invalid origin %q: %w", origin, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("origin %q scheme must be http or https", origin)
		}
		if u.Host == "" {
			return fmt.Errorf("origin %q has no host", origin)
		}
		if u.Path != "" || strings.Contains(origin, "?") {
			return fmt.Errorf("origin %q must be scheme://host[:port] with no path", origin)
		}
	}

	logger.Info().Int("count", len(origins)).Msg("✓ Origin allowlist validated")
	return nil
}
