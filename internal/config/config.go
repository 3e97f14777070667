// SPDX-License-Identifier: MIT

// Package config loads and validates the presenced runtime configuration.
// Precedence: environment > config file > built-in defaults. Values are read
// once at bootstrap; nothing is reloadable at runtime because the presence
// TTL and heartbeat interval are load-bearing for the ownership protocol.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/presenced/internal/validate"
)

// RoutingMode selects how online/offline flips are fanned out to servers.
type RoutingMode string

const (
	// RoutingSharded publishes every flip to presence:flip:{hash(user) % shards};
	// all servers subscribe to all shards.
	RoutingSharded RoutingMode = "sharded"
	// RoutingTargeted publishes once per interested server to
	// presence:server:{id}, driven by the watcher index.
	RoutingTargeted RoutingMode = "targeted"
)

// Config is the complete runtime configuration of a presenced process.
type Config struct {
	// Listeners
	Port        int
	MetricsPort int

	// Store
	StoreURL string

	// Presence protocol
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
	ServerID          string
	ShardCount        int
	WatcherTTL        time.Duration
	RoutingMode       RoutingMode

	// Session limits
	MaxFocusPerClient       int
	FocusRateLimitPerMinute int
	MaxConnectionsPerIP     int
	MaxSnapshotBatch        int

	// Gateway
	AllowedOrigins []string
	DialRate       float64 // accepted WebSocket upgrades per second, process-wide
	DialBurst      int

	// Logging
	LogLevel  string
	LogFormat string

	// Telemetry
	Telemetry Telemetry
}

// Telemetry configures the optional OTLP trace exporter.
type Telemetry struct {
	Enabled      bool
	ExporterType string // "grpc" or "http"
	Endpoint     string
	SamplingRate float64
	Environment  string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:                    8080,
		MetricsPort:             9090,
		StoreURL:                "redis://localhost:6379/0",
		HeartbeatInterval:       30 * time.Second,
		PresenceTTL:             90 * time.Second,
		ShardCount:              1,
		WatcherTTL:              120 * time.Second,
		RoutingMode:             RoutingSharded,
		MaxFocusPerClient:       100,
		FocusRateLimitPerMinute: 60,
		MaxConnectionsPerIP:     10,
		MaxSnapshotBatch:        500,
		DialRate:                100,
		DialBurst:               200,
		LogLevel:                "info",
		LogFormat:               "json",
		Telemetry: Telemetry{
			ExporterType: "grpc",
			SamplingRate: 1.0,
			Environment:  "development",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and the
// environment, then validates it. A missing ServerID is replaced with a fresh
// unique id; server identity is deliberately per-process so a restart can
// never resurrect stale presence ownership.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads the configuration without a config file.
func FromEnv() (Config, error) {
	return Load("")
}

func applyEnv(cfg *Config) {
	cfg.Port = ParseInt("PRESD_PORT", cfg.Port)
	cfg.MetricsPort = ParseInt("PRESD_METRICS_PORT", cfg.MetricsPort)
	cfg.StoreURL = ParseString("PRESD_STORE_URL", cfg.StoreURL)

	cfg.HeartbeatInterval = time.Duration(ParseInt("PRESD_HEARTBEAT_INTERVAL_MS", int(cfg.HeartbeatInterval/time.Millisecond))) * time.Millisecond
	cfg.PresenceTTL = time.Duration(ParseInt("PRESD_PRESENCE_TTL_SECONDS", int(cfg.PresenceTTL/time.Second))) * time.Second
	cfg.ServerID = ParseString("PRESD_SERVER_ID", cfg.ServerID)
	cfg.ShardCount = ParseInt("PRESD_PRESENCE_SHARD_COUNT", cfg.ShardCount)
	cfg.WatcherTTL = time.Duration(ParseInt("PRESD_WATCHER_TTL_SECONDS", int(cfg.WatcherTTL/time.Second))) * time.Second
	cfg.RoutingMode = RoutingMode(ParseString("PRESD_ROUTING_MODE", string(cfg.RoutingMode)))

	cfg.MaxFocusPerClient = ParseInt("PRESD_MAX_FOCUS_PER_CLIENT", cfg.MaxFocusPerClient)
	cfg.FocusRateLimitPerMinute = ParseInt("PRESD_FOCUS_RATE_LIMIT_PER_MINUTE", cfg.FocusRateLimitPerMinute)
	cfg.MaxConnectionsPerIP = ParseInt("PRESD_MAX_CONNECTIONS_PER_IP", cfg.MaxConnectionsPerIP)
	cfg.MaxSnapshotBatch = ParseInt("PRESD_MAX_SNAPSHOT_BATCH", cfg.MaxSnapshotBatch)

	if origins := ParseString("PRESD_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}
	cfg.DialRate = ParseFloat("PRESD_DIAL_RATE", cfg.DialRate)
	cfg.DialBurst = ParseInt("PRESD_DIAL_BURST", cfg.DialBurst)

	cfg.LogLevel = ParseString("PRESD_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = ParseString("PRESD_LOG_FORMAT", cfg.LogFormat)

	cfg.Telemetry.Enabled = ParseBool("PRESD_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString("PRESD_OTEL_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString("PRESD_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat("PRESD_OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = ParseString("PRESD_ENVIRONMENT", cfg.Telemetry.Environment)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks structural correctness and the protocol invariants.
func (c Config) Validate() error {
	v := validate.New()

	v.Port("Port", c.Port)
	v.Port("MetricsPort", c.MetricsPort)
	v.URL("StoreURL", c.StoreURL, []string{"redis", "rediss", "unix"})
	v.NotEmpty("ServerID", c.ServerID)

	v.Positive("ShardCount", c.ShardCount)
	v.Positive("MaxFocusPerClient", c.MaxFocusPerClient)
	v.Positive("FocusRateLimitPerMinute", c.FocusRateLimitPerMinute)
	v.Positive("MaxConnectionsPerIP", c.MaxConnectionsPerIP)
	v.Positive("MaxSnapshotBatch", c.MaxSnapshotBatch)
	v.OneOf("RoutingMode", string(c.RoutingMode), []string{string(RoutingSharded), string(RoutingTargeted)})

	if c.HeartbeatInterval <= 0 {
		v.AddError("HeartbeatInterval", "must be positive", c.HeartbeatInterval)
	}
	if c.PresenceTTL <= 0 {
		v.AddError("PresenceTTL", "must be positive", c.PresenceTTL)
	}
	if c.WatcherTTL <= 0 {
		v.AddError("WatcherTTL", "must be positive", c.WatcherTTL)
	}
	// The ownership protocol requires at least two heartbeats per TTL window,
	// otherwise a single missed pong expires live presence.
	if c.HeartbeatInterval > 0 && c.PresenceTTL > 0 && c.PresenceTTL <= 2*c.HeartbeatInterval {
		v.AddError("PresenceTTL",
			fmt.Sprintf("must exceed 2x heartbeat interval (ttl=%s heartbeat=%s)", c.PresenceTTL, c.HeartbeatInterval),
			c.PresenceTTL)
	}

	return v.Err()
}

// RefreshCooldown is the minimum spacing between presence refreshes for one
// session. Half the TTL keeps per-session refresh cost at O(1/TTL) while the
// key can still survive one lost pong.
func (c Config) RefreshCooldown() time.Duration {
	return c.PresenceTTL / 2
}
