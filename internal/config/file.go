// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with optional fields so that only keys present in
// the YAML document override defaults. Unknown keys are rejected.
type fileConfig struct {
	Port        *int    `yaml:"port"`
	MetricsPort *int    `yaml:"metrics_port"`
	StoreURL    *string `yaml:"store_url"`

	HeartbeatIntervalMS *int    `yaml:"heartbeat_interval_ms"`
	PresenceTTLSeconds  *int    `yaml:"presence_ttl_seconds"`
	ServerID            *string `yaml:"server_id"`
	ShardCount          *int    `yaml:"presence_shard_count"`
	WatcherTTLSeconds   *int    `yaml:"watcher_ttl_seconds"`
	RoutingMode         *string `yaml:"routing_mode"`

	MaxFocusPerClient       *int `yaml:"max_focus_per_client"`
	FocusRateLimitPerMinute *int `yaml:"focus_rate_limit_per_minute"`
	MaxConnectionsPerIP     *int `yaml:"max_connections_per_ip"`
	MaxSnapshotBatch        *int `yaml:"max_snapshot_batch"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	DialRate       *float64 `yaml:"dial_rate"`
	DialBurst      *int     `yaml:"dial_burst"`

	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	Telemetry *struct {
		Enabled      *bool    `yaml:"enabled"`
		ExporterType *string  `yaml:"exporter"`
		Endpoint     *string  `yaml:"endpoint"`
		SamplingRate *float64 `yaml:"sampling_rate"`
		Environment  *string  `yaml:"environment"`
	} `yaml:"telemetry"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.MetricsPort != nil {
		cfg.MetricsPort = *fc.MetricsPort
	}
	if fc.StoreURL != nil {
		cfg.StoreURL = *fc.StoreURL
	}
	if fc.HeartbeatIntervalMS != nil {
		cfg.HeartbeatInterval = time.Duration(*fc.HeartbeatIntervalMS) * time.Millisecond
	}
	if fc.PresenceTTLSeconds != nil {
		cfg.PresenceTTL = time.Duration(*fc.PresenceTTLSeconds) * time.Second
	}
	if fc.ServerID != nil {
		cfg.ServerID = *fc.ServerID
	}
	if fc.ShardCount != nil {
		cfg.ShardCount = *fc.ShardCount
	}
	if fc.WatcherTTLSeconds != nil {
		cfg.WatcherTTL = time.Duration(*fc.WatcherTTLSeconds) * time.Second
	}
	if fc.RoutingMode != nil {
		cfg.RoutingMode = RoutingMode(*fc.RoutingMode)
	}
	if fc.MaxFocusPerClient != nil {
		cfg.MaxFocusPerClient = *fc.MaxFocusPerClient
	}
	if fc.FocusRateLimitPerMinute != nil {
		cfg.FocusRateLimitPerMinute = *fc.FocusRateLimitPerMinute
	}
	if fc.MaxConnectionsPerIP != nil {
		cfg.MaxConnectionsPerIP = *fc.MaxConnectionsPerIP
	}
	if fc.MaxSnapshotBatch != nil {
		cfg.MaxSnapshotBatch = *fc.MaxSnapshotBatch
	}
	if fc.AllowedOrigins != nil {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.DialRate != nil {
		cfg.DialRate = *fc.DialRate
	}
	if fc.DialBurst != nil {
		cfg.DialBurst = *fc.DialBurst
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.LogFormat != nil {
		cfg.LogFormat = *fc.LogFormat
	}
	if fc.Telemetry != nil {
		if fc.Telemetry.Enabled != nil {
			cfg.Telemetry.Enabled = *fc.Telemetry.Enabled
		}
		if fc.Telemetry.ExporterType != nil {
			cfg.Telemetry.ExporterType = *fc.Telemetry.ExporterType
		}
		if fc.Telemetry.Endpoint != nil {
			cfg.Telemetry.Endpoint = *fc.Telemetry.Endpoint
		}
		if fc.Telemetry.SamplingRate != nil {
			cfg.Telemetry.SamplingRate = *fc.Telemetry.SamplingRate
		}
		if fc.Telemetry.Environment != nil {
			cfg.Telemetry.Environment = *fc.Telemetry.Environment
		}
	}
	return nil
}
