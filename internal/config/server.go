// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"time"
)

// ServerConfig holds the HTTP listener tuning shared by the API and metrics
// servers. The listen addresses derive from Port and MetricsPort.
type ServerConfig struct {
	// ListenAddr is the API listen address (e.g. ":8080").
	ListenAddr string

	// MetricsAddr is the Prometheus listen address.
	MetricsAddr string

	// ReadTimeout is the maximum duration for reading an entire request.
	ReadTimeout time.Duration

	// WriteTimeout bounds response writes. Zero means no deadline; the
	// WebSocket endpoint hands off to hijacked connections that outlive
	// any sane response timeout.
	WriteTimeout time.Duration

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout time.Duration

	// MaxHeaderBytes caps request header size.
	MaxHeaderBytes int

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

const (
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 0
	defaultIdleTimeout     = 120 * time.Second
	defaultMaxHeaderBytes  = 1 << 20 // 1 MB
	defaultShutdownTimeout = 15 * time.Second
)

// ParseServerConfig resolves listener tuning with ENV > defaults precedence.
func ParseServerConfig(cfg Config) ServerConfig {
	maxHeaderBytes := ParseInt("PRESD_SERVER_MAX_HEADER_BYTES", defaultMaxHeaderBytes)
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = defaultMaxHeaderBytes
	}

	return ServerConfig{
		ListenAddr:      fmt.Sprintf(":%d", cfg.Port),
		MetricsAddr:     fmt.Sprintf(":%d", cfg.MetricsPort),
		ReadTimeout:     ParseDuration("PRESD_SERVER_READ_TIMEOUT", defaultReadTimeout),
		WriteTimeout:    ParseDuration("PRESD_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
		IdleTimeout:     ParseDuration("PRESD_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		MaxHeaderBytes:  maxHeaderBytes,
		ShutdownTimeout: ParseDuration("PRESD_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}
}
