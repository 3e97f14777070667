// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/flip"
	"github.com/ManuGH/presenced/internal/session"
	"github.com/ManuGH/presenced/internal/store"
)

// Deps contains the wired subsystems the Manager runs. Construction happens
// in Build; the manager owns lifecycle only.
type Deps struct {
	// Logger is the structured logger for the daemon.
	Logger zerolog.Logger

	// Store is the shared key-value client; the manager closes it last.
	Store *store.Client

	// Hub is the session index. The manager runs its heartbeat loop and
	// drains it on shutdown.
	Hub *session.Hub

	// Subscriber is the flip pub/sub consumer feeding the hub.
	Subscriber *flip.Subscriber

	// APIHandler is the HTTP handler for the API server.
	APIHandler http.Handler

	// MetricsHandler is the HTTP handler for Prometheus metrics (if enabled).
	MetricsHandler http.Handler
}

// Validate checks if the dependencies are complete.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.Store == nil {
		return ErrMissingStore
	}
	if d.Hub == nil {
		return ErrMissingHub
	}
	if d.Subscriber == nil {
		return ErrMissingSubscriber
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
