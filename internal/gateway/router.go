// SPDX-License-Identifier: MIT

package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	mw "github.com/ManuGH/presenced/internal/gateway/middleware"
	"github.com/ManuGH/presenced/internal/health"
	"github.com/ManuGH/presenced/internal/presence"
	"github.com/ManuGH/presenced/internal/session"
	"github.com/ManuGH/presenced/internal/store"
)

// Config holds the gateway's own knobs; protocol parameters live on the hub.
type Config struct {
	// AllowedOrigins is the WebSocket origin allowlist. Empty means
	// same-host origins only.
	AllowedOrigins []string

	// DialRate and DialBurst bound accepted upgrades per second,
	// process-wide, ahead of any per-IP accounting.
	DialRate  float64
	DialBurst int

	// HeartbeatInterval mirrors the hub's ping cadence; the read deadline
	// allows two missed intervals.
	HeartbeatInterval time.Duration

	// TracingService names the tracer for HTTP spans. Empty disables the
	// tracing middleware.
	TracingService string
}

// Gateway serves the WebSocket endpoint and the REST API around it.
type Gateway struct {
	hub     *session.Hub
	reg     *presence.Registry
	st      *store.Client
	healthM *health.Manager

	upgrader          websocket.Upgrader
	dialLimiter       *rate.Limiter
	heartbeatInterval time.Duration
	tracingService    string
	logger            zerolog.Logger
}

// New builds a gateway. It fails fast on an unparseable origin allowlist.
func New(cfg Config, hub *session.Hub, reg *presence.Registry, st *store.Client, healthM *health.Manager, logger zerolog.Logger) (*Gateway, error) {
	origins, err := newOriginChecker(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		hub:               hub,
		reg:               reg,
		st:                st,
		healthM:           healthM,
		dialLimiter:       rate.NewLimiter(rate.Limit(cfg.DialRate), cfg.DialBurst),
		heartbeatInterval: cfg.HeartbeatInterval,
		tracingService:    cfg.TracingService,
		logger:            logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return g, nil
}

// Router assembles the HTTP surface with the canonical middleware stack.
// The WebSocket endpoint sits outside the request-scoped observability
// middleware: a socket lives for hours and would record one giant sample per
// connection, and session metrics already cover it.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(mw.Recoverer)
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders())

	r.Group(func(r chi.Router) {
		r.Use(mw.Metrics())
		if g.tracingService != "" {
			r.Use(mw.Tracing(g.tracingService))
		}
		r.Use(mw.RequestLogger())

		r.Get("/healthz", g.healthM.ServeHealth)
		r.Get("/readyz", g.healthM.ServeReady)

		r.Route("/api/v1", func(r chi.Router) {
			r.With(mw.LoginRateLimit()).Post("/login", g.handleLogin)
			r.With(mw.SnapshotRateLimit()).Get("/presence", g.handlePresence)
		})
	})

	r.Get("/ws", g.handleWS)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
