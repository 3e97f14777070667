// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/flip"
	"github.com/ManuGH/presenced/internal/log"
	"github.com/ManuGH/presenced/internal/metrics"
	"github.com/ManuGH/presenced/internal/presence"
)

// lockShards stripes the user-keyed maps to keep flip dispatch and focus
// updates off a single hot mutex.
const lockShards = 32

var (
	// ErrIPLimit rejects a connection over the per-address cap.
	ErrIPLimit = errors.New("connection cap for address reached")
	// ErrDraining rejects a connection during shutdown.
	ErrDraining = errors.New("server draining")
)

// Config carries the hub's protocol parameters.
type Config struct {
	HeartbeatInterval   time.Duration
	RefreshCooldown     time.Duration
	MaxFocusPerClient   int
	FocusRatePerMinute  int
	MaxConnectionsPerIP int
}

// userShard holds one stripe of the user-keyed maps. local indexes sessions
// authenticated as a user, focus indexes sessions observing a user.
type userShard struct {
	mu    sync.RWMutex
	local map[string]map[*Session]struct{}
	focus map[string]map[*Session]struct{}
}

// Hub is the per-process session index plus the glue between sessions, the
// presence registry and the flip fan-out.
type Hub struct {
	cfg       Config
	registry  *presence.Registry
	publisher *flip.Publisher
	watchers  *flip.Watchers // nil outside targeted mode
	logger    zerolog.Logger

	shards [lockShards]*userShard

	sessMu   sync.RWMutex
	sessions map[*Session]struct{}

	ips *ipCounter

	focusEntries atomic.Int64
	draining     atomic.Bool
}

// NewHub builds the hub. watchers may be nil in sharded routing mode.
func NewHub(reg *presence.Registry, pub *flip.Publisher, watchers *flip.Watchers, cfg Config, logger zerolog.Logger) *Hub {
	h := &Hub{
		cfg:       cfg,
		registry:  reg,
		publisher: pub,
		watchers:  watchers,
		logger:    logger,
		sessions:  make(map[*Session]struct{}),
		ips:       newIPCounter(cfg.MaxConnectionsPerIP),
	}
	for i := range h.shards {
		h.shards[i] = &userShard{
			local: make(map[string]map[*Session]struct{}),
			focus: make(map[string]map[*Session]struct{}),
		}
	}
	return h
}

func (h *Hub) shardFor(user string) *userShard {
	return h.shards[presence.ShardFor(user, lockShards)]
}

// Register admits a session, enforcing the drain gate and the per-address
// connection cap before any shared state is touched.
func (h *Hub) Register(s *Session) error {
	if h.draining.Load() {
		metrics.RecordConnectionRejected("drain")
		return ErrDraining
	}
	if !h.ips.acquire(s.transport.RemoteIP()) {
		metrics.RecordConnectionRejected("ip_cap")
		return ErrIPLimit
	}

	h.sessMu.Lock()
	h.sessions[s] = struct{}{}
	h.sessMu.Unlock()

	metrics.IncSessionsActive()
	return nil
}

// Unregister runs the disconnect flow exactly once per session: rate-limit
// and address bookkeeping, focus teardown with watcher cleanup, then
// identity detach with a guarded release. fallbackCause labels the close
// when the session did not record one itself.
func (h *Hub) Unregister(ctx context.Context, s *Session, fallbackCause string) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	_ = s.transport.Close()

	h.sessMu.Lock()
	delete(h.sessions, s)
	h.sessMu.Unlock()

	h.ips.release(s.transport.RemoteIP())

	s.mu.Lock()
	user := s.user
	wasAuthenticated := s.state == StateAuthenticated
	s.state = StateClosed
	focusUsers := make([]string, 0, len(s.focus))
	for u := range s.focus {
		focusUsers = append(focusUsers, u)
	}
	s.focus = make(map[string]struct{})
	cause := s.closeCause
	s.mu.Unlock()
	if cause == "" {
		cause = fallbackCause
	}

	zero := h.removeFocus(s, focusUsers)
	if h.watchers != nil && len(zero) > 0 {
		if err := h.watchers.Remove(ctx, zero); err != nil {
			h.logger.Warn().Err(err).Msg("watcher remove on disconnect failed")
		}
	}

	if wasAuthenticated && user != "" {
		h.detachIdentity(ctx, s, user)
	}

	metrics.DecSessionsActive(cause)
	h.logger.Info().
		Str(log.FieldSessionID, s.ID).
		Str(log.FieldUserKey, user).
		Str("cause", cause).
		Msg("session closed")
}

// attachIdentity indexes the session under its authenticated user.
func (h *Hub) attachIdentity(s *Session, user string) {
	sh := h.shardFor(user)
	sh.mu.Lock()
	set := sh.local[user]
	if set == nil {
		set = make(map[*Session]struct{})
		sh.local[user] = set
	}
	set[s] = struct{}{}
	sh.mu.Unlock()
}

// detachIdentity removes the session from the local index and, when it was
// the last local session for that user, releases presence and publishes the
// offline flip. During drain the release is skipped; TTL expiry is the
// offline path.
func (h *Hub) detachIdentity(ctx context.Context, s *Session, user string) {
	sh := h.shardFor(user)
	sh.mu.Lock()
	set := sh.local[user]
	delete(set, s)
	last := len(set) == 0
	if last {
		delete(sh.local, user)
	}
	sh.mu.Unlock()

	if !last || h.draining.Load() {
		return
	}

	released, err := h.registry.ReleaseIfOwned(ctx, user)
	if err != nil {
		h.logger.Warn().Err(err).
			Str(log.FieldUserKey, user).
			Msg("presence release failed")
		return
	}
	if released {
		h.publisher.Publish(ctx, user, false)
	}
}

// addFocus indexes the session as an observer of each user. Callers hold
// the session mutex, which serializes against the disconnect flow.
func (h *Hub) addFocus(s *Session, users []string) {
	added := 0
	for _, u := range users {
		sh := h.shardFor(u)
		sh.mu.Lock()
		set := sh.focus[u]
		if set == nil {
			set = make(map[*Session]struct{})
			sh.focus[u] = set
		}
		if _, ok := set[s]; !ok {
			set[s] = struct{}{}
			added++
		}
		sh.mu.Unlock()
	}
	if added != 0 {
		metrics.SetFocusEntries(int(h.focusEntries.Add(int64(added))))
	}
}

// removeFocus drops the session's observer entries and returns the users
// whose local observer count reached zero.
func (h *Hub) removeFocus(s *Session, users []string) []string {
	var zero []string
	removed := 0
	for _, u := range users {
		sh := h.shardFor(u)
		sh.mu.Lock()
		if set, ok := sh.focus[u]; ok {
			if _, in := set[s]; in {
				delete(set, s)
				removed++
				if len(set) == 0 {
					delete(sh.focus, u)
					zero = append(zero, u)
				}
			}
		}
		sh.mu.Unlock()
	}
	if removed != 0 {
		metrics.SetFocusEntries(int(h.focusEntries.Add(-int64(removed))))
	}
	return zero
}

// DispatchFlip delivers a presence update to every local session observing
// the user. Closed or slow transports are skipped; the client's snapshot
// poll reconciles anything missed.
func (h *Hub) DispatchFlip(ev flip.Event) {
	sh := h.shardFor(ev.User)
	sh.mu.RLock()
	set := sh.focus[ev.User]
	targets := make([]*Session, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	sh.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	payload := encodePresenceUpdate(ev)
	for _, s := range targets {
		switch err := s.transport.Send(payload); {
		case err == nil:
			metrics.RecordUpdateDelivered()
		case errors.Is(err, ErrSendQueueFull):
			metrics.RecordUpdateDropped("slow")
		default:
			metrics.RecordUpdateDropped("closed")
		}
	}
}

// sessionsSnapshot copies the live session set for lock-free iteration.
func (h *Hub) sessionsSnapshot() []*Session {
	h.sessMu.RLock()
	defer h.sessMu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// focusedUsers snapshots every user with at least one local observer.
func (h *Hub) focusedUsers() []string {
	var users []string
	for _, sh := range h.shards {
		sh.mu.RLock()
		for u := range sh.focus {
			users = append(users, u)
		}
		sh.mu.RUnlock()
	}
	return users
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	h.sessMu.RLock()
	defer h.sessMu.RUnlock()
	return len(h.sessions)
}

// BeginDrain stops admissions. Disconnects from here on skip the presence
// release; TTL expiry takes the keys down.
func (h *Hub) BeginDrain() {
	h.draining.Store(true)
}

// Draining reports whether BeginDrain has been called.
func (h *Hub) Draining() bool {
	return h.draining.Load()
}

// CloseAll terminates every live session, triggering disconnect handling.
func (h *Hub) CloseAll(ctx context.Context) {
	for _, s := range h.sessionsSnapshot() {
		s.Terminate(CauseDrain)
		h.Unregister(ctx, s, CauseDrain)
	}
}
