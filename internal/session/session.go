// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/log"
	"github.com/ManuGH/presenced/internal/metrics"
	"github.com/ManuGH/presenced/internal/presence"
	"github.com/ManuGH/presenced/internal/userkey"
)

// State is the session lifecycle position.
type State uint8

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

// Session is one client connection's protocol state machine. Messages for a
// session arrive serially from its transport read loop; the heartbeat tick
// and the flip dispatcher are the only other writers, and they go through
// the session mutex and the transport respectively.
type Session struct {
	ID string

	hub       *Hub
	transport Transport
	logger    zerolog.Logger

	closed atomic.Bool

	mu          sync.Mutex
	state       State
	user        string
	focus       map[string]struct{}
	focusWindow *focusWindow
	pongSeen    bool
	lastRefresh time.Time
	refreshLost bool
	closeCause  string

	now func() time.Time
}

// NewSession wires a transport into the hub's protocol. The caller must
// Register it with the hub before feeding messages.
func NewSession(h *Hub, t Transport, logger zerolog.Logger) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		hub:         h,
		transport:   t,
		state:       StateConnecting,
		focus:       make(map[string]struct{}),
		focusWindow: newFocusWindow(h.cfg.FocusRatePerMinute),
		// A fresh session counts as alive until the first full interval.
		pongSeen: true,
		now:      time.Now,
	}
	s.logger = logger.With().
		Str(log.FieldSessionID, s.ID).
		Str(log.FieldRemoteIP, t.RemoteIP()).
		Logger()
	return s
}

// HandleMessage processes one inbound frame.
func (s *Session) HandleMessage(ctx context.Context, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		metrics.RecordMessageReceived("malformed")
		s.send(encodeError(errMalformedMessage))
		return
	}

	switch msg.Type {
	case typeAuth, typeFocus, typeBlur, typePing:
		metrics.RecordMessageReceived(msg.Type)
	default:
		metrics.RecordMessageReceived("unknown")
	}

	switch msg.Type {
	case typeAuth:
		s.handleAuth(ctx, msg.User)
	case typeFocus:
		s.handleFocus(ctx, msg.Users)
	case typeBlur:
		s.handleBlur(ctx, msg.Users)
	case typePing:
		s.handlePing()
	default:
		s.send(encodeError(errUnknownType))
	}
}

// handlePing answers pong. Liveness is judged on transport pongs, not
// protocol pings, so there is no refresh here.
func (s *Session) handlePing() {
	s.mu.Lock()
	authenticated := s.state == StateAuthenticated
	s.mu.Unlock()
	if !authenticated {
		s.send(encodeError(errNotAuthenticated))
		return
	}
	s.send(encodePong())
}

// handleAuth claims presence for the normalized user key. Re-auth to a new
// identity detaches the old one first; re-auth to the same identity just
// claims again. A store failure closes the session.
func (s *Session) handleAuth(ctx context.Context, rawUser string) {
	user, err := userkey.Normalize(rawUser)
	if err != nil {
		metrics.RecordAuth("invalid_key")
		s.send(encodeError(errInvalidUserKey))
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	prevUser := s.user
	wasAuthenticated := s.state == StateAuthenticated
	s.mu.Unlock()

	if wasAuthenticated && prevUser != "" && prevUser != user {
		s.hub.detachIdentity(ctx, s, prevUser)
	}

	claim, err := s.hub.registry.ClaimOnline(ctx, user)
	if err != nil {
		metrics.RecordAuth("store_error")
		s.logger.Error().Err(err).
			Str(log.FieldUserKey, user).
			Msg("presence claim failed, closing session")
		s.send(encodeError(errInternal))
		s.Terminate(CauseStoreUnavailable)
		s.hub.Unregister(ctx, s, CauseStoreUnavailable)
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateAuthenticated
	s.user = user
	s.refreshLost = false
	// The claim just wrote a full TTL; the cooldown starts now.
	s.lastRefresh = s.now()
	s.mu.Unlock()

	s.hub.attachIdentity(s, user)
	if s.closed.Load() {
		// Lost the race against disconnect; undo the attachment.
		s.hub.detachIdentity(ctx, s, user)
		return
	}

	metrics.RecordAuth("ok")
	s.send(encodeAuthOK(
		user,
		s.hub.registry.ServerID(),
		s.hub.cfg.HeartbeatInterval.Milliseconds(),
		int64(s.hub.registry.TTL()/time.Second),
		claim.LastSeenMS,
	))
	if claim.BecameOnline {
		s.hub.publisher.Publish(ctx, user, true)
	}

	s.logger.Info().
		Str(log.FieldUserKey, user).
		Bool(log.FieldOnline, claim.BecameOnline).
		Msg("session authenticated")
}

// handleFocus adds users to the session's focus set and answers with their
// current presence. The focus set is committed only after the store calls
// succeed.
func (s *Session) handleFocus(ctx context.Context, users []string) {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		metrics.RecordFocusRejected("not_authenticated")
		s.send(encodeError(errNotAuthenticated))
		return
	}
	if !s.focusWindow.allow(s.now()) {
		s.mu.Unlock()
		metrics.RecordFocusRejected("rate_limit")
		s.send(encodeError(errFocusRateLimited))
		return
	}

	budget := s.hub.cfg.MaxFocusPerClient - len(s.focus)
	if budget < 0 {
		budget = 0
	}

	var accepted []string
	seen := make(map[string]struct{}, len(users))
	invalid := false
	for _, raw := range users {
		u, err := userkey.Normalize(raw)
		if err != nil {
			invalid = true
			break
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if _, already := s.focus[u]; already {
			continue
		}
		if len(accepted) >= budget {
			break
		}
		accepted = append(accepted, u)
	}
	s.mu.Unlock()

	if invalid {
		s.send(encodeError(errInvalidUserKey))
		return
	}
	if len(accepted) == 0 {
		s.send(encodeFocusOK(nil))
		return
	}

	if s.hub.watchers != nil {
		if err := s.hub.watchers.Add(ctx, accepted); err != nil {
			s.logger.Warn().Err(err).Msg("watcher add failed")
			s.send(encodeError(errInternal))
			return
		}
	}

	statuses, err := s.hub.registry.Snapshot(ctx, accepted)
	if err != nil {
		var tooLarge *presence.BatchTooLargeError
		if errors.As(err, &tooLarge) {
			s.send(encodeError(tooLarge.Error()))
			return
		}
		s.logger.Warn().Err(err).Msg("focus snapshot failed")
		s.send(encodeError(errInternal))
		return
	}

	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return
	}
	for _, u := range accepted {
		s.focus[u] = struct{}{}
	}
	size := len(s.focus)
	s.hub.addFocus(s, accepted)
	s.mu.Unlock()

	s.send(encodeFocusOK(statuses))
	s.logger.Debug().
		Int(log.FieldFocus, size).
		Int("accepted", len(accepted)).
		Msg("focus updated")
}

// handleBlur removes users from the focus set. Keys that are invalid or not
// focused are skipped; blur never fails the session.
func (s *Session) handleBlur(ctx context.Context, users []string) {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		metrics.RecordFocusRejected("not_authenticated")
		s.send(encodeError(errNotAuthenticated))
		return
	}

	removed := make([]string, 0, len(users))
	for _, raw := range users {
		u, err := userkey.Normalize(raw)
		if err != nil {
			continue
		}
		if _, ok := s.focus[u]; !ok {
			continue
		}
		delete(s.focus, u)
		removed = append(removed, u)
	}
	var zero []string
	if len(removed) > 0 {
		zero = s.hub.removeFocus(s, removed)
	}
	s.mu.Unlock()

	if s.hub.watchers != nil && len(zero) > 0 {
		if err := s.hub.watchers.Remove(ctx, zero); err != nil {
			s.logger.Warn().Err(err).Msg("watcher remove failed")
		}
	}

	s.send(encodeBlurOK())
}

// HandlePong records transport liveness and drives the throttled presence
// refresh. Refresh requires an authenticated session with a non-empty focus
// set, intact ownership and an elapsed cooldown.
func (s *Session) HandlePong(ctx context.Context) {
	s.mu.Lock()
	s.pongSeen = true
	now := s.now()
	shouldRefresh := s.state == StateAuthenticated &&
		len(s.focus) > 0 &&
		!s.refreshLost &&
		now.Sub(s.lastRefresh) >= s.hub.cfg.RefreshCooldown
	user := s.user
	if shouldRefresh {
		s.lastRefresh = now
	}
	s.mu.Unlock()

	if !shouldRefresh {
		return
	}

	owned, err := s.hub.registry.Refresh(ctx, user)
	if err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldUserKey, user).
			Msg("presence refresh failed")
		return
	}
	if !owned {
		s.mu.Lock()
		if s.user == user {
			s.refreshLost = true
		}
		s.mu.Unlock()
		s.logger.Info().
			Str(log.FieldUserKey, user).
			Msg("presence ownership ceded to another server")
	}
}

// heartbeatTick terminates the session when no pong arrived since the
// previous tick; otherwise it arms the awaiting flag and sends a probe.
func (s *Session) heartbeatTick(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	alive := s.pongSeen
	s.pongSeen = false
	s.mu.Unlock()

	if !alive {
		s.logger.Info().Msg("no pong since last tick, terminating session")
		s.Terminate(CauseHeartbeatTimeout)
		s.hub.Unregister(ctx, s, CauseHeartbeatTimeout)
		return
	}
	if err := s.transport.Ping(); err != nil {
		s.logger.Debug().Err(err).Msg("ping enqueue failed")
	}
}

// Terminate records the close cause and shuts the transport down. The read
// loop observes the closed transport and reports the disconnect.
func (s *Session) Terminate(cause string) {
	s.mu.Lock()
	if s.closeCause == "" {
		s.closeCause = cause
	}
	s.mu.Unlock()
	_ = s.transport.Close()
}

func (s *Session) send(payload []byte) {
	if err := s.transport.Send(payload); err != nil {
		s.logger.Debug().Err(err).Msg("reply dropped")
	}
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the authenticated user key, empty before auth.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// FocusSize returns the current focus set size.
func (s *Session) FocusSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.focus)
}
