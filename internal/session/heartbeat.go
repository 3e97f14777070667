// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"time"
)

// Run drives the process-wide timers: the heartbeat tick over all sessions,
// the rate-limit window pruning, and watcher membership refresh in targeted
// mode. It blocks until ctx is canceled.
func (h *Hub) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	h.logger.Info().
		Dur("interval", h.cfg.HeartbeatInterval).
		Msg("heartbeat loop started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			h.tick(ctx)
		case <-prune.C:
			h.pruneWindows()
		}
	}
}

// tick probes every session and refreshes watcher memberships so their
// expiries stay ahead of the TTL.
func (h *Hub) tick(ctx context.Context) {
	for _, s := range h.sessionsSnapshot() {
		s.heartbeatTick(ctx)
	}

	if h.watchers == nil {
		return
	}
	users := h.focusedUsers()
	if len(users) == 0 {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.watchers.Add(wctx, users); err != nil {
		h.logger.Warn().Err(err).Msg("watcher membership refresh failed")
	}
}

// pruneWindows drops expired focus-window entries for idle sessions.
func (h *Hub) pruneWindows() {
	now := time.Now()
	for _, s := range h.sessionsSnapshot() {
		s.mu.Lock()
		s.focusWindow.prune(now)
		s.mu.Unlock()
	}
}
