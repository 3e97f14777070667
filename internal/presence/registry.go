// SPDX-License-Identifier: MIT

// Package presence implements the shared online-truth protocol: one
// TTL-bearing key per user whose value is the owning server id. Claims
// overwrite, refresh and release are owner-guarded, and expiry is the
// fallback offline path when an owner dies without releasing.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/log"
	"github.com/ManuGH/presenced/internal/metrics"
	"github.com/ManuGH/presenced/internal/store"
)

// RegistryConfig carries the per-server presence parameters.
type RegistryConfig struct {
	ServerID         string
	TTL              time.Duration
	MaxSnapshotBatch int
}

// Registry mediates all presence-key access for one server.
type Registry struct {
	store    *store.Client
	serverID string
	ttl      time.Duration
	maxBatch int
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRegistry builds a registry bound to this server's identity.
func NewRegistry(st *store.Client, cfg RegistryConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		store:    st,
		serverID: cfg.ServerID,
		ttl:      cfg.TTL,
		maxBatch: cfg.MaxSnapshotBatch,
		logger:   logger,
		now:      time.Now,
	}
}

// ServerID returns the identity written into claimed presence keys.
func (r *Registry) ServerID() string { return r.serverID }

// TTL returns the presence key lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Claim is the outcome of a ClaimOnline call. BecameOnline is true only for
// an offline-to-online transition; LastSeenMS is nil when the user has never
// cleanly disconnected.
type Claim struct {
	BecameOnline bool
	LastSeenMS   *int64
}

// ClaimOnline takes ownership of the user's presence key, bumps last-active
// and reads last-seen, all in one store round trip. A claim over a live key
// (same or different server) succeeds and reports BecameOnline=false; the
// previous owner's next refresh will fail and cease on its own.
func (r *Registry) ClaimOnline(ctx context.Context, user string) (Claim, error) {
	nowMS := r.now().UnixMilli()

	var (
		setCmd  *redis.StatusCmd
		seenCmd *redis.StringCmd
	)
	_, err := r.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		setCmd = pipe.SetArgs(ctx, UserKey(user), r.serverID, redis.SetArgs{TTL: r.ttl, Get: true})
		pipe.Set(ctx, LastActiveKey(user), strconv.FormatInt(nowMS, 10), 0)
		seenCmd = pipe.Get(ctx, LastSeenKey(user))
		return nil
	})
	if err != nil {
		metrics.RecordClaim("error")
		return Claim{}, fmt.Errorf("claim %s: %w", user, err)
	}

	prev, perr := setCmd.Result()
	becameOnline := false
	switch {
	case errors.Is(perr, redis.Nil):
		becameOnline = true
	case perr != nil:
		metrics.RecordClaim("error")
		return Claim{}, fmt.Errorf("claim %s: %w", user, perr)
	}

	if becameOnline {
		metrics.RecordClaim("online")
		emitTransition(ctx, transitionClaimed)
	} else {
		metrics.RecordClaim("already_online")
		emitTransition(ctx, transitionReclaimed)
		r.logger.Debug().
			Str(log.FieldUserKey, user).
			Str("previous_owner", prev).
			Msg("presence claim overwrote live key")
	}

	return Claim{
		BecameOnline: becameOnline,
		LastSeenMS:   r.parseMillis(seenCmd, user, "lastseen"),
	}, nil
}

// Refresh extends the presence TTL iff this server still owns the key, and
// bumps last-active on success. A false return means ownership moved or
// expired; the caller must stop refreshing (or re-claim).
func (r *Registry) Refresh(ctx context.Context, user string) (bool, error) {
	owned, err := r.store.RefreshIfOwner(ctx, UserKey(user), r.serverID, r.ttl)
	if err != nil {
		metrics.RecordRefresh("error")
		return false, err
	}
	if !owned {
		metrics.RecordRefresh("lost")
		emitTransition(ctx, transitionLost)
		r.logger.Debug().
			Str(log.FieldUserKey, user).
			Msg("presence refresh lost ownership")
		return false, nil
	}

	if err := r.store.Set(ctx, LastActiveKey(user), strconv.FormatInt(r.now().UnixMilli(), 10)); err != nil {
		// The TTL extension already landed; the activity bump can wait for
		// the next refresh.
		r.logger.Warn().Err(err).
			Str(log.FieldUserKey, user).
			Msg("last-active update failed after refresh")
	}

	metrics.RecordRefresh("refreshed")
	emitTransition(ctx, transitionRefreshed)
	return true, nil
}

// ReleaseIfOwned records last-seen and then deletes the presence key iff
// this server still owns it. True means a clean offline transition that the
// caller should publish; false means another server owns presence now.
func (r *Registry) ReleaseIfOwned(ctx context.Context, user string) (bool, error) {
	if err := r.store.Set(ctx, LastSeenKey(user), strconv.FormatInt(r.now().UnixMilli(), 10)); err != nil {
		metrics.RecordRelease("error")
		return false, err
	}

	deleted, err := r.store.DeleteIfOwner(ctx, UserKey(user), r.serverID)
	if err != nil {
		metrics.RecordRelease("error")
		return false, err
	}
	if !deleted {
		metrics.RecordRelease("not_owner")
		return false, nil
	}

	metrics.RecordRelease("released")
	emitTransition(ctx, transitionReleased)
	return true, nil
}

// IsOnline reports whether any server currently holds the user online.
func (r *Registry) IsOnline(ctx context.Context, user string) (bool, error) {
	return r.store.Exists(ctx, UserKey(user))
}

// OwnerOf returns the server id holding the user's presence key, if any.
func (r *Registry) OwnerOf(ctx context.Context, user string) (string, bool, error) {
	return r.store.Get(ctx, UserKey(user))
}

// parseMillis reads an ms-epoch value out of a pipelined GET. Absence and
// malformed values both come back as nil; the timestamps are advisory.
func (r *Registry) parseMillis(cmd *redis.StringCmd, user, kind string) *int64 {
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		r.logger.Warn().Err(err).
			Str(log.FieldUserKey, user).
			Str("kind", kind).
			Msg("timestamp read failed")
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.logger.Warn().
			Str(log.FieldUserKey, user).
			Str("kind", kind).
			Str("value", raw).
			Msg("malformed timestamp in store")
		return nil
	}
	return &ms
}
