// SPDX-License-Identifier: MIT

package flip

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/presenced/internal/presence"
	"github.com/ManuGH/presenced/internal/store"
)

// Watchers maintains the per-user sorted set of server ids with local
// interest, used only by targeted routing. Scores hold membership expiry in
// ms so entries from dead servers self-evict; a member is live while its
// score is in the future.
type Watchers struct {
	store    *store.Client
	serverID string
	ttl      time.Duration
	now      func() time.Time
}

// NewWatchers builds the watcher index for this server.
func NewWatchers(st *store.Client, serverID string, ttl time.Duration) *Watchers {
	return &Watchers{
		store:    st,
		serverID: serverID,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Add registers this server as a watcher of each user in one pipeline,
// refreshing the membership expiry of entries that already exist. The key
// TTL is reapplied on every add so a set nobody refreshes disappears whole.
func (w *Watchers) Add(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return nil
	}
	expiry := float64(w.now().Add(w.ttl).UnixMilli())
	_, err := w.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			key := presence.WatchersKey(u)
			pipe.ZAdd(ctx, key, redis.Z{Score: expiry, Member: w.serverID})
			pipe.Expire(ctx, key, w.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add watchers: %w", err)
	}
	return nil
}

// Remove drops this server from each user's watcher set in one pipeline.
func (w *Watchers) Remove(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return nil
	}
	_, err := w.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			pipe.ZRem(ctx, presence.WatchersKey(u), w.serverID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove watchers: %w", err)
	}
	return nil
}

// Members returns the live watcher ids for a user, pruning expired entries
// on the way. Membership is a hint; an empty result permits skipping the
// publish.
func (w *Watchers) Members(ctx context.Context, user string) ([]string, error) {
	nowMS := w.now().UnixMilli()
	key := presence.WatchersKey(user)

	var rangeCmd *redis.StringSliceCmd
	_, err := w.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(nowMS, 10))
		rangeCmd = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: "(" + strconv.FormatInt(nowMS, 10),
			Max: "+inf",
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read watchers: %w", err)
	}
	return rangeCmd.Val(), nil
}
