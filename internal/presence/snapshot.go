// SPDX-License-Identifier: MIT

package presence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/presenced/internal/metrics"
)

// Status is one user's entry in a snapshot.
type Status struct {
	User         string `json:"user"`
	Online       bool   `json:"online"`
	LastActiveMS *int64 `json:"last_active_ms"`
	Bucket       Bucket `json:"bucket"`
}

// BatchTooLargeError rejects an oversized snapshot request before any store
// traffic.
type BatchTooLargeError struct {
	Size  int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("snapshot batch of %d users exceeds limit of %d", e.Size, e.Limit)
}

// Snapshot resolves presence and activity for a batch of users in a single
// store round trip. Results preserve input order.
func (r *Registry) Snapshot(ctx context.Context, users []string) ([]Status, error) {
	if len(users) == 0 {
		return []Status{}, nil
	}
	if len(users) > r.maxBatch {
		return nil, &BatchTooLargeError{Size: len(users), Limit: r.maxBatch}
	}

	presenceKeys := make([]string, len(users))
	activeKeys := make([]string, len(users))
	for i, u := range users {
		presenceKeys[i] = UserKey(u)
		activeKeys[i] = LastActiveKey(u)
	}

	var presCmd, actCmd *redis.SliceCmd
	_, err := r.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		presCmd = pipe.MGet(ctx, presenceKeys...)
		actCmd = pipe.MGet(ctx, activeKeys...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %d users: %w", len(users), err)
	}

	pres := presCmd.Val()
	act := actCmd.Val()
	now := r.now()

	statuses := make([]Status, len(users))
	for i, u := range users {
		online := i < len(pres) && pres[i] != nil

		var lastActive *int64
		if i < len(act) {
			if raw, ok := act[i].(string); ok {
				if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
					lastActive = &ms
				}
			}
		}

		statuses[i] = Status{
			User:         u,
			Online:       online,
			LastActiveMS: lastActive,
			Bucket:       BucketFor(now, lastActive, online),
		}
	}

	metrics.ObserveSnapshotBatch(len(users))
	return statuses, nil
}
