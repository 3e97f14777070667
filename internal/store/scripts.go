// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/presenced/internal/metrics"
)

// KEYS[1] - presence key
// ARGV[1] - owner server id
// ARGV[2] - ttl seconds
var refreshIfOwnerScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end
	`)

// KEYS[1] - presence key
// ARGV[1] - owner server id
var deleteIfOwnerScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
	`)

// RefreshIfOwner extends the TTL of key iff its current value equals owner.
// It returns false when the key is absent or held by another owner; that is
// an answer, not an error.
func (c *Client) RefreshIfOwner(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	res, err := refreshIfOwnerScript.Run(ctx, c.rdb, []string{key}, owner, int64(ttl/time.Second)).Int64()
	if err != nil {
		metrics.RecordStoreError("refresh_if_owner")
		return false, fmt.Errorf("refresh %s: %w", key, err)
	}
	return res == 1, nil
}

// DeleteIfOwner removes key iff its current value equals owner. It returns
// false when the key is absent or held by another owner.
func (c *Client) DeleteIfOwner(ctx context.Context, key, owner string) (bool, error) {
	res, err := deleteIfOwnerScript.Run(ctx, c.rdb, []string{key}, owner).Int64()
	if err != nil {
		metrics.RecordStoreError("delete_if_owner")
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return res == 1, nil
}
