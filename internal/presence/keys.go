// SPDX-License-Identifier: MIT

package presence

import (
	"hash/fnv"
	"strconv"
)

const (
	userKeyPrefix       = "presence:user:"
	lastSeenKeyPrefix   = "presence:lastseen:"
	lastActiveKeyPrefix = "presence:lastactive:"
	watchersKeyPrefix   = "presence:watchers:"
	flipChannelPrefix   = "presence:flip:"
	serverChannelPrefix = "presence:server:"
	usersSetKey         = "presence:users"
)

// UserKey is the TTL-bearing online-truth key. Its value is the owning
// server id; existence means online.
func UserKey(user string) string {
	return userKeyPrefix + user
}

// LastSeenKey holds the ms-epoch timestamp of the last clean offline
// transition. No TTL.
func LastSeenKey(user string) string {
	return lastSeenKeyPrefix + user
}

// LastActiveKey holds the ms-epoch timestamp of the last authenticate or
// refresh. No TTL.
func LastActiveKey(user string) string {
	return lastActiveKeyPrefix + user
}

// WatchersKey is the per-user sorted set of watching server ids, scored by
// membership expiry (targeted routing only).
func WatchersKey(user string) string {
	return watchersKeyPrefix + user
}

// FlipChannel names one shard of the broadcast flip channel space.
func FlipChannel(shard int) string {
	return flipChannelPrefix + strconv.Itoa(shard)
}

// ServerChannel names a single server's targeted flip channel.
func ServerChannel(serverID string) string {
	return serverChannelPrefix + serverID
}

// UsersSetKey is the set of user keys that have ever logged in.
func UsersSetKey() string {
	return usersSetKey
}

// ShardFor maps a user key onto a flip shard.
func ShardFor(user string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return int(h.Sum32() % uint32(shardCount))
}
