// SPDX-License-Identifier: MIT

package presence

import "testing"

func TestKeyLayout(t *testing.T) {
	if got := UserKey("a@example.com"); got != "presence:user:a@example.com" {
		t.Errorf("UserKey = %q", got)
	}
	if got := LastSeenKey("a@example.com"); got != "presence:lastseen:a@example.com" {
		t.Errorf("LastSeenKey = %q", got)
	}
	if got := LastActiveKey("a@example.com"); got != "presence:lastactive:a@example.com" {
		t.Errorf("LastActiveKey = %q", got)
	}
	if got := WatchersKey("a@example.com"); got != "presence:watchers:a@example.com" {
		t.Errorf("WatchersKey = %q", got)
	}
	if got := FlipChannel(7); got != "presence:flip:7" {
		t.Errorf("FlipChannel = %q", got)
	}
	if got := ServerChannel("srv-1"); got != "presence:server:srv-1" {
		t.Errorf("ServerChannel = %q", got)
	}
}

func TestShardFor(t *testing.T) {
	// Deterministic and in range.
	first := ShardFor("a@example.com", 32)
	for i := 0; i < 10; i++ {
		if got := ShardFor("a@example.com", 32); got != first {
			t.Fatalf("ShardFor not deterministic: %d vs %d", got, first)
		}
	}
	if first < 0 || first >= 32 {
		t.Errorf("shard %d out of range", first)
	}

	// Single-shard deployments always map to shard zero.
	if got := ShardFor("a@example.com", 1); got != 0 {
		t.Errorf("expected shard 0 for shardCount=1, got %d", got)
	}
	if got := ShardFor("a@example.com", 0); got != 0 {
		t.Errorf("expected shard 0 for shardCount=0, got %d", got)
	}

	// Distinct users should generally spread across shards.
	users := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com",
		"e@example.com", "f@example.com", "g@example.com", "h@example.com"}
	seen := map[int]bool{}
	for _, u := range users {
		seen[ShardFor(u, 32)] = true
	}
	if len(seen) < 2 {
		t.Error("expected at least two distinct shards across users")
	}
}
