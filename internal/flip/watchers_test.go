// SPDX-License-Identifier: MIT

package flip

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/store"
)

func setupFlip(t *testing.T) (*miniredis.Miniredis, *store.Client) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	st, err := store.New(store.Config{URL: "redis://" + mr.Addr()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build store client: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return mr, st
}

func TestWatchers_AddAndMembers(t *testing.T) {
	mr, st := setupFlip(t)
	ctx := context.Background()

	wA := NewWatchers(st, "server-a", 120*time.Second)
	wB := NewWatchers(st, "server-b", 120*time.Second)

	if err := wA.Add(ctx, []string{"a@example.com", "b@example.com"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if ttl := mr.TTL("presence:watchers:a@example.com"); ttl != 120*time.Second {
		t.Errorf("expected key TTL 120s, got %v", ttl)
	}
	if err := wB.Add(ctx, []string{"a@example.com"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	members, err := wA.Members(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	got := map[string]bool{}
	for _, m := range members {
		got[m] = true
	}
	if len(got) != 2 || !got["server-a"] || !got["server-b"] {
		t.Errorf("expected both servers watching a@, got %v", members)
	}

	members, err = wA.Members(ctx, "b@example.com")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 1 || members[0] != "server-a" {
		t.Errorf("expected only server-a watching b@, got %v", members)
	}
}

func TestWatchers_Remove(t *testing.T) {
	_, st := setupFlip(t)
	ctx := context.Background()

	wA := NewWatchers(st, "server-a", 120*time.Second)
	wB := NewWatchers(st, "server-b", 120*time.Second)

	if err := wA.Add(ctx, []string{"a@example.com"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := wB.Add(ctx, []string{"a@example.com"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := wA.Remove(ctx, []string{"a@example.com"}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	members, err := wA.Members(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 1 || members[0] != "server-b" {
		t.Errorf("expected only server-b to remain, got %v", members)
	}
}

func TestWatchers_ExpiredMembersPruned(t *testing.T) {
	_, st := setupFlip(t)
	ctx := context.Background()

	t0 := time.UnixMilli(1_724_680_000_000)
	w := NewWatchers(st, "server-a", 120*time.Second)
	w.now = func() time.Time { return t0 }

	if err := w.Add(ctx, []string{"a@example.com"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Move past the membership expiry; the stale entry must not show up.
	w.now = func() time.Time { return t0.Add(121 * time.Second) }
	members, err := w.Members(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("expected expired watcher to be pruned, got %v", members)
	}

	// A later add starts a fresh membership.
	if err := w.Add(ctx, []string{"a@example.com"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	members, err = w.Members(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 1 || members[0] != "server-a" {
		t.Errorf("expected re-added watcher, got %v", members)
	}
}

func TestWatchers_AddRefreshesExpiry(t *testing.T) {
	_, st := setupFlip(t)
	ctx := context.Background()

	t0 := time.UnixMilli(1_724_680_000_000)
	w := NewWatchers(st, "server-a", 120*time.Second)
	w.now = func() time.Time { return t0 }

	if err := w.Add(ctx, []string{"a@example.com"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Re-add at t0+60 pushes expiry to t0+180.
	w.now = func() time.Time { return t0.Add(60 * time.Second) }
	if err := w.Add(ctx, []string{"a@example.com"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	w.now = func() time.Time { return t0.Add(150 * time.Second) }
	members, err := w.Members(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("expected refreshed membership to survive, got %v", members)
	}
}

func TestWatchers_EmptyBatchesAreNoOps(t *testing.T) {
	mr, st := setupFlip(t)
	ctx := context.Background()

	w := NewWatchers(st, "server-a", 120*time.Second)
	if err := w.Add(ctx, nil); err != nil {
		t.Errorf("empty Add failed: %v", err)
	}
	if err := w.Remove(ctx, nil); err != nil {
		t.Errorf("empty Remove failed: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("expected no keys written, got %v", keys)
	}
}
