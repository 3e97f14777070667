// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/flip"
	"github.com/ManuGH/presenced/internal/presence"
)

func TestSession_AuthNormalizesAndReplies(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.connect(t)
	s.HandleMessage(ctx, []byte(`{"type":"auth","user":" Alice@Example.COM "}`))

	frame := tr.lastFrame(t)
	if frame["type"] != "auth_ok" {
		t.Fatalf("reply = %v, want auth_ok", frame)
	}
	if frame["user"] != "alice@example.com" || frame["server_id"] != "server-test" {
		t.Fatalf("auth_ok identity fields = %v", frame)
	}
	if frame["heartbeat_ms"] != float64(30000) || frame["ttl_seconds"] != float64(90) {
		t.Fatalf("auth_ok timing fields = %v", frame)
	}
	if v, ok := frame["last_seen_ms"]; !ok || v != nil {
		t.Fatalf("last_seen_ms = %v, want null on first connect", v)
	}

	if got := s.User(); got != "alice@example.com" {
		t.Fatalf("User() = %q", got)
	}
	owner, err := env.mr.Get(presence.UserKey("alice@example.com"))
	if err != nil || owner != "server-test" {
		t.Fatalf("presence key = %q, %v", owner, err)
	}
}

func TestSession_AuthInvalidKey(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.connect(t)
	s.HandleMessage(ctx, []byte(`{"type":"auth","user":"not-an-email"}`))

	frame := tr.lastFrame(t)
	if frame["type"] != "error" || frame["message"] != "invalid user key" {
		t.Fatalf("reply = %v", frame)
	}
	if s.State() != StateConnecting {
		t.Fatal("invalid auth moved the session out of connecting")
	}
}

func TestSession_AuthReportsLastSeenOnReconnect(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()
	user := "back@example.com"

	s1, _ := env.authedSession(t, user)
	env.hub.Unregister(ctx, s1, CauseClientClose)

	_, tr2 := env.authedSession(t, user)
	frame := tr2.lastFrame(t)
	ms, ok := frame["last_seen_ms"].(float64)
	if !ok || ms <= 0 {
		t.Fatalf("last_seen_ms = %v, want the release timestamp", frame["last_seen_ms"])
	}
}

func TestSession_AuthFlipOnlyOnTransition(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()
	user := "flippy@example.com"

	pubsub, err := env.st.Subscribe(ctx, presence.FlipChannel(0))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer pubsub.Close()

	env.authedSession(t, user)
	ev := receiveFlip(t, pubsub)
	if ev.User != user || !ev.Online {
		t.Fatalf("online flip = %+v", ev)
	}

	// A second session for an already-online user is not a transition.
	env.authedSession(t, user)
	expectNoFlip(t, pubsub)
}

func TestSession_AuthStoreDownClosesSession(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.connect(t)
	env.mr.Close()
	s.HandleMessage(ctx, []byte(`{"type":"auth","user":"a@example.com"}`))

	frame := tr.lastFrame(t)
	if frame["type"] != "error" || frame["message"] != "internal error" {
		t.Fatalf("reply = %v", frame)
	}
	if s.State() != StateClosed {
		t.Fatal("session survived a failed claim")
	}
	if !tr.isClosed() {
		t.Fatal("transport left open after a failed claim")
	}
	if n := env.hub.SessionCount(); n != 0 {
		t.Fatalf("session count = %d", n)
	}
}

func TestSession_ReauthSwitchesIdentity(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	pubsub, err := env.st.Subscribe(ctx, presence.FlipChannel(0))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer pubsub.Close()

	s, tr := env.authedSession(t, "first@example.com")
	if ev := receiveFlip(t, pubsub); ev.User != "first@example.com" || !ev.Online {
		t.Fatalf("online flip = %+v", ev)
	}
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["peer@example.com"]}`))

	env.auth(t, s, tr, "second@example.com")

	// The old identity is released before the new one is claimed.
	off := receiveFlip(t, pubsub)
	if off.User != "first@example.com" || off.Online {
		t.Fatalf("expected offline flip for the old identity, got %+v", off)
	}
	on := receiveFlip(t, pubsub)
	if on.User != "second@example.com" || !on.Online {
		t.Fatalf("expected online flip for the new identity, got %+v", on)
	}

	if env.mr.Exists(presence.UserKey("first@example.com")) {
		t.Fatal("old presence key survived re-auth")
	}
	owner, err := env.mr.Get(presence.UserKey("second@example.com"))
	if err != nil || owner != "server-test" {
		t.Fatalf("new presence key = %q, %v", owner, err)
	}

	// The focus set belongs to the session, not the identity.
	if got := s.FocusSize(); got != 1 {
		t.Fatalf("focus size after re-auth = %d, want 1", got)
	}
}

func TestSession_AuthAfterCloseIsIgnored(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.connect(t)
	env.hub.Unregister(ctx, s, CauseClientClose)
	s.HandleMessage(ctx, []byte(`{"type":"auth","user":"a@example.com"}`))

	if got := len(tr.frames(t)); got != 0 {
		t.Fatalf("closed session sent %d frames", got)
	}
	if s.State() != StateClosed {
		t.Fatal("closed session changed state")
	}
}

func TestSession_RejectsMessagesBeforeAuth(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	for _, raw := range []string{
		`{"type":"focus","users":["a@example.com"]}`,
		`{"type":"blur","users":["a@example.com"]}`,
		`{"type":"ping"}`,
	} {
		s, tr := env.connect(t)
		s.HandleMessage(ctx, []byte(raw))
		frame := tr.lastFrame(t)
		if frame["type"] != "error" || frame["message"] != "not authenticated" {
			t.Errorf("reply to %s = %v", raw, frame)
		}
	}
}

func TestSession_MalformedAndUnknownMessages(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		raw  string
		want string
	}{
		{`{oops`, "malformed message"},
		{`{"type":"focus","users":"a@example.com"}`, "malformed message"},
		{`{"type":"subscribe","users":["a@example.com"]}`, "unknown message type"},
		{`{"type":"Focus","users":["a@example.com"]}`, "unknown message type"},
	}
	for _, tt := range tests {
		s, tr := env.connect(t)
		s.HandleMessage(ctx, []byte(tt.raw))
		frame := tr.lastFrame(t)
		if frame["type"] != "error" || frame["message"] != tt.want {
			t.Errorf("reply to %s = %v, want %q", tt.raw, frame, tt.want)
		}
	}
}

func TestSession_PingPong(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.authedSession(t, "a@example.com")
	s.HandleMessage(ctx, []byte(`{"type":"ping"}`))

	if frame := tr.lastFrame(t); frame["type"] != "pong" {
		t.Fatalf("reply = %v, want pong", frame)
	}
}

func TestSession_FocusSnapshotStates(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	env.authedSession(t, "online@example.com")
	idleAt := time.Now().Add(-30 * time.Second).UnixMilli()
	env.mr.Set(presence.LastActiveKey("idle@example.com"), strconv.FormatInt(idleAt, 10))

	viewer, tr := env.authedSession(t, "viewer@example.com")
	viewer.HandleMessage(ctx, []byte(`{"type":"focus","users":["online@example.com","idle@example.com","ghost@example.com"]}`))

	frame := tr.lastFrame(t)
	if frame["type"] != "focus_ok" {
		t.Fatalf("reply = %v, want focus_ok", frame)
	}
	statuses, ok := frame["statuses"].([]any)
	if !ok || len(statuses) != 3 {
		t.Fatalf("statuses = %v, want 3 entries", frame["statuses"])
	}

	online := statuses[0].(map[string]any)
	if online["user"] != "online@example.com" || online["online"] != true || online["bucket"] != "online_now" {
		t.Errorf("online status = %v", online)
	}
	idle := statuses[1].(map[string]any)
	if idle["online"] != false || idle["bucket"] != "active_1m" || idle["last_active_ms"] != float64(idleAt) {
		t.Errorf("idle status = %v", idle)
	}
	ghost := statuses[2].(map[string]any)
	if ghost["online"] != false || ghost["bucket"] != "inactive" || ghost["last_active_ms"] != nil {
		t.Errorf("ghost status = %v", ghost)
	}
}

func TestSession_FocusDeduplicatesAndNormalizes(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.authedSession(t, "viewer@example.com")
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":[" Friend@Example.COM ","friend@example.com"]}`))

	frame := tr.lastFrame(t)
	statuses, _ := frame["statuses"].([]any)
	if len(statuses) != 1 {
		t.Fatalf("statuses = %v, want the duplicate collapsed", frame["statuses"])
	}
	if statuses[0].(map[string]any)["user"] != "friend@example.com" {
		t.Fatalf("status user = %v, want the normalized key", statuses[0])
	}
	if got := s.FocusSize(); got != 1 {
		t.Fatalf("focus size = %d, want 1", got)
	}
}

func TestSession_FocusInvalidKeyRejectsBatch(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.authedSession(t, "viewer@example.com")
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["good@example.com","bad"]}`))

	frame := tr.lastFrame(t)
	if frame["type"] != "error" || frame["message"] != "invalid user key" {
		t.Fatalf("reply = %v", frame)
	}
	if got := s.FocusSize(); got != 0 {
		t.Fatalf("focus size = %d, want nothing committed", got)
	}
}

func TestSession_FocusCapClamps(t *testing.T) {
	env := newHubEnv(t, func(c *Config) { c.MaxFocusPerClient = 2 })
	ctx := context.Background()

	s, tr := env.authedSession(t, "viewer@example.com")
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["a@example.com","b@example.com","c@example.com"]}`))

	frame := tr.lastFrame(t)
	statuses, _ := frame["statuses"].([]any)
	if len(statuses) != 2 {
		t.Fatalf("statuses = %v, want the batch clamped to the cap", frame["statuses"])
	}
	if statuses[0].(map[string]any)["user"] != "a@example.com" ||
		statuses[1].(map[string]any)["user"] != "b@example.com" {
		t.Fatalf("clamp kept the wrong entries: %v", statuses)
	}
	if got := s.FocusSize(); got != 2 {
		t.Fatalf("focus size = %d, want 2", got)
	}

	// At the cap further focus calls accept nothing.
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["d@example.com"]}`))
	frame = tr.lastFrame(t)
	if statuses, _ := frame["statuses"].([]any); len(statuses) != 0 {
		t.Fatalf("statuses over cap = %v, want none", frame["statuses"])
	}
}

func TestSession_FocusRateLimit(t *testing.T) {
	env := newHubEnv(t, func(c *Config) { c.FocusRatePerMinute = 2 })
	ctx := context.Background()

	s, tr := env.authedSession(t, "viewer@example.com")
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.mu.Lock()
	s.now = func() time.Time { return current }
	s.mu.Unlock()

	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["a@example.com"]}`))
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["b@example.com"]}`))
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["c@example.com"]}`))

	frame := tr.lastFrame(t)
	if frame["type"] != "error" || frame["message"] != "focus rate limit exceeded" {
		t.Fatalf("reply = %v", frame)
	}
	if got := s.FocusSize(); got != 2 {
		t.Fatalf("focus size = %d, want the denied call to change nothing", got)
	}

	current = current.Add(61 * time.Second)
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["c@example.com"]}`))
	if frame := tr.lastFrame(t); frame["type"] != "focus_ok" {
		t.Fatalf("reply after the window rolled = %v", frame)
	}
}

func TestSession_FocusResubmitIsNoOp(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.authedSession(t, "viewer@example.com")
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["friend@example.com"]}`))
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["friend@example.com"]}`))

	frame := tr.lastFrame(t)
	if frame["type"] != "focus_ok" {
		t.Fatalf("reply = %v", frame)
	}
	if statuses, _ := frame["statuses"].([]any); len(statuses) != 0 {
		t.Fatalf("resubmit statuses = %v, want none", frame["statuses"])
	}
	if got := s.FocusSize(); got != 1 {
		t.Fatalf("focus size = %d, want 1", got)
	}
}

func TestSession_FocusEmptyList(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.authedSession(t, "viewer@example.com")
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":[]}`))

	frame := tr.lastFrame(t)
	if frame["type"] != "focus_ok" {
		t.Fatalf("reply = %v", frame)
	}
	if statuses, _ := frame["statuses"].([]any); len(statuses) != 0 {
		t.Fatalf("statuses = %v, want an empty array", frame["statuses"])
	}
	if got := s.FocusSize(); got != 0 {
		t.Fatalf("focus size = %d", got)
	}
}

func TestSession_FocusStoreDownLeavesFocusEmpty(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.authedSession(t, "viewer@example.com")
	env.mr.Close()
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["friend@example.com"]}`))

	frame := tr.lastFrame(t)
	if frame["type"] != "error" || frame["message"] != "internal error" {
		t.Fatalf("reply = %v", frame)
	}
	if got := s.FocusSize(); got != 0 {
		t.Fatalf("focus size = %d, want nothing committed on store failure", got)
	}
}

func TestSession_BlurRemovesFocus(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()

	s, tr := env.authedSession(t, "viewer@example.com")
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["a@example.com","b@example.com"]}`))
	s.HandleMessage(ctx, []byte(`{"type":"blur","users":["b@example.com","unfocused@example.com","bad"]}`))

	if frame := tr.lastFrame(t); frame["type"] != "blur_ok" {
		t.Fatalf("reply = %v, want blur_ok", frame)
	}
	if got := s.FocusSize(); got != 1 {
		t.Fatalf("focus size = %d, want 1", got)
	}

	// Updates for the blurred user no longer reach the session.
	env.hub.DispatchFlip(flip.Event{User: "b@example.com", Online: true, TimestampMS: 1})
	if updates := tr.framesOfType(t, "presence_update"); len(updates) != 0 {
		t.Fatalf("blurred user still delivered %d updates", len(updates))
	}
	env.hub.DispatchFlip(flip.Event{User: "a@example.com", Online: true, TimestampMS: 2})
	if updates := tr.framesOfType(t, "presence_update"); len(updates) != 1 {
		t.Fatalf("focused user delivered %d updates, want 1", len(updates))
	}
}

func TestSession_PongRefreshAfterCooldown(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()
	user := "refreshed@example.com"
	key := presence.UserKey(user)

	s, tr := env.connect(t)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.mu.Lock()
	s.now = func() time.Time { return current }
	s.mu.Unlock()

	env.auth(t, s, tr, user)
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["peer@example.com"]}`))

	env.mr.FastForward(50 * time.Second)
	if ttl := env.mr.TTL(key); ttl != 40*time.Second {
		t.Fatalf("TTL before refresh = %v", ttl)
	}

	current = current.Add(50 * time.Second)
	s.HandlePong(ctx)
	if ttl := env.mr.TTL(key); ttl != 90*time.Second {
		t.Fatalf("TTL after refresh = %v, want the full lifetime restored", ttl)
	}

	// Inside the cooldown the next pong does not touch the store.
	env.mr.FastForward(10 * time.Second)
	s.HandlePong(ctx)
	if ttl := env.mr.TTL(key); ttl != 80*time.Second {
		t.Fatalf("TTL after throttled pong = %v, want it untouched", ttl)
	}
}

func TestSession_PongNoRefreshWithoutFocus(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()
	user := "unwatched@example.com"
	key := presence.UserKey(user)

	s, tr := env.connect(t)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.mu.Lock()
	s.now = func() time.Time { return current }
	s.mu.Unlock()

	env.auth(t, s, tr, user)

	env.mr.FastForward(50 * time.Second)
	current = current.Add(50 * time.Second)
	s.HandlePong(ctx)

	if ttl := env.mr.TTL(key); ttl != 40*time.Second {
		t.Fatalf("TTL = %v, want no refresh while the focus set is empty", ttl)
	}
}

func TestSession_PongRefreshStopsAfterOwnershipLoss(t *testing.T) {
	env := newHubEnv(t, nil)
	ctx := context.Background()
	user := "ceded@example.com"

	s, tr := env.connect(t)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.mu.Lock()
	s.now = func() time.Time { return current }
	s.mu.Unlock()

	env.auth(t, s, tr, user)
	s.HandleMessage(ctx, []byte(`{"type":"focus","users":["peer@example.com"]}`))

	// Another server claims the same user.
	other := presence.NewRegistry(env.st, presence.RegistryConfig{
		ServerID:         "server-b",
		TTL:              90 * time.Second,
		MaxSnapshotBatch: 500,
	}, zerolog.Nop())
	if _, err := other.ClaimOnline(ctx, user); err != nil {
		t.Fatalf("ClaimOnline failed: %v", err)
	}

	current = current.Add(50 * time.Second)
	s.HandlePong(ctx)

	owner, err := env.mr.Get(presence.UserKey(user))
	if err != nil || owner != "server-b" {
		t.Fatalf("owner = %q, %v, want the other server untouched", owner, err)
	}
	s.mu.Lock()
	lost := s.refreshLost
	stamped := s.lastRefresh
	s.mu.Unlock()
	if !lost {
		t.Fatal("refreshLost not set after losing ownership")
	}

	// Further pongs skip the refresh attempt entirely.
	current = current.Add(50 * time.Second)
	s.HandlePong(ctx)
	s.mu.Lock()
	after := s.lastRefresh
	s.mu.Unlock()
	if !after.Equal(stamped) {
		t.Fatal("pong after ownership loss still attempted a refresh")
	}
}
