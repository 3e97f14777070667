// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 5 * time.Second
	readPoll  = 500 * time.Millisecond
	authWait  = 10 * time.Second
)

// stats collects counters across the whole population. All fields are
// updated atomically from client goroutines.
type stats struct {
	sessionsStarted atomic.Int64
	dialFailures    atomic.Int64
	authOK          atomic.Int64
	authFailures    atomic.Int64
	focusOK         atomic.Int64
	updatesOnline   atomic.Int64
	updatesOffline  atomic.Int64
	pings           atomic.Int64
	protocolErrors  atomic.Int64
	cleanCloses     atomic.Int64
	quitters        atomic.Int64
}

func newStats() *stats {
	return &stats{}
}

func (s *stats) snapshot() map[string]int64 {
	return map[string]int64{
		"sessions_started": s.sessionsStarted.Load(),
		"dial_failures":    s.dialFailures.Load(),
		"auth_ok":          s.authOK.Load(),
		"auth_failures":    s.authFailures.Load(),
		"focus_ok":         s.focusOK.Load(),
		"updates_online":   s.updatesOnline.Load(),
		"updates_offline":  s.updatesOffline.Load(),
		"pings":            s.pings.Load(),
		"protocol_errors":  s.protocolErrors.Load(),
		"clean_closes":     s.cleanCloses.Load(),
		"quitters":         s.quitters.Load(),
	}
}

// soakClient is one simulated user. It owns its connection and runs as a
// single goroutine so every write, including pong replies, is serialized.
type soakClient struct {
	cfg     Config
	id      int
	user    string
	watch   []string
	quitter bool
	quitAt  time.Time
	stats   *stats
}

func newSoakClient(cfg Config, id int, quitter bool, stats *stats) *soakClient {
	return &soakClient{
		cfg:     cfg,
		id:      id,
		user:    soakUser(id),
		watch:   watchSet(id, cfg.WatchFanout, cfg.Sessions),
		quitter: quitter,
		quitAt:  time.Now().Add(cfg.Duration / 2),
		stats:   stats,
	}
}

// soakUser builds the user key for session i.
func soakUser(i int) string {
	return fmt.Sprintf("soak-%04d@soak.example", i)
}

// watchSet picks the fanout users after i, wrapping around the population
// and skipping self.
func watchSet(i, fanout, sessions int) []string {
	users := make([]string, 0, fanout)
	for k := 1; k <= fanout && k < sessions; k++ {
		users = append(users, soakUser((i+k)%sessions))
	}
	return users
}

func (c *soakClient) run(ctx context.Context) {
	c.stats.sessionsStarted.Add(1)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.stats.dialFailures.Add(1)
		return
	}
	defer conn.Close()

	// Count transport pings and keep the default pong reply. The handler
	// runs inside ReadMessage, so this write is on the client's only
	// goroutine.
	conn.SetPingHandler(func(appData string) error {
		c.stats.pings.Add(1)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	if !c.authenticate(ctx, conn) {
		return
	}

	if len(c.watch) > 0 {
		if err := writeFrame(conn, map[string]any{"type": "focus", "users": c.watch}); err != nil {
			c.stats.protocolErrors.Add(1)
			return
		}
	}

	c.loop(ctx, conn)
}

// authenticate sends the auth frame and reads until auth_ok arrives.
func (c *soakClient) authenticate(ctx context.Context, conn *websocket.Conn) bool {
	if err := writeFrame(conn, map[string]any{"type": "auth", "user": c.user}); err != nil {
		c.stats.authFailures.Add(1)
		return false
	}

	deadline := time.Now().Add(authWait)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		frame, err := readFrame(conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			c.stats.authFailures.Add(1)
			return false
		}
		switch frame["type"] {
		case "auth_ok":
			c.stats.authOK.Add(1)
			return true
		case "error":
			fmt.Printf("  session %d auth rejected: %v\n", c.id, frame["message"])
			c.stats.authFailures.Add(1)
			return false
		}
	}

	c.stats.authFailures.Add(1)
	return false
}

// loop reads frames until the run ends, churning the focus set on a timer.
// Quitters leave early with a clean close to generate offline flips.
func (c *soakClient) loop(ctx context.Context, conn *websocket.Conn) {
	churn := time.NewTicker(c.cfg.ChurnInterval)
	defer churn.Stop()
	focused := true

	for {
		select {
		case <-ctx.Done():
			c.close(conn)
			return
		case <-churn.C:
			if len(c.watch) == 0 {
				continue
			}
			var err error
			if focused {
				err = writeFrame(conn, map[string]any{"type": "blur", "users": c.watch[:(len(c.watch)+1)/2]})
			} else {
				err = writeFrame(conn, map[string]any{"type": "focus", "users": c.watch})
			}
			if err != nil {
				c.stats.protocolErrors.Add(1)
				return
			}
			focused = !focused
		default:
		}

		if c.quitter && time.Now().After(c.quitAt) {
			c.stats.quitters.Add(1)
			c.close(conn)
			return
		}

		frame, err := readFrame(conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() == nil {
				c.stats.protocolErrors.Add(1)
			}
			return
		}

		switch frame["type"] {
		case "presence_update":
			if online, _ := frame["online"].(bool); online {
				c.stats.updatesOnline.Add(1)
			} else {
				c.stats.updatesOffline.Add(1)
			}
		case "focus_ok":
			c.stats.focusOK.Add(1)
		case "error":
			fmt.Printf("  session %d server error: %v\n", c.id, frame["message"])
			c.stats.protocolErrors.Add(1)
		}
	}
}

// close performs the closing handshake and drains until the peer confirms.
func (c *soakClient) close(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.stats.cleanCloses.Add(1)
			}
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame map[string]any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

func readFrame(conn *websocket.Conn) (map[string]any, error) {
	_ = conn.SetReadDeadline(time.Now().Add(readPoll))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
