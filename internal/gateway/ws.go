// SPDX-License-Identifier: MIT

package gateway

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/metrics"
	"github.com/ManuGH/presenced/internal/session"
)

const (
	// writeWait bounds a single frame write; a peer that cannot absorb a
	// frame within it is dropped.
	writeWait = 10 * time.Second

	// maxMessageSize bounds inbound frames. The largest legitimate frame is
	// a full focus batch, which stays well under this.
	maxMessageSize = 32 * 1024

	// sendQueueSize is the per-connection outbound buffer. A consumer that
	// falls this far behind is terminated rather than buffered further.
	sendQueueSize = 64
)

// wsConn adapts one gorilla connection to session.Transport. All writes go
// through a single pump goroutine; Send and Ping only enqueue.
type wsConn struct {
	conn     *websocket.Conn
	sendCh   chan []byte
	pingCh   chan struct{}
	done     chan struct{}
	remoteIP string

	closeOnce sync.Once
	closeCode int
	closeText string
}

func newWSConn(conn *websocket.Conn, remoteIP string) *wsConn {
	return &wsConn{
		conn:     conn,
		sendCh:   make(chan []byte, sendQueueSize),
		pingCh:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		remoteIP: remoteIP,
	}
}

// Send enqueues one outbound frame without blocking.
func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return session.ErrTransportClosed
	default:
	}
	select {
	case c.sendCh <- payload:
		return nil
	default:
		return session.ErrSendQueueFull
	}
}

// Ping enqueues a transport-level ping. A second ping while one is pending
// collapses into it.
func (c *wsConn) Ping() error {
	select {
	case <-c.done:
		return session.ErrTransportClosed
	default:
	}
	select {
	case c.pingCh <- struct{}{}:
	default:
	}
	return nil
}

// Close tears the connection down with a normal close frame.
func (c *wsConn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

func (c *wsConn) RemoteIP() string {
	return c.remoteIP
}

// closeWith stops the pump with the given close code. The first caller wins;
// the pump flushes queued frames, says goodbye and closes the socket, which
// also unblocks the read loop.
func (c *wsConn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// writePump is the sole writer on the connection. It exits on write failure
// or once done is closed, and closing the underlying socket on the way out
// is what unblocks the read loop.
func (c *wsConn) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case payload := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-c.pingCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush whatever is queued, then say goodbye.
			for {
				select {
				case payload := <-c.sendCh:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
					_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

// handleWS upgrades the request and runs the session read loop until the
// client disconnects or the session is terminated.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	logger := g.logger

	if !g.dialLimiter.Allow() {
		metrics.RecordConnectionRejected("dial_rate")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"Too many connection attempts."}`))
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its error response.
		metrics.RecordConnectionRejected("upgrade_failed")
		logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade rejected")
		return
	}

	c := newWSConn(conn, ipFromAddr(r.RemoteAddr))
	go c.writePump()

	sess := session.NewSession(g.hub, c, logger)
	if err := g.hub.Register(sess); err != nil {
		code, text := websocket.ClosePolicyViolation, "connection limit reached"
		if errors.Is(err, session.ErrDraining) {
			code, text = websocket.CloseTryAgainLater, "server draining"
		}
		c.closeWith(code, text)
		return
	}

	g.readLoop(r, sess, c, logger)
}

// readLoop owns the inbound half of the connection. It feeds frames to the
// session and reports the disconnect to the hub when the connection dies.
func (g *Gateway) readLoop(r *http.Request, sess *session.Session, c *wsConn, logger zerolog.Logger) {
	ctx := r.Context()
	pongWait := 2 * g.heartbeatInterval

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		sess.HandlePong(ctx)
		return nil
	})

	cause := session.CauseReadError
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cause = session.CauseClientClose
			}
			logger.Debug().Err(err).Str("remote_ip", c.remoteIP).Msg("websocket read loop ended")
			break
		}
		sess.HandleMessage(ctx, msg)
	}

	g.hub.Unregister(ctx, sess, cause)
}

func ipFromAddr(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
