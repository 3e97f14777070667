// SPDX-License-Identifier: MIT

// Package session holds the per-connection state machine and the
// per-process hub that indexes live sessions: who is authenticated as whom,
// who focuses whom, and which transports receive a given presence update.
package session

import "errors"

var (
	// ErrTransportClosed reports a send on a transport that is gone.
	ErrTransportClosed = errors.New("transport closed")
	// ErrSendQueueFull reports a consumer too slow to drain its send queue.
	ErrSendQueueFull = errors.New("send queue full")
)

// Transport is the session's outbound half, implemented by the gateway
// connection. Send and Ping enqueue and must not block; the read loop owns
// teardown and reports the disconnect to the hub.
type Transport interface {
	// Send enqueues one outbound frame.
	Send(payload []byte) error
	// Ping enqueues a transport-level liveness probe.
	Ping() error
	// Close tears the connection down and unblocks the read loop.
	Close() error
	// RemoteIP is the client source address without the port.
	RemoteIP() string
}

// Disconnect causes, recorded on the sessions-closed metric.
const (
	CauseClientClose      = "client_close"
	CauseHeartbeatTimeout = "heartbeat_timeout"
	CauseStoreUnavailable = "store_unavailable"
	CauseDrain            = "drain"
	CauseReadError        = "read_error"
)
