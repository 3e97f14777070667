// SPDX-License-Identifier: MIT

package session

import (
	"encoding/json"

	"github.com/ManuGH/presenced/internal/flip"
	"github.com/ManuGH/presenced/internal/presence"
)

// Message types accepted from clients. Only the literal "focus" spelling is
// accepted for focus requests.
const (
	typeAuth  = "auth"
	typeFocus = "focus"
	typeBlur  = "blur"
	typePing  = "ping"
)

// clientMessage is the envelope for every inbound frame.
type clientMessage struct {
	Type  string   `json:"type"`
	User  string   `json:"user,omitempty"`
	Users []string `json:"users,omitempty"`
}

type authOKMessage struct {
	Type        string `json:"type"`
	User        string `json:"user"`
	ServerID    string `json:"server_id"`
	HeartbeatMS int64  `json:"heartbeat_ms"`
	TTLSeconds  int64  `json:"ttl_seconds"`
	LastSeenMS  *int64 `json:"last_seen_ms"`
}

type focusOKMessage struct {
	Type     string            `json:"type"`
	Statuses []presence.Status `json:"statuses"`
}

type blurOKMessage struct {
	Type string `json:"type"`
}

type pongMessage struct {
	Type string `json:"type"`
}

type presenceUpdateMessage struct {
	Type        string `json:"type"`
	User        string `json:"user"`
	Online      bool   `json:"online"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error reply texts. These are protocol surface; clients match on them.
const (
	errMalformedMessage = "malformed message"
	errUnknownType      = "unknown message type"
	errNotAuthenticated = "not authenticated"
	errInvalidUserKey   = "invalid user key"
	errFocusRateLimited = "focus rate limit exceeded"
	errInternal         = "internal error"
)

func encodeAuthOK(user, serverID string, heartbeatMS, ttlSeconds int64, lastSeenMS *int64) []byte {
	b, _ := json.Marshal(authOKMessage{
		Type:        "auth_ok",
		User:        user,
		ServerID:    serverID,
		HeartbeatMS: heartbeatMS,
		TTLSeconds:  ttlSeconds,
		LastSeenMS:  lastSeenMS,
	})
	return b
}

func encodeFocusOK(statuses []presence.Status) []byte {
	if statuses == nil {
		statuses = []presence.Status{}
	}
	b, _ := json.Marshal(focusOKMessage{Type: "focus_ok", Statuses: statuses})
	return b
}

func encodeBlurOK() []byte {
	b, _ := json.Marshal(blurOKMessage{Type: "blur_ok"})
	return b
}

func encodePong() []byte {
	b, _ := json.Marshal(pongMessage{Type: "pong"})
	return b
}

func encodePresenceUpdate(ev flip.Event) []byte {
	b, _ := json.Marshal(presenceUpdateMessage{
		Type:        "presence_update",
		User:        ev.User,
		Online:      ev.Online,
		TimestampMS: ev.TimestampMS,
	})
	return b
}

func encodeError(message string) []byte {
	b, _ := json.Marshal(errorMessage{Type: "error", Message: message})
	return b
}
