// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldSessionID = "session_id"
	FieldServerID  = "server_id"
	FieldUserKey   = "user"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Presence fields
	FieldChannel = "channel"
	FieldShard   = "shard"
	FieldOnline  = "online"
	FieldFocus   = "focus_size"

	// Network fields
	FieldRemoteIP = "remote_ip"
)
