// SPDX-License-Identifier: MIT

// Package flip moves online/offline transitions between servers over the
// store's pub/sub. The publisher fans a transition out according to the
// routing mode, the watcher index scopes targeted routing to interested
// servers, and the subscriber feeds parsed events to the local session
// layer. Delivery is best-effort; snapshots reconcile anything missed.
package flip

// Event is the wire payload for one presence transition.
type Event struct {
	User        string `json:"user"`
	Online      bool   `json:"online"`
	TimestampMS int64  `json:"timestamp_ms"`
}
