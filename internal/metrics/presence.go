// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the presence fabric.
// Label cardinality is bounded: no user keys, session ids, or remote
// addresses ever appear as label values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Session lifecycle

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presd_sessions_active",
		Help: "Current number of live WebSocket sessions on this server",
	})

	sessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presd_sessions_opened_total",
		Help: "Total number of sessions accepted",
	})

	sessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_sessions_closed_total",
		Help: "Total number of sessions closed, by cause",
	}, []string{"cause"}) // cause=client|heartbeat|policy|shutdown|error

	connectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_connections_rejected_total",
		Help: "Total number of connection attempts rejected before upgrade, by reason",
	}, []string{"reason"}) // reason=ip_cap|dial_rate|origin

	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_messages_received_total",
		Help: "Total number of client messages handled, by type",
	}, []string{"type"})

	// Presence registry

	authTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_auth_total",
		Help: "Authentication attempts by outcome",
	}, []string{"outcome"}) // outcome=ok|invalid_key|store_error

	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_presence_claims_total",
		Help: "Presence claims by outcome",
	}, []string{"outcome"}) // outcome=online|already_online|error

	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_presence_refresh_total",
		Help: "Presence refresh attempts by outcome",
	}, []string{"outcome"}) // outcome=refreshed|lost|error

	releaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_presence_release_total",
		Help: "Presence release attempts by outcome",
	}, []string{"outcome"}) // outcome=released|not_owner|error

	// Flip fan-out

	flipsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_flips_published_total",
		Help: "Online/offline flips published, by direction and routing mode",
	}, []string{"direction", "mode"})

	flipsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presd_flips_skipped_total",
		Help: "Flips skipped because no server had watchers (targeted mode)",
	})

	flipsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presd_flips_received_total",
		Help: "Flip payloads received on subscribed channels",
	})

	flipParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_flip_parse_failures_total",
		Help: "Flip payloads dropped due to parse failure, by reason",
	}, []string{"reason"})

	updatesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presd_presence_updates_delivered_total",
		Help: "presence_update messages delivered to local sessions",
	})

	updatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_presence_updates_dropped_total",
		Help: "presence_update messages dropped before delivery, by reason",
	}, []string{"reason"}) // reason=closed|slow

	// Limits

	focusRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_focus_rejected_total",
		Help: "Focus requests rejected, by reason",
	}, []string{"reason"}) // reason=rate_limit|not_authenticated

	focusEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presd_focus_entries",
		Help: "Current number of (session, observed user) focus pairs on this server",
	})

	// Store

	snapshotBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "presd_snapshot_batch_size",
		Help:    "Number of user keys per snapshot request",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presd_store_errors_total",
		Help: "Store command failures, by operation",
	}, []string{"op"})
)

// IncSessionsActive increments the live session gauge.
func IncSessionsActive() {
	sessionsActive.Inc()
	sessionsOpened.Inc()
}

// DecSessionsActive decrements the live session gauge.
func DecSessionsActive(cause string) {
	sessionsActive.Dec()
	sessionsClosed.WithLabelValues(cause).Inc()
}

// GetSessionsActive returns the current value of the gauge (for testing).
func GetSessionsActive() float64 {
	var m dto.Metric
	if err := sessionsActive.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// RecordConnectionRejected counts a pre-upgrade rejection.
func RecordConnectionRejected(reason string) {
	connectionsRejected.WithLabelValues(reason).Inc()
}

// RecordMessageReceived counts one handled client message.
func RecordMessageReceived(msgType string) {
	messagesReceived.WithLabelValues(msgType).Inc()
}

// RecordAuth counts an authentication attempt.
func RecordAuth(outcome string) {
	authTotal.WithLabelValues(outcome).Inc()
}

// RecordClaim counts a presence claim.
func RecordClaim(outcome string) {
	claimsTotal.WithLabelValues(outcome).Inc()
}

// RecordRefresh counts a presence refresh attempt.
func RecordRefresh(outcome string) {
	refreshTotal.WithLabelValues(outcome).Inc()
}

// RecordRelease counts a presence release attempt.
func RecordRelease(outcome string) {
	releaseTotal.WithLabelValues(outcome).Inc()
}

// RecordFlipPublished counts a published flip.
func RecordFlipPublished(direction, mode string) {
	flipsPublished.WithLabelValues(direction, mode).Inc()
}

// RecordFlipSkipped counts a targeted-mode publish skipped for lack of watchers.
func RecordFlipSkipped() {
	flipsSkipped.Inc()
}

// RecordFlipReceived counts a received flip payload.
func RecordFlipReceived() {
	flipsReceived.Inc()
}

// RecordFlipParseFailure counts a dropped, unparseable flip payload.
func RecordFlipParseFailure(reason string) {
	flipParseFailures.WithLabelValues(reason).Inc()
}

// RecordUpdateDelivered counts one presence_update delivered to a session.
func RecordUpdateDelivered() {
	updatesDelivered.Inc()
}

// RecordUpdateDropped counts one presence_update dropped before delivery.
func RecordUpdateDropped(reason string) {
	updatesDropped.WithLabelValues(reason).Inc()
}

// RecordFocusRejected counts a rejected focus request.
func RecordFocusRejected(reason string) {
	focusRejected.WithLabelValues(reason).Inc()
}

// SetFocusEntries sets the current focus pair gauge.
func SetFocusEntries(n int) {
	focusEntries.Set(float64(n))
}

// GetFocusEntries returns the current value of the gauge (for testing).
func GetFocusEntries() float64 {
	var m dto.Metric
	if err := focusEntries.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// ObserveSnapshotBatch records the size of one snapshot request.
func ObserveSnapshotBatch(n int) {
	snapshotBatchSize.Observe(float64(n))
}

// RecordStoreError counts a failed store command.
func RecordStoreError(op string) {
	storeErrors.WithLabelValues(op).Inc()
}
