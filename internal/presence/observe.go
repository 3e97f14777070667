// SPDX-License-Identifier: MIT

package presence

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName      = "presenced.presence"
	attrTransition = "presenced.presence.transition"
)

const (
	transitionClaimed   = "claimed"
	transitionReclaimed = "reclaimed"
	transitionRefreshed = "refreshed"
	transitionLost      = "lost"
	transitionReleased  = "released"
)

// emitTransition records an ownership transition on the runtime meter and
// annotates the current span. Provider lookup happens per call so late
// telemetry bootstrap is picked up.
func emitTransition(ctx context.Context, transition string) {
	meter := otel.GetMeterProvider().Meter(meterName)
	counter, err := meter.Int64Counter("presenced_presence_transitions_total",
		metric.WithDescription("Presence ownership transitions"))
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transition", transition),
	))

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String(attrTransition, transition))
}
