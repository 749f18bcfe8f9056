// Package telemetry starts OpenTelemetry spans for planning and mission
// execution. Spans go to the global tracer provider, which SetupTracing
// installs from the tracing config; without one they are no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "topo-nav"

// StartPlanSpan starts a span for a single-goal A* search.
func StartPlanSpan(ctx context.Context, start, goal int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan",
		trace.WithAttributes(
			attribute.Int("plan.start", start),
			attribute.Int("plan.goal", goal),
		),
	)
}

// StartMultiPlanSpan starts a span for a multi-goal plan.
func StartMultiPlanSpan(ctx context.Context, start, goals int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan_multi",
		trace.WithAttributes(
			attribute.Int("plan.start", start),
			attribute.Int("plan.goal_count", goals),
		),
	)
}

// StartMissionSpan starts a span covering a whole mission run.
func StartMissionSpan(ctx context.Context, missionID string, start, zones int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "mission",
		trace.WithAttributes(
			attribute.String("mission.id", missionID),
			attribute.Int("mission.start", start),
			attribute.Int("mission.zone_count", zones),
		),
	)
}

// StartZoneSpan starts a span for one zone visit within a mission.
func StartZoneSpan(ctx context.Context, zoneID string, entry int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "zone",
		trace.WithAttributes(
			attribute.String("zone.id", zoneID),
			attribute.Int("zone.entry", entry),
		),
	)
}

// StartTraverseSpan starts a span for one edge traversal.
func StartTraverseSpan(ctx context.Context, from, to int, skill string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "traverse",
		trace.WithAttributes(
			attribute.Int("edge.from", from),
			attribute.Int("edge.to", to),
			attribute.String("edge.skill", skill),
		),
	)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
