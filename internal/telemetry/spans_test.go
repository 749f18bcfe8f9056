package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func TestSpans_NestAndCarryAttributes(t *testing.T) {
	sr := installRecorder(t)

	ctx, mission := StartMissionSpan(context.Background(), "m-1", 1, 2)
	_, plan := StartPlanSpan(ctx, 1, 3)
	End(plan, nil)
	End(mission, nil)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "plan", spans[0].Name())
	assert.Equal(t, "mission", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("plan.goal", 3))
	assert.Contains(t, spans[1].Attributes(), attribute.String("mission.id", "m-1"))
}

func TestEnd_RecordsError(t *testing.T) {
	sr := installRecorder(t)

	_, span := StartTraverseSpan(context.Background(), 1, 2, "follow_corridor")
	End(span, errors.New("bumper hit"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "bumper hit", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
