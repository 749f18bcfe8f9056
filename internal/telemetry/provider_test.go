package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func keepGlobalProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestTracingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TracingConfig)
		wantErr bool
	}{
		{"disabled default", func(*TracingConfig) {}, false},
		{"log exporter", func(c *TracingConfig) { c.Enabled = true }, false},
		{"otlp with endpoint", func(c *TracingConfig) {
			c.Enabled, c.Exporter, c.Endpoint = true, ExporterOTLP, "localhost:4317"
		}, false},
		{"otlp without endpoint", func(c *TracingConfig) { c.Enabled, c.Exporter = true, ExporterOTLP }, true},
		{"unknown exporter", func(c *TracingConfig) { c.Enabled, c.Exporter = true, "zipkin" }, true},
		{"sample rate above one", func(c *TracingConfig) { c.Enabled, c.SampleRate = true, 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTracingConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTracing)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetupTracing_DisabledInstallsNothing(t *testing.T) {
	keepGlobalProvider(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupTracing(context.Background(), DefaultTracingConfig(), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_LogExporter(t *testing.T) {
	keepGlobalProvider(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	shutdown, err := SetupTracing(context.Background(), cfg, logger)
	require.NoError(t, err)
	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	ctx, mission := StartMissionSpan(context.Background(), "m-7", 1, 1)
	_, traverse := StartTraverseSpan(ctx, 1, 2, "enter_zone")
	End(traverse, errors.New("door stuck"))
	End(mission, nil)
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "span=traverse")
	assert.Contains(t, out, "span=mission")
	assert.Contains(t, out, "mission.id=m-7")
	assert.Contains(t, out, `error="door stuck"`)
	assert.Contains(t, out, "parent_id=")
}

func TestSetupTracing_RejectsInvalidConfig(t *testing.T) {
	keepGlobalProvider(t)
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = ExporterOTLP

	_, err := SetupTracing(context.Background(), cfg, slog.Default())
	assert.ErrorIs(t, err, ErrInvalidTracing)
}
