package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by TracingConfig.
const (
	ExporterLog  = "log"
	ExporterOTLP = "otlp"
)

const defaultBatchTimeout = 5 * time.Second

// ErrInvalidTracing marks a tracing section that failed validation.
var ErrInvalidTracing = errors.New("invalid tracing config")

// TracingConfig selects where spans go.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`     // log | otlp
	Endpoint    string  `yaml:"endpoint"`     // otlp collector host:port
	Insecure    bool    `yaml:"insecure"`     // plaintext gRPC to the collector
	SampleRate  float64 `yaml:"sample_rate"`  // 0..1 of root spans kept
	ServiceName string  `yaml:"service_name"` // service.name resource attribute
}

// DefaultTracingConfig keeps tracing off; when enabled, every span is logged.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Exporter:    ExporterLog,
		SampleRate:  1,
		ServiceName: tracerName,
	}
}

// Validate checks the section; a disabled section is always valid.
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch strings.ToLower(c.Exporter) {
	case ExporterLog:
	case ExporterOTLP:
		if c.Endpoint == "" {
			return fmt.Errorf("%w: endpoint is required for the otlp exporter", ErrInvalidTracing)
		}
	default:
		return fmt.Errorf("%w: unknown exporter %q", ErrInvalidTracing, c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: sample_rate must be in [0,1], got %g", ErrInvalidTracing, c.SampleRate)
	}
	return nil
}

// ShutdownFunc flushes and stops the installed provider.
type ShutdownFunc func(context.Context) error

/*
SetupTracing installs a global tracer provider for cfg.

Behavior:
- Disabled: nothing is installed; spans stay no-ops
- log: every ended span is written to logger at debug level
- otlp: spans are batched to the collector at cfg.Endpoint over gRPC

The returned shutdown flushes pending spans; call it before exit.
*/
func SetupTracing(ctx context.Context, cfg TracingConfig, logger *slog.Logger) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = tracerName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", name)),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		sdktrace.WithResource(res),
	}
	switch strings.ToLower(cfg.Exporter) {
	case ExporterOTLP:
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter for %s: %w", cfg.Endpoint, err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(defaultBatchTimeout)))
	default:
		opts = append(opts, sdktrace.WithSyncer(&logExporter{logger: logger}))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	logger.Debug("tracing enabled", "exporter", cfg.Exporter, "sample_rate", cfg.SampleRate)
	return tp.Shutdown, nil
}

// logExporter writes ended spans to a slog logger.
type logExporter struct {
	logger *slog.Logger
}

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		args := []any{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"duration", s.EndTime().Sub(s.StartTime()),
		}
		if s.Parent().IsValid() {
			args = append(args, "parent_id", s.Parent().SpanID().String())
		}
		if st := s.Status(); st.Description != "" {
			args = append(args, "error", st.Description)
		}
		for _, kv := range s.Attributes() {
			args = append(args, string(kv.Key), kv.Value.Emit())
		}
		e.logger.DebugContext(ctx, "span ended", args...)
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }
