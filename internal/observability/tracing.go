// Package observability wires OpenTelemetry tracing for the gateway.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"vita/internal/config"
)

const tracerName = "vita"

// Span attribute keys shared by the dispatch pipeline and HTTP surface.
const (
	AttrToolName  = "vita.tool_name"
	AttrCallerID  = "vita.caller_id"
	AttrSessionID = "vita.session_id"
	AttrRequestID = "vita.request_id"
)

// TracerProvider wraps the SDK provider so callers shut it down without
// caring whether tracing is enabled.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider builds an OTLP/HTTP exporting provider, or a noop
// tracer when tracing is disabled.
func NewTracerProvider(cfg config.TracingConfig, version string) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer(tracerName),
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "vita-gateway"
	}
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1.0
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(tracerName),
	}, nil
}

// Tracer returns the tracer for span creation.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown flushes pending spans. A noop provider shuts down instantly.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// ToolAttrs builds the standard attribute set for a dispatch span.
func ToolAttrs(toolName, callerID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, toolName),
		attribute.String(AttrCallerID, callerID),
	}
}
