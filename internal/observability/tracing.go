package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer for the orchestrator. One span covers
// a turn; child spans cover the classify, route, prompt, tool-loop, guardrail,
// and persist stages.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TraceConfig configures distributed tracing.
type TraceConfig struct {
	// ServiceName identifies this service in traces.
	ServiceName string

	// Environment is the deployment environment label.
	Environment string

	// Endpoint is the OTLP gRPC collector endpoint; empty disables export.
	Endpoint string

	// SamplingRate is the recorded fraction of traces (0.0-1.0, default 1.0).
	SamplingRate float64

	// EnableInsecure disables TLS for the OTLP connection.
	EnableInsecure bool
}

// NewTracer sets up the OTLP trace pipeline. It returns the tracer and a
// shutdown function; with no endpoint configured spans stay in-process only.
func NewTracer(ctx context.Context, cfg TraceConfig) (*Tracer, func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "convoflow"
	}
	if cfg.SamplingRate <= 0 || cfg.SamplingRate > 1 {
		cfg.SamplingRate = 1.0
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		attribute.String("environment", cfg.Environment),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("build trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}

	if cfg.Endpoint != "" {
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.EnableInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(grpcOpts...))
		if err != nil {
			return nil, nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	t := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}
	return t, provider.Shutdown, nil
}

// Start begins a span.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks a span as failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
