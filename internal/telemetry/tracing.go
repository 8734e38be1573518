package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig configures the tracer provider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// SampleRatio is the fraction of root invocations traced; 0 disables
	// sampling of new traces, 1 traces everything.
	SampleRatio float64
}

// Tracing owns the SDK tracer provider behind the engine's tracer.
type Tracing struct {
	tp *sdktrace.TracerProvider
}

// NewTracing creates a tracer provider and installs it globally. Extra
// options typically add span processors with exporters.
func NewTracing(cfg TracingConfig, opts ...sdktrace.TracerProviderOption) (*Tracing, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "actionkit"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	allOpts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}, opts...)

	tp := sdktrace.NewTracerProvider(allOpts...)
	otel.SetTracerProvider(tp)
	return &Tracing{tp: tp}, nil
}

// Tracer returns the tracer handed to the action runtime.
func (t *Tracing) Tracer() trace.Tracer {
	return t.tp.Tracer("github.com/rendis/actionkit")
}

// Shutdown flushes pending spans and releases resources.
func (t *Tracing) Shutdown(ctx context.Context) error {
	return t.tp.Shutdown(ctx)
}

// NewConsoleExporter returns an exporter printing finished spans as JSON to w.
func NewConsoleExporter(w io.Writer) (sdktrace.SpanExporter, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create console exporter: %w", err)
	}
	return exp, nil
}

// NewOTLPExporter returns an OTLP/HTTP exporter sending to endpoint
// (host:port). Insecure disables TLS.
func NewOTLPExporter(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return exp, nil
}
