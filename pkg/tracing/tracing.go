// Package tracing wires gflowd's HTTP API into OpenTelemetry, one span
// per API request. Disabled by default: a single-workstation
// scheduler with no OTLP collector nearby has nowhere to send spans, and
// InitTracer degrades to a no-op provider rather than failing startup
// when Enabled is false.
package tracing

import (
	"context"
	"fmt"

	"github.com/AndPuQing/gflow/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Config selects gflowd's tracing target. ServiceName is always "gflowd"
// in practice; Environment lets one collector distinguish spans from a
// developer's laptop daemon versus a shared lab workstation's.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g., "http://localhost:4318" for OTLP HTTP
	Enabled        bool
}

// Provider wraps the OpenTelemetry trace provider gflowd's API handlers
// use.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// InitTracer sets up gflowd's tracer. With Enabled false it still returns
// a working Provider whose spans simply go nowhere, so pkg/api's
// server.go can install tracing.HTTPMiddleware unconditionally without
// branching on config.
func InitTracer(cfg Config, log *logging.Logger) (*Provider, error) {
	if !cfg.Enabled {
		log.Info("tracing disabled")
		tp := sdktrace.NewTracerProvider()
		return &Provider{
			tp:     tp,
			tracer: tp.Tracer(cfg.ServiceName),
		}, nil
	}

	log.Info(fmt.Sprintf("exporting traces to %s (service: %s, env: %s)",
		cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment))

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(), // loopback collector; no TLS needed
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(cfg.ServiceName),
	}, nil
}

// Shutdown flushes any pending spans. Registered as a shutdown.Manager
// step so gflowd's final requests are exported before the process exits.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer instance backing this provider.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// StartSpan starts a span under the given name, tagged with attrs — used
// for a scheduler-internal operation (dispatch, cascade) that a handler
// wants to trace as a child of the request span.
func (p *Provider) StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// SpanFromContext returns the span already active on ctx, if any.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent records a point-in-time event (e.g. "gpu reserved") on ctx's
// active span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetError marks ctx's active span as failed.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}

// SetStatus sets ctx's active span's terminal status.
func SetStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	span.SetStatus(code, description)
}

// JobAttributes returns the standard set of span attributes gflowd tags
// job-related spans with, so a trace backend can filter or group by job
// id and name the same way regardless of which handler started the span.
func JobAttributes(jobID uint64, jobName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("gflow.job_id", int64(jobID)),
		attribute.String("gflow.job_name", jobName),
	}
}
