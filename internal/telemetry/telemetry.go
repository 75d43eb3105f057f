// Package telemetry adapts the teacher's internal/tracing (OpenTelemetry +
// Jaeger) to this engine's own service identity, wrapping query-driver
// stages and pool/heap housekeeping instead of storage operations
// (SPEC_FULL.md §1 "Tracing/metrics").
package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "rayforce"
	serviceVersion = "0.1.0"
)

var tracerProvider *tracesdk.TracerProvider

// InitTracing initializes OpenTelemetry tracing with Jaeger, identical in
// shape to the teacher's InitTracing.
func InitTracing(jaegerEndpoint string) error {
	if jaegerEndpoint == "" {
		jaegerEndpoint = "http://jaeger:14268/api/traces"
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			attribute.String("environment", "production"),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider = tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
	)

	otel.SetTracerProvider(tracerProvider)

	log.Printf("✓ Jaeger tracing initialized: %s", jaegerEndpoint)
	return nil
}

// Shutdown gracefully shuts down the tracer provider.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// GetTracer returns a tracer for the given engine component (e.g. "query",
// "pool", "heap").
func GetTracer(component string) trace.Tracer {
	return otel.Tracer(fmt.Sprintf("%s/%s", serviceName, component))
}

// StartSpan creates a new span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, operationName)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// AddSpanAttributes adds attributes to the current span.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordError records an error in the current span.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
	}
}

// queryTracer is the tracer every query-driver stage span is opened from.
var queryTracer = GetTracer("query")

// StartStage opens a span around one of the select pipeline's five phases
// (spec §4.10: fetch, filter, group, project, assemble), tagging it with
// the stage name so a trace backend can break down per-stage latency.
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return StartSpan(ctx, queryTracer, "select."+stage, attribute.String("stage", stage))
}

// poolTracer wraps worker-pool batch runs (spec §4.5).
var poolTracer = GetTracer("pool")

// StartPoolBatch opens a span around one pool.Batch call, tagged with the
// task count being dispatched.
func StartPoolBatch(ctx context.Context, taskCount int) (context.Context, trace.Span) {
	return StartSpan(ctx, poolTracer, "pool.batch", attribute.Int("task_count", taskCount))
}

// heapTracer wraps heap GC sweeps (spec §4.1).
var heapTracer = GetTracer("heap")

// StartHeapGC opens a span around one heap.GC sweep, tagged with the
// owning heap's id.
func StartHeapGC(ctx context.Context, heapID uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, heapTracer, "heap.gc", attribute.Int64("heap_id", int64(heapID)))
}
