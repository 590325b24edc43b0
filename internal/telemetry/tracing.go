// Package telemetry sets up OpenTelemetry tracing for a docmirror process.
// Finished spans are written to the zap logger at debug level.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.uber.org/zap"
)

// InitTracerProvider installs a global tracer provider for serviceName and
// returns it so the caller can shut it down.
func InitTracerProvider(ctx context.Context, serviceName string, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSyncer(NewLogExporter(logger)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// LogExporter writes finished spans to a zap logger.
type LogExporter struct {
	logger *zap.Logger
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

// NewLogExporter returns an exporter logging to logger; nil discards spans.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger.Named("trace")}
}

// ExportSpans logs one debug line per span.
func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		if ce := e.logger.Check(zap.DebugLevel, "span"); ce != nil {
			fields := []zap.Field{
				zap.String("name", s.Name()),
				zap.String("trace_id", s.SpanContext().TraceID().String()),
				zap.String("span_id", s.SpanContext().SpanID().String()),
				zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
				zap.String("status", s.Status().Code.String()),
			}
			if parent := s.Parent(); parent.IsValid() {
				fields = append(fields, zap.String("parent_span_id", parent.SpanID().String()))
			}
			for _, kv := range s.Attributes() {
				fields = append(fields, zap.String("attr."+string(kv.Key), kv.Value.Emit()))
			}
			ce.Write(fields...)
		}
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}
