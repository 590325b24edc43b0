package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitTracerProviderLogsSpans(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tp, err := InitTracerProvider(context.Background(), "docmirror-test", zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, parent := otel.Tracer("test").Start(context.Background(), "sync")
	_, child := otel.Tracer("test").Start(ctx, "document")
	child.SetAttributes(attribute.String("entry_key", "abc"))
	child.End()
	parent.End()

	entries := logs.FilterMessage("span").All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	assert.Equal(t, "document", first["name"])
	assert.Equal(t, "abc", first["attr.entry_key"])
	assert.Contains(t, first, "parent_span_id")
	assert.Equal(t, "sync", entries[1].ContextMap()["name"])
}

func TestLogExporterSkipsAboveDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tp, err := InitTracerProvider(context.Background(), "docmirror-test", zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "quiet")
	span.End()
	assert.Zero(t, logs.Len())
}
