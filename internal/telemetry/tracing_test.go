package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// The provider is process-global, so these tests do not run in parallel.

func TestTracerRecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "pubsearch-test", sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := Tracer().Start(context.Background(), "crawl.run")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "crawl.run", ended[0].Name())
	assert.Equal(t, "pubsearch-test", serviceName(ended[0]))
}

func TestInjectExtractRoundTrip(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), "pubsearch-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := Tracer().Start(context.Background(), "publish")
	defer span.End()

	attrs := map[string]string{"event": "crawl.completed"}
	Inject(ctx, attrs)
	assert.Contains(t, attrs, "traceparent")

	got := trace.SpanContextFromContext(Extract(context.Background(), propagation.MapCarrier(attrs)))
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
}

func serviceName(s sdktrace.ReadOnlySpan) string {
	for _, kv := range s.Resource().Attributes() {
		if kv.Key == "service.name" {
			return kv.Value.AsString()
		}
	}
	return ""
}
