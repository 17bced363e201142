package tracing

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func withRecordingTracer(t *testing.T) {
	t.Helper()
	tp := sdktrace.NewTracerProvider()
	prev := tracer
	tracer = tp.Tracer("test")
	t.Cleanup(func() {
		tracer = prev
		_ = tp.Shutdown(context.Background())
	})
}

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	req := httptest.NewRequest("GET", "http://qdrant.local/collections", nil)
	InjectTraceparent(ctx, req)
	assert.Empty(t, req.Header.Get("traceparent"))
}

func TestTraceparentCarriedToServerSpan(t *testing.T) {
	withRecordingTracer(t)

	ctx, client := StartHTTPSpan(context.Background(), "POST", "http://embed.local/embeddings/")
	defer client.End()

	req := httptest.NewRequest("POST", "http://embed.local/embeddings/", nil)
	InjectTraceparent(ctx, req)
	require.NotEmpty(t, req.Header.Get("traceparent"))

	_, server := StartServerSpan(req, "/embeddings/")
	defer server.End()
	assert.Equal(t, client.SpanContext().TraceID(), server.SpanContext().TraceID())
	assert.NotEqual(t, client.SpanContext().SpanID(), server.SpanContext().SpanID())
}

func TestServerSpanWithoutParentStartsTrace(t *testing.T) {
	withRecordingTracer(t)

	req := httptest.NewRequest("GET", "http://api.local/api/v1/workflow/states", nil)
	ctx, span := StartServerSpan(req, "/api/v1/workflow/states")
	defer span.End()
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())
}
