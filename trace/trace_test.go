package trace

import (
	"context"
	nethttp "net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestEnsureID_UsesExisting(t *testing.T) {
	ctx := WithID(context.Background(), "existing-id")
	assert.Equal(t, "existing-id", EnsureID(ctx))
}

func TestEnsureID_UsesSpanTraceID(t *testing.T) {
	traceID, err := oteltrace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	spanID, err := oteltrace.SpanIDFromHex("0123456789abcdef")
	require.NoError(t, err)
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := oteltrace.ContextWithSpanContext(context.Background(), sc)

	assert.Equal(t, "0123456789abcdef0123456789abcdef", EnsureID(ctx))
}

func TestEnsureID_GeneratesWhenMissing(t *testing.T) {
	got := EnsureID(context.Background())
	re := regexp.MustCompile(`^[a-f0-9\-]{36}$`)
	assert.True(t, re.MatchString(strings.ToLower(got)))
}

func TestIDFromContext_IgnoresEmpty(t *testing.T) {
	_, ok := IDFromContext(WithID(context.Background(), ""))
	assert.False(t, ok)
}

func TestNewIDInterceptor(t *testing.T) {
	t.Run("sets missing header", func(t *testing.T) {
		req, err := nethttp.NewRequest(nethttp.MethodGet, "http://example.com", nethttp.NoBody)
		require.NoError(t, err)
		ctx := WithID(context.Background(), "abc")

		require.NoError(t, NewIDInterceptor("")(ctx, req))
		assert.Equal(t, "abc", req.Header.Get(HeaderXRequestID))
	})

	t.Run("keeps existing header", func(t *testing.T) {
		req, err := nethttp.NewRequest(nethttp.MethodGet, "http://example.com", nethttp.NoBody)
		require.NoError(t, err)
		req.Header.Set("X-Correlation", "keep")

		require.NoError(t, NewIDInterceptor("X-Correlation")(WithID(context.Background(), "new"), req))
		assert.Equal(t, "keep", req.Header.Get("X-Correlation"))
	})
}
