// Package trace carries correlation IDs for queued requests through contexts
// and onto outbound headers.
package trace

import (
	"context"
	nethttp "net/http"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	idKey contextKey = "request_id"

	// HeaderXRequestID is the default correlation header.
	HeaderXRequestID = "X-Request-ID"
)

// WithID attaches a correlation ID to ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey, id)
}

// IDFromContext returns the correlation ID attached by WithID.
func IDFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(idKey).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// EnsureID prefers an attached ID, then the active span's trace ID, then a fresh UUID.
func EnsureID(ctx context.Context) string {
	if id, ok := IDFromContext(ctx); ok {
		return id
	}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

// NewIDInterceptor returns a request interceptor that sets header, X-Request-ID
// when empty, unless the request already carries it.
func NewIDInterceptor(header string) func(ctx context.Context, req *nethttp.Request) error {
	if header == "" {
		header = HeaderXRequestID
	}
	return func(ctx context.Context, req *nethttp.Request) error {
		if req.Header.Get(header) == "" {
			req.Header.Set(header, EnsureID(ctx))
		}
		return nil
	}
}
