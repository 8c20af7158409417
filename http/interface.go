package http

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gaborage/webqueue/scheduler"
)

// Client defines the REST client interface for making HTTP requests
type Client interface {
	Get(ctx context.Context, req *Request) (*Response, error)
	Post(ctx context.Context, req *Request) (*Response, error)
	Put(ctx context.Context, req *Request) (*Response, error)
	Patch(ctx context.Context, req *Request) (*Response, error)
	Delete(ctx context.Context, req *Request) (*Response, error)
	Do(ctx context.Context, method string, req *Request) (*Response, error)
	// Submit queues the request and returns without waiting for it.
	Submit(ctx context.Context, method string, req *Request) (*Call, error)
}

// Request represents an HTTP request with all necessary data
type Request struct {
	URL     string
	Headers map[string]string
	Body    any
	// ContentType and AcceptType accept "json", "form" or a MIME type.
	ContentType string
	AcceptType  string
	// ETag is sent as If-None-Match.
	ETag string
	// ExcludeEndpoint sends URL as is instead of joining it to the endpoint.
	ExcludeEndpoint bool
	// Priority, Retries and Timeout override the client defaults when set.
	Priority   *scheduler.Priority
	Retries    *int
	Timeout    time.Duration
	Classifier scheduler.Classifier
	// AugmentErrorResponse may enrich failure responses before classification.
	AugmentErrorResponse func(resp *scheduler.Response)
}

// Response represents an HTTP response with tracking information
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	// ETagMatched is set when the server answered 304 to the request's ETag.
	ETagMatched bool
	Stats       Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	CallCount   int64
	Attempts    int
}

// BlockUntilFunc gates submission; a non-nil error fails the call without sending it.
type BlockUntilFunc func(ctx context.Context) error

// SuccessHook inspects a successful response; a non-nil error fails the call.
type SuccessHook func(ctx context.Context, resp *Response) error

// Config holds the REST client configuration
type Config struct {
	Endpoint       string
	DefaultHeaders map[string]string
	Priority       scheduler.Priority
	Retries        int
	Timeout        time.Duration
	ContentType    string
	AcceptType     string
	Classifier     scheduler.Classifier
	BlockUntil     BlockUntilFunc
	SuccessHooks   []SuccessHook
}
