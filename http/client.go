package http

import (
	"context"
	"errors"
	"fmt"
	"maps"
	nethttp "net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gaborage/webqueue/logger"
	"github.com/gaborage/webqueue/scheduler"
	"github.com/gaborage/webqueue/transport"
)

const (
	// DefaultPriority is the priority of requests that do not set one
	DefaultPriority = scheduler.Normal

	// DefaultMaxRetries is the default counted retry budget of a request
	DefaultMaxRetries = 0

	headerIfNoneMatch = "If-None-Match"
	mimeOctetStream   = "application/octet-stream"
)

// client implements the Client interface on top of a scheduler
type client struct {
	scheduler *scheduler.Scheduler
	logger    logger.Logger
	config    *Config
	callCount atomic.Int64
}

// Builder provides a fluent interface for configuring the REST client
type Builder struct {
	scheduler *scheduler.Scheduler
	config    *Config
	logger    logger.Logger
}

// NewClient creates a new REST client with default configuration
func NewClient(s *scheduler.Scheduler, log logger.Logger) Client {
	return NewBuilder(s, log).Build()
}

// NewBuilder creates a new client builder
func NewBuilder(s *scheduler.Scheduler, log logger.Logger) *Builder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Builder{
		scheduler: s,
		config: &Config{
			Priority:       DefaultPriority,
			Retries:        DefaultMaxRetries,
			DefaultHeaders: make(map[string]string),
		},
		logger: log,
	}
}

// WithEndpoint sets the base URL that relative request URLs are joined to
func (b *Builder) WithEndpoint(endpoint string) *Builder {
	b.config.Endpoint = endpoint
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithPriority sets the default request priority
func (b *Builder) WithPriority(p scheduler.Priority) *Builder {
	b.config.Priority = p
	return b
}

// WithRetries sets the default counted retry budget
func (b *Builder) WithRetries(maxRetries int) *Builder {
	b.config.Retries = maxRetries
	return b
}

// WithTimeout sets the default per-attempt timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithContentType sets the default content type, overriding body inference
func (b *Builder) WithContentType(contentType string) *Builder {
	b.config.ContentType = contentType
	return b
}

// WithAcceptType sets the default accept type
func (b *Builder) WithAcceptType(acceptType string) *Builder {
	b.config.AcceptType = acceptType
	return b
}

// WithClassifier sets the default failure classifier
func (b *Builder) WithClassifier(classifier scheduler.Classifier) *Builder {
	b.config.Classifier = classifier
	return b
}

// WithBlockUntil sets a gate awaited before every submission
func (b *Builder) WithBlockUntil(fn BlockUntilFunc) *Builder {
	b.config.BlockUntil = fn
	return b
}

// WithSuccessHook adds a hook run on every successful response
func (b *Builder) WithSuccessHook(hook SuccessHook) *Builder {
	b.config.SuccessHooks = append(b.config.SuccessHooks, hook)
	return b
}

// Build creates the REST client with the configured options
func (b *Builder) Build() Client {
	return &client{
		scheduler: b.scheduler,
		logger:    b.logger,
		config:    b.config,
	}
}

// Get performs a GET request
func (c *client) Get(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodGet, req)
}

// Post performs a POST request
func (c *client) Post(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPost, req)
}

// Put performs a PUT request
func (c *client) Put(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPut, req)
}

// Patch performs a PATCH request
func (c *client) Patch(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPatch, req)
}

// Delete performs a DELETE request
func (c *client) Delete(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodDelete, req)
}

// Do submits the request and waits for it. Canceling ctx aborts the request.
func (c *client) Do(ctx context.Context, method string, req *Request) (*Response, error) {
	call, err := c.Submit(ctx, method, req)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Submit passes the gate and queues the request without waiting for it.
func (c *client) Submit(ctx context.Context, method string, req *Request) (*Call, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	if c.config.BlockUntil != nil {
		if err := c.config.BlockUntil(ctx); err != nil {
			c.logger.Debug().
				Err(err).
				Str("method", method).
				Str("url", req.URL).
				Msg("REST client request blocked")
			return nil, NewInterceptorError("request blocked", "block", err)
		}
	}

	opts := c.requestOptions(req)
	sreq := scheduler.NewRequestWithContext(ctx, method, c.resolveURL(req), opts)
	handle, err := c.scheduler.Submit(sreq)
	if err != nil {
		if errors.Is(err, scheduler.ErrClosed) {
			return nil, NewCanceledError("client is shut down", err)
		}
		return nil, wrapValidationError("request rejected", err)
	}

	return &Call{
		client:    c,
		request:   sreq,
		handle:    handle,
		timeout:   opts.Timeout,
		etag:      req.ETag,
		start:     time.Now(),
		callCount: c.callCount.Add(1),
	}, nil
}

// validateRequest validates the request before sending
func (c *client) validateRequest(req *Request) error {
	if req == nil {
		return NewValidationError("request cannot be nil", "request")
	}
	if req.URL == "" && (req.ExcludeEndpoint || c.config.Endpoint == "") {
		return NewValidationError("URL cannot be empty", "url")
	}
	return nil
}

// resolveURL joins relative URLs to the endpoint
func (c *client) resolveURL(req *Request) string {
	if req.ExcludeEndpoint || c.config.Endpoint == "" || strings.Contains(req.URL, "://") {
		return req.URL
	}
	if req.URL == "" {
		return c.config.Endpoint
	}
	return strings.TrimRight(c.config.Endpoint, "/") + "/" + strings.TrimLeft(req.URL, "/")
}

func (c *client) requestOptions(req *Request) scheduler.RequestOptions {
	opts := scheduler.RequestOptions{
		Priority:             c.config.Priority,
		Retries:              c.config.Retries,
		Timeout:              c.config.Timeout,
		Headers:              c.mergeHeaders(req),
		Body:                 req.Body,
		ContentType:          firstNonEmpty(req.ContentType, c.config.ContentType, inferContentType(req.Body)),
		AcceptType:           firstNonEmpty(req.AcceptType, c.config.AcceptType),
		Classifier:           c.config.Classifier,
		AugmentErrorResponse: req.AugmentErrorResponse,
	}
	if req.Priority != nil {
		opts.Priority = *req.Priority
	}
	if req.Retries != nil {
		opts.Retries = *req.Retries
	}
	if req.Timeout > 0 {
		opts.Timeout = req.Timeout
	}
	if req.Classifier != nil {
		opts.Classifier = req.Classifier
	}
	return opts
}

// mergeHeaders applies default headers, then request headers (overriding
// defaults case-insensitively), then the ETag precondition.
func (c *client) mergeHeaders(req *Request) map[string]string {
	headers := maps.Clone(c.config.DefaultHeaders)
	if headers == nil {
		headers = make(map[string]string)
	}
	set := func(key, value string) {
		for existing := range headers {
			if strings.EqualFold(existing, key) {
				delete(headers, existing)
			}
		}
		headers[key] = value
	}
	for key, value := range req.Headers {
		set(key, value)
	}
	if req.ETag != "" {
		set(headerIfNoneMatch, req.ETag)
	}
	return headers
}

// inferContentType mirrors what a body most likely is when no type is configured.
func inferContentType(body any) string {
	switch body.(type) {
	case nil:
		return ""
	case string:
		return scheduler.TypeForm
	case []byte:
		return mimeOctetStream
	default:
		return scheduler.TypeJSON
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// finish converts the scheduler outcome and runs success hooks.
func (c *client) finish(ctx context.Context, call *Call, resp *scheduler.Response, err error) (*Response, error) {
	if err != nil {
		return c.mapFailure(call, resp, err)
	}

	out := call.toResponse(resp)
	for _, hook := range c.config.SuccessHooks {
		if err := hook(ctx, out); err != nil {
			return out, NewInterceptorError("success hook failed", "success", err)
		}
	}
	return out, nil
}

func (c *client) mapFailure(call *Call, resp *scheduler.Response, err error) (*Response, error) {
	re, ok := scheduler.AsResponseError(err)
	if !ok || resp == nil {
		return nil, NewNetworkError("request failed", err)
	}

	target := fmt.Sprintf("%s %s", resp.Method, resp.URL)
	switch {
	case resp.TimedOut:
		return nil, NewTimeoutError(target, call.timeout)
	case resp.Canceled:
		return nil, NewCanceledError(target, re)
	case resp.StatusCode == 0:
		var ie *transport.InterceptorError
		if errors.As(re.Cause, &ie) {
			return nil, NewInterceptorError("transport interceptor failed", ie.Stage, ie.Err)
		}
		return nil, NewNetworkError("request execution failed", re)
	default:
		return call.toResponse(resp), NewHTTPError(
			fmt.Sprintf("HTTP request failed with status %d", resp.StatusCode),
			resp.StatusCode,
			resp.Body,
		)
	}
}

// Call is a submitted request that has not necessarily finished.
type Call struct {
	client    *client
	request   *scheduler.Request
	handle    *scheduler.Handle
	timeout   time.Duration
	etag      string
	start     time.Time
	callCount int64
}

// ID returns the scheduler's request ID.
func (c *Call) ID() string {
	return c.request.ID()
}

// Done is closed once the request has finished.
func (c *Call) Done() <-chan struct{} {
	return c.handle.Done()
}

// Abort cancels the request. Aborting a finished call is a no-op.
func (c *Call) Abort() error {
	return c.client.scheduler.Abort(c.request)
}

// SetPriority reprioritizes the request.
func (c *Call) SetPriority(p scheduler.Priority) error {
	return c.client.scheduler.SetPriority(c.request, p)
}

// Wait blocks until the request finishes. If ctx ends first the request is aborted.
func (c *Call) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-c.handle.Done():
	case <-ctx.Done():
		_ = c.client.scheduler.Abort(c.request)
		<-c.handle.Done()
		if _, err := c.handle.Result(); err != nil {
			return nil, NewCanceledError(fmt.Sprintf("%s %s", c.request.Method(), c.request.URL()), ctx.Err())
		}
	}
	resp, err := c.handle.Result()
	return c.client.finish(ctx, c, resp, err)
}

func (c *Call) toResponse(resp *scheduler.Response) *Response {
	return &Response{
		StatusCode:  resp.StatusCode,
		Body:        resp.Body,
		Headers:     resp.Headers,
		ETagMatched: c.etag != "" && resp.StatusCode == nethttp.StatusNotModified,
		Stats: Stats{
			ElapsedTime: time.Since(c.start),
			CallCount:   c.callCount,
			Attempts:    resp.Attempts,
		},
	}
}
