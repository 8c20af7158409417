package transport

import (
	"context"
	"fmt"
	"io"
	"maps"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/webqueue/logger"
	"github.com/gaborage/webqueue/scheduler"
	"github.com/gaborage/webqueue/trace"
)

const (
	// TracerName identifies the transport's instrumentation scope.
	TracerName = "webqueue/transport"

	// DefaultMaxPayloadLogBytes caps logged bodies when payload logging is on.
	DefaultMaxPayloadLogBytes = 1024
)

// RequestInterceptor is called before the request is sent.
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after the response headers arrive.
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// BasicAuth contains basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Config holds the transport configuration
type Config struct {
	// Timeout caps each attempt at the net/http level. Zero leaves timing to the scheduler.
	Timeout              time.Duration
	BasicAuth            *BasicAuth
	DefaultHeaders       map[string]string
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	// TraceIDHeader names the correlation header. Empty disables it.
	TraceIDHeader string
	// LogPayloads adds headers and bodies to request and response logs.
	LogPayloads        bool
	MaxPayloadLogBytes int
}

// HTTPTransport implements scheduler.Transport over net/http.
type HTTPTransport struct {
	httpClient *nethttp.Client
	logger     logger.Logger
	config     *Config
	tracer     oteltrace.Tracer
	propagator propagation.TextMapPropagator
	callCount  atomic.Int64
}

var _ scheduler.Transport = (*HTTPTransport)(nil)

// New creates a transport with default configuration
func New(log logger.Logger) *HTTPTransport {
	return NewBuilder(log).Build()
}

// Builder provides a fluent interface for configuring the transport
type Builder struct {
	config         *Config
	logger         logger.Logger
	httpClient     *nethttp.Client
	tracerProvider oteltrace.TracerProvider
	propagator     propagation.TextMapPropagator
}

// NewBuilder creates a new transport builder
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Builder{
		config: &Config{
			DefaultHeaders:     make(map[string]string),
			TraceIDHeader:      trace.HeaderXRequestID,
			MaxPayloadLogBytes: DefaultMaxPayloadLogBytes,
		},
		logger: log,
	}
}

// WithTimeout sets the per-attempt net/http timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithBasicAuth sets basic authentication credentials
func (b *Builder) WithBasicAuth(username, password string) *Builder {
	b.config.BasicAuth = &BasicAuth{
		Username: username,
		Password: password,
	}
	return b
}

// WithDefaultHeader adds a header sent with every attempt
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.config.ResponseInterceptors = append(b.config.ResponseInterceptors, interceptor)
	return b
}

// WithTraceIDHeader renames the correlation header; an empty name disables it
func (b *Builder) WithTraceIDHeader(header string) *Builder {
	b.config.TraceIDHeader = header
	return b
}

// WithPayloadLogging logs headers and up to maxBytes of each body
func (b *Builder) WithPayloadLogging(maxBytes int) *Builder {
	b.config.LogPayloads = true
	if maxBytes > 0 {
		b.config.MaxPayloadLogBytes = maxBytes
	}
	return b
}

// WithHTTPClient replaces the underlying net/http client
func (b *Builder) WithHTTPClient(c *nethttp.Client) *Builder {
	b.httpClient = c
	return b
}

// WithTracerProvider sets the provider for attempt spans (default: global provider)
func (b *Builder) WithTracerProvider(tp oteltrace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithPropagator sets the propagator injected into outbound headers (default: W3C trace context)
func (b *Builder) WithPropagator(p propagation.TextMapPropagator) *Builder {
	b.propagator = p
	return b
}

// Build creates the transport with the configured options
func (b *Builder) Build() *HTTPTransport {
	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &nethttp.Client{Timeout: b.config.Timeout}
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	prop := b.propagator
	if prop == nil {
		prop = propagation.TraceContext{}
	}
	return &HTTPTransport{
		httpClient: httpClient,
		logger:     b.logger,
		config:     b.config,
		tracer:     tp.Tracer(TracerName),
		propagator: prop,
	}
}

// Send performs one attempt. Received statuses are returned with a nil error.
func (t *HTTPTransport) Send(ctx context.Context, a *scheduler.Attempt) (*scheduler.Response, error) {
	start := time.Now()
	callCount := t.callCount.Add(1)

	ctx, span := t.tracer.Start(ctx, "HTTP "+a.Method,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("http.request.method", a.Method),
			attribute.String("url.full", a.URL),
			attribute.String("webqueue.request_id", a.RequestID),
			attribute.Int("webqueue.attempt", a.Number),
			attribute.String("webqueue.priority", a.Priority.String()),
		))
	defer span.End()

	httpReq, sent, err := t.buildRequest(ctx, a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	t.logRequest(a, httpReq, sent)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request execution failed")
		t.logFailure(a, err, time.Since(start))
		return nil, fmt.Errorf("request execution failed: %w", err)
	}

	resp, err := t.buildResponse(ctx, a, httpReq, httpResp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logFailure(a, err, time.Since(start))
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
	}
	t.logResponse(a, resp, time.Since(start), callCount)
	return resp, nil
}

// buildRequest constructs an *http.Request, applies headers/auth, and runs request interceptors.
func (t *HTTPTransport) buildRequest(ctx context.Context, a *scheduler.Attempt) (*nethttp.Request, []byte, error) {
	contentType := MapContentType(a.ContentType)
	body, raw, err := EncodeBody(a.Body, contentType)
	if err != nil {
		return nil, nil, err
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, a.Method, a.URL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	t.applyHeaders(ctx, httpReq, a, contentType)
	if auth := t.config.BasicAuth; auth != nil {
		httpReq.SetBasicAuth(auth.Username, auth.Password)
	}
	t.propagator.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	for _, interceptor := range t.config.RequestInterceptors {
		if err := interceptor(ctx, httpReq); err != nil {
			return nil, nil, &InterceptorError{Stage: StageRequest, Err: err}
		}
	}
	return httpReq, raw, nil
}

// applyHeaders applies default headers, then request headers, then content negotiation.
func (t *HTTPTransport) applyHeaders(ctx context.Context, httpReq *nethttp.Request, a *scheduler.Attempt, contentType string) {
	for key, value := range t.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range a.Headers {
		httpReq.Header.Set(key, value)
	}
	if a.Body != nil && contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if accept := MapContentType(a.AcceptType); accept != "" {
		httpReq.Header.Set("Accept", accept)
	}
	if header := t.config.TraceIDHeader; header != "" && httpReq.Header.Get(header) == "" {
		id, ok := trace.IDFromContext(ctx)
		if !ok {
			id = a.RequestID
		}
		if id != "" {
			httpReq.Header.Set(header, id)
		}
	}
}

// buildResponse runs response interceptors, reads body, and builds a Response.
func (t *HTTPTransport) buildResponse(ctx context.Context, a *scheduler.Attempt, httpReq *nethttp.Request, httpResp *nethttp.Response) (*scheduler.Response, error) {
	defer httpResp.Body.Close()

	for _, interceptor := range t.config.ResponseInterceptors {
		if err := interceptor(ctx, httpReq, httpResp); err != nil {
			return nil, &InterceptorError{Stage: StageResponse, Err: err}
		}
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &scheduler.Response{
		URL:        a.URL,
		Method:     a.Method,
		StatusCode: httpResp.StatusCode,
		Status:     statusText(httpResp),
		Headers:    maps.Clone(httpResp.Header),
		Body:       body,
	}, nil
}

// statusText strips the numeric prefix net/http puts on Status.
func statusText(resp *nethttp.Response) string {
	text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
	if text == "" {
		text = nethttp.StatusText(resp.StatusCode)
	}
	return text
}

func (t *HTTPTransport) truncate(body []byte) []byte {
	if limit := t.config.MaxPayloadLogBytes; limit > 0 && len(body) > limit {
		return body[:limit]
	}
	return body
}

// logRequest logs the outgoing attempt
func (t *HTTPTransport) logRequest(a *scheduler.Attempt, httpReq *nethttp.Request, body []byte) {
	logEvent := t.logger.Info().
		Str("direction", "outbound").
		Str("method", a.Method).
		Str("url", a.URL).
		Str("request_id", a.RequestID).
		Int("attempt", a.Number)

	if t.config.LogPayloads {
		logEvent.Interface("headers", httpReq.Header)
		if len(body) > 0 {
			logEvent.Bytes("body", t.truncate(body))
		}
	}

	logEvent.Msg("REST client request")
}

// logResponse logs the incoming response
func (t *HTTPTransport) logResponse(a *scheduler.Attempt, resp *scheduler.Response, elapsed time.Duration, callCount int64) {
	logEvent := t.logger.Info().
		Str("direction", "inbound").
		Str("request_id", a.RequestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Int64("call_count", callCount)

	if t.config.LogPayloads && len(resp.Body) > 0 {
		logEvent.Bytes("body", t.truncate(resp.Body))
	}

	logEvent.Msg("REST client response")
}

func (t *HTTPTransport) logFailure(a *scheduler.Attempt, err error, elapsed time.Duration) {
	t.logger.Warn().
		Err(err).
		Str("direction", "inbound").
		Str("request_id", a.RequestID).
		Str("url", a.URL).
		Bool("timeout", IsTimeout(err)).
		Dur("elapsed", elapsed).
		Msg("REST client request failed")
}
