package app

import (
	nethttp "net/http"

	"github.com/gaborage/webqueue/http"
	"github.com/gaborage/webqueue/logger"
	"github.com/gaborage/webqueue/observability"
	"github.com/gaborage/webqueue/scheduler"
	"github.com/gaborage/webqueue/transport"
)

// Options contains optional dependencies for creating an App instance
type Options struct {
	Logger               logger.Logger
	Transport            scheduler.Transport
	HTTPClient           *nethttp.Client
	RequestInterceptors  []transport.RequestInterceptor
	SuccessHooks         []http.SuccessHook
	BlockUntil           http.BlockUntilFunc
	ObservabilityOptions []observability.Option
}

// Option mutates Options.
type Option func(*Options)

// WithLogger replaces the logger built from config.
func WithLogger(log logger.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithTransport replaces the HTTP transport entirely.
func WithTransport(tr scheduler.Transport) Option {
	return func(o *Options) { o.Transport = tr }
}

// WithHTTPClient sets the net/http client used by the HTTP transport.
func WithHTTPClient(c *nethttp.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// WithRequestInterceptor adds a transport request interceptor.
func WithRequestInterceptor(interceptor transport.RequestInterceptor) Option {
	return func(o *Options) { o.RequestInterceptors = append(o.RequestInterceptors, interceptor) }
}

// WithSuccessHook adds a client success hook.
func WithSuccessHook(hook http.SuccessHook) Option {
	return func(o *Options) { o.SuccessHooks = append(o.SuccessHooks, hook) }
}

// WithBlockUntil gates every client submission.
func WithBlockUntil(fn http.BlockUntilFunc) Option {
	return func(o *Options) { o.BlockUntil = fn }
}

// WithObservabilityOptions passes options through to the telemetry provider.
func WithObservabilityOptions(opts ...observability.Option) Option {
	return func(o *Options) { o.ObservabilityOptions = append(o.ObservabilityOptions, opts...) }
}
