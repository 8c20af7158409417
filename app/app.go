// Package app wires configuration, logging, telemetry, the HTTP transport,
// the scheduler and the REST client into one application instance.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gaborage/webqueue/backoff"
	"github.com/gaborage/webqueue/config"
	"github.com/gaborage/webqueue/http"
	"github.com/gaborage/webqueue/logger"
	"github.com/gaborage/webqueue/observability"
	"github.com/gaborage/webqueue/scheduler"
	"github.com/gaborage/webqueue/transport"
)

// App owns the scheduler and everything it reports to.
type App struct {
	cfg       *config.Config
	logger    logger.Logger
	telemetry observability.Provider
	scheduler *scheduler.Scheduler
	client    http.Client
}

// New creates a new application instance from cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}

	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.Logger
	if log == nil {
		log = logger.New(cfg.Log.Level, cfg.Log.Pretty)
	}

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Env).
		Str("version", cfg.App.Version).
		Msg("Starting application")

	telemetry, err := newTelemetry(cfg, log, o.ObservabilityOptions)
	if err != nil {
		return nil, err
	}

	priority, err := scheduler.ParsePriority(cfg.Client.Priority)
	if err != nil {
		_ = telemetry.Shutdown(context.Background())
		return nil, config.NewInvalidFieldError("client.priority", err.Error(), nil)
	}

	tr := o.Transport
	if tr == nil {
		tr = newTransport(cfg, log, telemetry, o)
	}

	sched := scheduler.New(tr, scheduler.Options{
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		Backoff: backoff.Config{
			Initial: cfg.Scheduler.Backoff.Initial,
			Max:     cfg.Scheduler.Backoff.Max,
			Growth:  cfg.Scheduler.Backoff.Growth,
			Jitter:  cfg.Scheduler.Backoff.Jitter,
		},
		DispatchRate:  cfg.Scheduler.Dispatch.Rate,
		DispatchBurst: cfg.Scheduler.Dispatch.Burst,
		Logger:        log,
		MeterProvider: telemetry.MeterProvider(),
	})

	builder := http.NewBuilder(sched, log).
		WithEndpoint(cfg.Client.Endpoint).
		WithPriority(priority).
		WithRetries(cfg.Scheduler.Retries).
		WithTimeout(cfg.Scheduler.Timeout).
		WithContentType(cfg.Client.ContentType).
		WithAcceptType(cfg.Client.AcceptType)
	for key, value := range cfg.Client.Headers {
		builder.WithDefaultHeader(key, value)
	}
	for _, hook := range o.SuccessHooks {
		builder.WithSuccessHook(hook)
	}
	if o.BlockUntil != nil {
		builder.WithBlockUntil(o.BlockUntil)
	}

	log.Debug().
		Int("max_concurrent", sched.MaxConcurrent()).
		Str("priority", priority.String()).
		Int("retries", cfg.Scheduler.Retries).
		Dur("timeout", cfg.Scheduler.Timeout).
		Msg("Scheduler ready")

	return &App{
		cfg:       cfg,
		logger:    log,
		telemetry: telemetry,
		scheduler: sched,
		client:    builder.Build(),
	}, nil
}

func newTelemetry(cfg *config.Config, log logger.Logger, opts []observability.Option) (observability.Provider, error) {
	obsCfg, err := cfg.Telemetry()
	if config.IsNotConfigured(err) {
		log.Info().Err(err).Msg("Observability not configured, using no-op providers")
		return observability.NewNoopProvider(), nil
	}
	if err != nil {
		return nil, err
	}

	provider, err := observability.NewProvider(obsCfg, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	return provider, nil
}

func newTransport(cfg *config.Config, log logger.Logger, telemetry observability.Provider, o *Options) *transport.HTTPTransport {
	b := transport.NewBuilder(log).
		WithTraceIDHeader(cfg.Client.TraceHeader).
		WithTracerProvider(telemetry.TracerProvider())
	if cfg.Client.LogPayloads {
		b.WithPayloadLogging(0)
	}
	if o.HTTPClient != nil {
		b.WithHTTPClient(o.HTTPClient)
	}
	for _, interceptor := range o.RequestInterceptors {
		b.WithRequestInterceptor(interceptor)
	}
	return b.Build()
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() logger.Logger { return a.logger }

// Scheduler returns the request scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Client returns the REST client bound to the scheduler.
func (a *App) Client() http.Client { return a.client }

// Close aborts outstanding requests and flushes telemetry within ctx.
func (a *App) Close(ctx context.Context) error {
	stats := a.scheduler.Stats()
	a.logger.Info().
		Int("pending", stats.Pending).
		Int("in_flight", stats.InFlight).
		Int("waiting", stats.Waiting).
		Msg("Shutting down application")

	a.scheduler.Close()

	if err := a.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error().Err(err).Msg("Failed to shutdown observability provider")
		return err
	}

	a.logger.Info().Msg("Application shutdown complete")
	return nil
}
