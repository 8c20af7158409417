package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/gaborage/webqueue/observability"
)

// Config represents the overall application configuration structure.
// The koanf instance it was loaded from stays attached for access to
// custom keys not modeled here.
type Config struct {
	App           AppConfig           `koanf:"app" json:"app" yaml:"app"`
	Log           LogConfig           `koanf:"log" json:"log" yaml:"log"`
	Scheduler     SchedulerConfig     `koanf:"scheduler" json:"scheduler" yaml:"scheduler"`
	Client        ClientConfig        `koanf:"client" json:"client" yaml:"client"`
	Observability observability.Config `koanf:"observability" json:"observability" yaml:"observability"`

	// k holds the underlying Koanf instance for flexible access to custom configurations
	k *koanf.Koanf `json:"-" yaml:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" validate:"required"`
	Version string `koanf:"version" json:"version" yaml:"version" validate:"required"`
	Env     string `koanf:"env" json:"env" yaml:"env" validate:"oneof=development staging production"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// SchedulerConfig holds the request scheduler settings and per-request defaults.
type SchedulerConfig struct {
	// MaxConcurrent bounds requests in flight.
	MaxConcurrent int `koanf:"maxconcurrent" json:"maxconcurrent" yaml:"maxconcurrent" validate:"gte=1"`
	// Timeout bounds each attempt. Zero disables it.
	Timeout time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gte=0"`
	// Retries is the default counted retry budget.
	Retries  int            `koanf:"retries" json:"retries" yaml:"retries" validate:"gte=0"`
	Backoff  BackoffConfig  `koanf:"backoff" json:"backoff" yaml:"backoff"`
	Dispatch DispatchConfig `koanf:"dispatch" json:"dispatch" yaml:"dispatch"`
}

// BackoffConfig holds the retry delay curve.
type BackoffConfig struct {
	Initial time.Duration `koanf:"initial" json:"initial" yaml:"initial" validate:"gt=0"`
	Max     time.Duration `koanf:"max" json:"max" yaml:"max" validate:"gtefield=Initial"`
	Growth  float64       `koanf:"growth" json:"growth" yaml:"growth" validate:"gte=1"`
	// Jitter is a fraction of the delay; -1 disables jitter.
	Jitter float64 `koanf:"jitter" json:"jitter" yaml:"jitter" validate:"gte=-1,lte=1"`
}

// DispatchConfig holds the optional attempt start rate. A zero rate disables it.
type DispatchConfig struct {
	Rate  float64 `koanf:"rate" json:"rate" yaml:"rate" validate:"gte=0"`
	Burst int     `koanf:"burst" json:"burst" yaml:"burst" validate:"gte=0"`
}

// ClientConfig holds the REST client defaults.
type ClientConfig struct {
	Endpoint    string            `koanf:"endpoint" json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	Headers     map[string]string `koanf:"headers" json:"headers" yaml:"headers"`
	Priority    string            `koanf:"priority" json:"priority" yaml:"priority" validate:"omitempty,priority"`
	ContentType string            `koanf:"contenttype" json:"contenttype" yaml:"contenttype"`
	AcceptType  string            `koanf:"accepttype" json:"accepttype" yaml:"accepttype"`
	// TraceHeader names the correlation header. Empty disables it.
	TraceHeader string `koanf:"traceheader" json:"traceheader" yaml:"traceheader"`
	// LogPayloads adds headers and bodies to request logs.
	LogPayloads bool `koanf:"logpayloads" json:"logpayloads" yaml:"logpayloads"`
}
