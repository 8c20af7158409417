package observability

import (
	"strings"
	"time"
)

const (
	// EndpointStdout is a special endpoint value that outputs to stdout (for local development).
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	// CompressionGzip specifies gzip compression for OTLP export.
	CompressionGzip = "gzip"

	// CompressionNone specifies no compression for OTLP export.
	CompressionNone = "none"

	// EnvironmentDevelopment is the default environment name for development mode.
	EnvironmentDevelopment = "development"
)

// Config defines the configuration for exporting scheduler spans and metrics.
type Config struct {
	// Enabled controls whether observability is active.
	// When false, all observability operations become no-ops.
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	// Service identifies the process in exported telemetry. Usually copied from app settings.
	Service ServiceConfig `koanf:"service" json:"service" yaml:"service"`

	// Environment indicates the deployment environment (e.g., production, staging, development).
	Environment string `koanf:"environment" json:"environment" yaml:"environment"`

	Trace   TraceConfig   `koanf:"trace" json:"trace" yaml:"trace"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics" yaml:"metrics"`
}

// ServiceConfig contains service identification metadata.
type ServiceConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name"`
	Version string `koanf:"version" json:"version" yaml:"version"`
}

// TraceConfig defines configuration for attempt spans.
type TraceConfig struct {
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	// Endpoint specifies where to send trace data.
	// Special value "stdout" enables console output for local development.
	// For OTLP use "http://localhost:4318" with http or "localhost:4317" with grpc.
	Endpoint string `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`

	// Protocol specifies the OTLP protocol to use: "http" or "grpc".
	Protocol string `koanf:"protocol" json:"protocol" yaml:"protocol"`

	// Insecure disables TLS for OTLP exporters.
	Insecure bool `koanf:"insecure" json:"insecure" yaml:"insecure"`

	// Headers are sent with every OTLP export, e.g. API keys.
	Headers map[string]string `koanf:"headers" json:"headers" yaml:"headers"`

	// Compression is "gzip" or "none".
	Compression string `koanf:"compression" json:"compression" yaml:"compression"`

	// SampleRate is the fraction of root traces recorded, 0.0 to 1.0.
	SampleRate float64 `koanf:"samplerate" json:"samplerate" yaml:"samplerate"`

	// BatchTimeout is how long spans wait before a batch is exported.
	BatchTimeout time.Duration `koanf:"batchtimeout" json:"batchtimeout" yaml:"batchtimeout"`

	// ExportTimeout bounds a single export call.
	ExportTimeout time.Duration `koanf:"exporttimeout" json:"exporttimeout" yaml:"exporttimeout"`
}

// MetricsConfig defines configuration for scheduler metrics export.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	// Endpoint specifies where to send metric data. Accepts the same values as traces.
	Endpoint string `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`

	// Protocol falls back to the trace protocol when empty.
	Protocol string `koanf:"protocol" json:"protocol" yaml:"protocol"`

	// Interval specifies how often to export metrics.
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval"`

	// ExportTimeout bounds a single export call.
	ExportTimeout time.Duration `koanf:"exporttimeout" json:"exporttimeout" yaml:"exporttimeout"`
}

// ApplyDefaults sets default values for any config fields that are not specified.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}

	if c.Trace.Endpoint == "" {
		c.Trace.Endpoint = EndpointStdout
	}
	if c.Trace.Protocol == "" {
		c.Trace.Protocol = ProtocolHTTP
	}
	if c.Trace.Compression == "" {
		c.Trace.Compression = CompressionGzip
	}

	// Development gets near-instant span visibility, production larger batches
	local := c.Environment == EnvironmentDevelopment || c.Trace.Endpoint == EndpointStdout
	if c.Trace.BatchTimeout == 0 {
		c.Trace.BatchTimeout = 5 * time.Second
		if local {
			c.Trace.BatchTimeout = 500 * time.Millisecond
		}
	}
	if c.Trace.ExportTimeout == 0 {
		c.Trace.ExportTimeout = 60 * time.Second
		if local {
			c.Trace.ExportTimeout = 10 * time.Second
		}
	}

	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = EndpointStdout
	}
	if c.Metrics.Protocol == "" {
		c.Metrics.Protocol = c.Trace.Protocol
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = 10 * time.Second
	}
	if c.Metrics.ExportTimeout == 0 {
		c.Metrics.ExportTimeout = 10 * time.Second
	}
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}

	if !c.Enabled {
		return nil
	}

	if c.Service.Name == "" {
		return ErrMissingServiceName
	}

	if c.Trace.Enabled {
		if c.Trace.SampleRate < 0.0 || c.Trace.SampleRate > 1.0 {
			return ErrInvalidSampleRate
		}
		if c.Trace.Compression != "" && c.Trace.Compression != CompressionGzip && c.Trace.Compression != CompressionNone {
			return ErrInvalidCompression
		}
		if err := validateEndpoint(c.Trace.Endpoint, c.Trace.Protocol); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled {
		protocol := c.Metrics.Protocol
		if protocol == "" {
			protocol = c.Trace.Protocol
		}
		return validateEndpoint(c.Metrics.Endpoint, protocol)
	}

	return nil
}

// validateEndpoint checks that the endpoint format matches the protocol.
// gRPC endpoints must use "host:port" format without http:// or https:// scheme.
// HTTP endpoints must include the http:// or https:// scheme.
func validateEndpoint(endpoint, protocol string) error {
	if endpoint == EndpointStdout || endpoint == "" {
		return nil
	}

	if protocol == "" {
		protocol = ProtocolHTTP
	}

	hasScheme := strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")

	switch protocol {
	case ProtocolGRPC:
		if hasScheme {
			return ErrInvalidEndpointFormat
		}
	case ProtocolHTTP:
		if !hasScheme {
			return ErrInvalidEndpointFormat
		}
	default:
		return ErrInvalidProtocol
	}

	return nil
}
