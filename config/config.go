package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFile is loaded from the working directory when present.
	DefaultFile = "config.yaml"
	// DefaultEnvPrefix scopes environment overrides, e.g. WEBQUEUE_SCHEDULER_MAXCONCURRENT.
	DefaultEnvPrefix = "WEBQUEUE_"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type loader struct {
	file         string
	fileRequired bool
	raw          [][]byte
	envPrefix    string
}

// Option customizes Load.
type Option func(*loader)

// WithFile loads path instead of config.yaml. Unlike the default file it must exist.
func WithFile(path string) Option {
	return func(l *loader) {
		l.file = path
		l.fileRequired = true
	}
}

// WithYAML layers in-memory YAML above the files and below the environment.
func WithYAML(raw []byte) Option {
	return func(l *loader) {
		l.raw = append(l.raw, raw)
	}
}

// WithEnvPrefix changes the environment prefix. An empty prefix disables environment overrides.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) {
		l.envPrefix = prefix
	}
}

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. In-memory YAML
// 3. YAML configuration files
// 4. Default values (lowest priority)
func Load(opts ...Option) (*Config, error) {
	l := &loader{file: DefaultFile, envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}

	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := loadFile(k, l.file, l.fileRequired); err != nil {
		return nil, err
	}

	// Environment-specific overlay, e.g. config.production.yaml
	if appEnv := k.String("app.env"); appEnv != "" && !l.fileRequired {
		if err := loadFile(k, fmt.Sprintf("config.%s.yaml", appEnv), false); err != nil {
			return nil, err
		}
	}

	for _, raw := range l.raw {
		if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}

	if l.envPrefix != "" {
		if err := k.Load(env.Provider(".", env.Opt{
			Prefix:        l.envPrefix,
			TransformFunc: envTransform(l.envPrefix),
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envTransform converts PREFIX_UPPER_CASE to upper.case for koanf
func envTransform(prefix string) func(k, v string) (string, any) {
	return func(k, v string) (string, any) {
		key := strings.TrimPrefix(k, prefix)
		return strings.ReplaceAll(strings.ToLower(key), "_", "."), v
	}
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	err := k.Load(file.Provider(path), yaml.Parser())
	if err == nil {
		return nil
	}
	if !required && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "webqueue",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,

		"log.level":  "info",
		"log.pretty": false,

		"scheduler.maxconcurrent":   5,
		"scheduler.timeout":         "0s",
		"scheduler.retries":         0,
		"scheduler.backoff.initial": "1s",
		"scheduler.backoff.max":     "5m",
		"scheduler.backoff.growth":  2.718281828459045,
		"scheduler.backoff.jitter":  0.11962656472,
		"scheduler.dispatch.rate":   0.0,
		"scheduler.dispatch.burst":  0,

		"client.priority":    "normal",
		"client.traceheader": "X-Request-ID",

		"observability.enabled":          false,
		"observability.trace.enabled":    true,
		"observability.trace.endpoint":   "stdout",
		"observability.trace.protocol":   "http",
		"observability.trace.samplerate": 1.0,
		"observability.metrics.enabled":  true,
		"observability.metrics.endpoint": "stdout",
		"observability.metrics.interval": "10s",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
