package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"

	"github.com/gaborage/webqueue/observability"
)

const (
	errMsgRequiredKeyMissing   = "required configuration key '%s' is missing"
	errMsgConfigNotInitialized = "configuration not initialized"
)

func (c *Config) has(key string) bool {
	return c != nil && c.k != nil && c.k.Exists(key)
}

// GetString retrieves a string value from the configuration or the provided default.
func (c *Config) GetString(key string, defaultVal ...string) string {
	if !c.has(key) {
		return optionalDefault("", defaultVal...)
	}
	return c.k.String(key)
}

// GetInt retrieves an int value from the configuration or the provided default.
func (c *Config) GetInt(key string, defaultVal ...int) int {
	if !c.has(key) {
		return optionalDefault(0, defaultVal...)
	}
	return c.k.Int(key)
}

// GetFloat64 retrieves a float64 value from the configuration or the provided default.
func (c *Config) GetFloat64(key string, defaultVal ...float64) float64 {
	if !c.has(key) {
		return optionalDefault(0, defaultVal...)
	}
	return c.k.Float64(key)
}

// GetBool retrieves a bool value from the configuration or the provided default.
func (c *Config) GetBool(key string, defaultVal ...bool) bool {
	if !c.has(key) {
		return optionalDefault(false, defaultVal...)
	}
	return c.k.Bool(key)
}

// GetDuration retrieves a duration such as "250ms" from the configuration or the provided default.
func (c *Config) GetDuration(key string, defaultVal ...time.Duration) time.Duration {
	if !c.has(key) {
		return optionalDefault(time.Duration(0), defaultVal...)
	}
	return c.k.Duration(key)
}

// GetStringMap retrieves a flat string map, e.g. client.headers.
func (c *Config) GetStringMap(key string) map[string]string {
	if !c.has(key) {
		return nil
	}
	return c.k.StringMap(key)
}

// GetRequiredString retrieves a string value that must be present and non-empty.
func (c *Config) GetRequiredString(key string) (string, error) {
	if c == nil || c.k == nil {
		return "", fmt.Errorf(errMsgConfigNotInitialized)
	}
	if !c.has(key) || c.k.String(key) == "" {
		return "", fmt.Errorf(errMsgRequiredKeyMissing, key)
	}
	return c.k.String(key), nil
}

func optionalDefault[T any](fallback T, defaults ...T) T {
	if len(defaults) > 0 {
		return defaults[0]
	}
	return fallback
}

// Dump renders the effective configuration, after every layer was applied, as YAML.
func (c *Config) Dump() ([]byte, error) {
	if c == nil || c.k == nil {
		return nil, fmt.Errorf(errMsgConfigNotInitialized)
	}
	return c.k.Marshal(yaml.Parser())
}

// Telemetry returns the observability settings with the service identity taken
// from app when unset. It returns a not-configured error when observability is off.
func (c *Config) Telemetry() (*observability.Config, error) {
	if c == nil || !c.Observability.Enabled {
		return nil, NewNotConfiguredError("observability", "WEBQUEUE_OBSERVABILITY_ENABLED", "observability.enabled")
	}

	obs := c.Observability
	if obs.Service.Name == "" {
		obs.Service.Name = c.App.Name
	}
	if obs.Service.Version == "" {
		obs.Service.Version = c.App.Version
	}
	if obs.Environment == "" {
		obs.Environment = c.App.Env
	}
	return &obs, nil
}
