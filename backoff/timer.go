package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// DefaultInitial is the delay returned by the first advance.
	DefaultInitial = 1 * time.Second

	// DefaultMax caps every computed delay.
	DefaultMax = 300 * time.Second

	// DefaultGrowth is the exponent base applied per advance (Euler's number).
	DefaultGrowth = math.E

	// DefaultJitter is the fraction of the delay added as random jitter.
	DefaultJitter = 0.11962656472

	// NoJitter disables jitter. A zero Jitter takes DefaultJitter instead.
	NoJitter = -1.0
)

// Config holds the growth policy of a Timer. Zero values take the defaults;
// set Jitter to NoJitter for deterministic delays.
type Config struct {
	Initial time.Duration
	Max     time.Duration
	Growth  float64
	Jitter  float64
}

// DefaultConfig returns the policy used when a request does not supply one.
func DefaultConfig() Config {
	return Config{
		Initial: DefaultInitial,
		Max:     DefaultMax,
		Growth:  DefaultGrowth,
		Jitter:  DefaultJitter,
	}
}

func (c *Config) setDefaults() {
	if c.Initial <= 0 {
		c.Initial = DefaultInitial
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Growth == 0 {
		c.Growth = DefaultGrowth
	}
	if c.Growth < 1 {
		c.Growth = 1
	}
	if c.Jitter == 0 {
		c.Jitter = DefaultJitter
	}
	if c.Jitter < 0 {
		c.Jitter = NoJitter
	}
}

// Timer produces exponentially growing delays with jitter.
type Timer struct {
	cfg        Config
	current    time.Duration
	increments int
	random     func() float64
}

// Option customizes a Timer.
type Option func(*Timer)

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(t *Timer) {
		if fn != nil {
			t.random = fn
		}
	}
}

// New creates a Timer in its initial state.
func New(cfg Config, opts ...Option) *Timer {
	cfg.setDefaults()
	t := &Timer{
		cfg:    cfg,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.Reset()
	return t
}

// Config returns the effective policy after defaults were applied.
func (t *Timer) Config() Config {
	return t.cfg
}

// Reset restores the timer to its initial state.
func (t *Timer) Reset() {
	t.increments = 0
	t.current = t.cfg.Initial
}

// Current returns the delay the next wait should use.
func (t *Timer) Current() time.Duration {
	return t.current
}

// Increments returns how many times the timer has advanced since the last Reset.
func (t *Timer) Increments() int {
	return t.increments
}

// Next returns the current delay and then advances the timer, so the first
// call after New or Reset returns Initial.
func (t *Timer) Next() time.Duration {
	d := t.current
	t.step()
	return d
}

func (t *Timer) step() {
	t.increments++
	t.current = t.compute(t.increments)
}

func (t *Timer) compute(n int) time.Duration {
	maxDelay := float64(t.cfg.Max)

	delay := float64(t.cfg.Initial) * math.Pow(t.cfg.Growth, float64(n))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > maxDelay {
		delay = maxDelay
	}

	if t.cfg.Jitter > 0 {
		delay += t.random() * t.cfg.Jitter * delay
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay)
}
