package payhook

import "time"

// Config holds the configuration for a Payhook instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int `mapstructure:"concurrency"`

	// PollInterval is how often the engine checks for due jobs.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// BatchSize is the maximum number of jobs claimed per poll cycle.
	BatchSize int `mapstructure:"batch_size"`

	// Lease is how long a claimed job stays invisible to other workers. It
	// must exceed RequestTimeout.
	Lease time.Duration `mapstructure:"lease"`

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxAttempts is the attempt budget of a new job.
	MaxAttempts int `mapstructure:"max_attempts"`

	// InitialBackoff is the delay after the first failed attempt; each
	// further failure doubles it up to MaxBackoff.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`

	// Tolerance is the signing freshness window around the payload timestamp.
	Tolerance time.Duration `mapstructure:"tolerance"`

	// RateLimit caps outbound calls per merchant per second. 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// StrictEventTypes rejects payloads whose event type is not registered.
	StrictEventTypes bool `mapstructure:"strict_event_types"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      10,
		PollInterval:     1 * time.Second,
		BatchSize:        50,
		Lease:            time.Minute,
		RequestTimeout:   5 * time.Second,
		MaxAttempts:      5,
		InitialBackoff:   5 * time.Second,
		MaxBackoff:       time.Hour,
		Tolerance:        5 * time.Minute,
		RateBurst:        1,
		StrictEventTypes: true,
	}
}
