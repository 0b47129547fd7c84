package payhook

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/merchant"
	"github.com/xraph/payhook/store"
)

// Option configures a Payhook instance.
type Option func(*Payhook) error

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(p *Payhook) error {
		p.store = s
		return nil
	}
}

// WithMerchants sets the merchant lookup used to resolve signing secrets.
func WithMerchants(l merchant.Lookup) Option {
	return func(p *Payhook) error {
		p.merchants = l
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Payhook) error {
		p.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(p *Payhook) error {
		p.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(p *Payhook) error {
		p.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the engine checks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(p *Payhook) error {
		p.config.PollInterval = d
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Payhook) error {
		p.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the attempt budget of new jobs.
func WithMaxAttempts(n int) Option {
	return func(p *Payhook) error {
		p.config.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the retry delay curve.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(p *Payhook) error {
		p.config.InitialBackoff = initial
		p.config.MaxBackoff = maxDelay
		return nil
	}
}

// WithRateLimit caps outbound calls per merchant.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Payhook) error {
		p.config.RateLimit = perSecond
		p.config.RateBurst = burst
		return nil
	}
}

// WithRegisterer registers the Prometheus instruments with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Payhook) error {
		p.registerer = reg
		return nil
	}
}

// WithTracerProvider traces delivery attempts with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Payhook) error {
		p.tracerProvider = tp
		return nil
	}
}

// WithHTTPClient sets the client used for outbound webhook calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Payhook) error {
		p.httpClient = c
		return nil
	}
}

// WithClock replaces time.Now across signing, queueing and delivery.
func WithClock(now func() time.Time) Option {
	return func(p *Payhook) error {
		p.clock = now
		return nil
	}
}

// WithAlertSink adds a destination for escalated failures.
func WithAlertSink(s alert.Sink) Option {
	return func(p *Payhook) error {
		p.sinks = append(p.sinks, s)
		return nil
	}
}

// WithEventTypes registers additional event definitions in the catalog.
func WithEventTypes(defs ...event.Definition) Option {
	return func(p *Payhook) error {
		p.eventTypes = append(p.eventTypes, defs...)
		return nil
	}
}
