package payhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/api"
	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/merchant"
	"github.com/xraph/payhook/notify"
	"github.com/xraph/payhook/observability"
	"github.com/xraph/payhook/ratelimit"
	"github.com/xraph/payhook/record"
	"github.com/xraph/payhook/signature"
	"github.com/xraph/payhook/store"
)

// Payhook is the root webhook delivery service. Every collaborator is built
// in New from explicit options.
type Payhook struct {
	config    Config
	store     store.Store
	merchants merchant.Lookup
	logger    *slog.Logger

	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
	httpClient     *http.Client
	clock          func() time.Time
	sinks          []alert.Sink
	eventTypes     []event.Definition

	catalog     *event.Catalog
	signer      *signature.Signer
	metrics     *observability.Metrics
	dispatcher  *notify.Dispatcher
	endpointSvc *endpoint.Service
	alertSvc    *alert.Service
	queue       *delivery.Queue
	engine      *delivery.Engine
}

// New creates a Payhook with the given options.
func New(opts ...Option) (*Payhook, error) {
	p := &Payhook{
		config: DefaultConfig(),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.store == nil {
		return nil, ErrNoStore
	}
	if p.merchants == nil {
		return nil, ErrNoMerchants
	}
	if err := p.wireServices(); err != nil {
		return nil, err
	}
	return p, nil
}

// wireServices initializes the internal services after options have been applied.
func (p *Payhook) wireServices() error {
	p.catalog = event.NewCatalog(
		event.WithStrict(p.config.StrictEventTypes),
		event.WithCatalogLogger(p.logger),
	)
	for _, def := range p.eventTypes {
		if err := p.catalog.Register(def); err != nil {
			return fmt.Errorf("payhook: register event type %s: %w", def.Type, err)
		}
	}

	if p.registerer != nil {
		p.metrics = observability.NewMetrics(p.registerer)
	}
	var tracer *observability.Tracer
	if p.tracerProvider != nil {
		tracer = observability.NewTracerFrom(p.tracerProvider)
	}

	p.signer = signature.NewSigner(
		signature.WithClock(p.clock),
		signature.WithTolerance(p.config.Tolerance),
	)

	dispatchOpts := []notify.Option{
		notify.WithSigner(p.signer),
		notify.WithTimeout(p.config.RequestTimeout),
		notify.WithMetrics(p.metrics),
		notify.WithLogger(p.logger),
		notify.WithClock(p.clock),
	}
	if p.httpClient != nil {
		dispatchOpts = append(dispatchOpts, notify.WithHTTPClient(p.httpClient))
	}
	if p.config.RateLimit > 0 {
		dispatchOpts = append(dispatchOpts, notify.WithLimiter(ratelimit.New(p.config.RateLimit, p.config.RateBurst)))
	}
	p.dispatcher = notify.NewDispatcher(p.merchants, dispatchOpts...)

	p.endpointSvc = endpoint.NewService(p.store, p.logger)

	p.alertSvc = alert.NewService(p.store, p.logger, append([]alert.Sink{alert.LogSink{Logger: p.logger}}, p.sinks...)...)
	p.alertSvc.SetMetrics(p.metrics)

	backoff := delivery.Backoff{Initial: p.config.InitialBackoff, Max: p.config.MaxBackoff}

	p.queue = delivery.NewQueue(p.store, p.catalog, delivery.QueueConfig{
		MaxAttempts: p.config.MaxAttempts,
		Backoff:     backoff,
		Metrics:     p.metrics,
		Clock:       p.clock,
	}, p.logger)

	p.engine = delivery.NewEngine(p.store, p.dispatcher, p.alertSvc, delivery.EngineConfig{
		Concurrency:  p.config.Concurrency,
		PollInterval: p.config.PollInterval,
		BatchSize:    p.config.BatchSize,
		Lease:        p.config.Lease,
		Backoff:      backoff,
		Metrics:      p.metrics,
		Tracer:       tracer,
		Clock:        p.clock,
	}, p.logger)

	p.queue.OnEnqueue(p.engine.Wake)
	return nil
}

// Start begins the delivery engine.
func (p *Payhook) Start(ctx context.Context) {
	p.engine.Start(ctx)
}

// Stop gracefully shuts down the delivery engine.
func (p *Payhook) Stop(ctx context.Context) {
	p.engine.Stop(ctx)
}

// AddToQueue queues p for delivery to ep.
func (p *Payhook) AddToQueue(ctx context.Context, ep *endpoint.Endpoint, payload *event.Payload) (*delivery.JobHandle, error) {
	return p.queue.AddToQueue(ctx, ep, payload)
}

// Enqueue queues payload for the merchant's active endpoint.
func (p *Payhook) Enqueue(ctx context.Context, merchantID string, payload *event.Payload) (*delivery.JobHandle, error) {
	ep, err := p.endpointSvc.Active(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return p.queue.AddToQueue(ctx, ep, payload)
}

// RetryWebhook re-opens a job for immediate delivery.
func (p *Payhook) RetryWebhook(ctx context.Context, jobID string) error {
	return p.queue.RetryWebhook(ctx, jobID)
}

// GetQueueMetrics returns queue totals and an optional merchant breakdown.
func (p *Payhook) GetQueueMetrics(ctx context.Context, merchantID string) (*delivery.QueueMetrics, error) {
	return p.queue.GetQueueMetrics(ctx, merchantID)
}

// GetFailedWebhookEvents lists FAILED delivery records.
func (p *Payhook) GetFailedWebhookEvents(ctx context.Context, opts record.ListOpts) ([]*record.DeliveryEvent, error) {
	return p.queue.GetFailedWebhookEvents(ctx, opts)
}

// GetPendingWebhookEvents lists PENDING delivery records.
func (p *Payhook) GetPendingWebhookEvents(ctx context.Context, opts record.ListOpts) ([]*record.DeliveryEvent, error) {
	return p.queue.GetPendingWebhookEvents(ctx, opts)
}

// SendWebhookNotification makes one signed call outside the queue. It
// reports whether the endpoint answered 2xx.
func (p *Payhook) SendWebhookNotification(ctx context.Context, url string, payload *event.Payload, merchantID string) bool {
	return p.dispatcher.SendWebhookNotification(ctx, url, payload, merchantID)
}

// NotifyPaymentUpdate stamps payload and sends it once to ep.
func (p *Payhook) NotifyPaymentUpdate(ctx context.Context, ep *endpoint.Endpoint, payload *event.Payload) bool {
	return p.dispatcher.NotifyPaymentUpdate(ctx, ep, payload)
}

// Sign signs payload with secret.
func (p *Payhook) Sign(payload *event.Payload, secret string) (signature.Signed, error) {
	return p.signer.Sign(payload, secret)
}

// Handler returns the admin HTTP API.
func (p *Payhook) Handler() http.Handler {
	return api.NewHandler(p.queue, p.endpointSvc, p.alertSvc, p.logger)
}

// Endpoints returns the endpoint management service.
func (p *Payhook) Endpoints() *endpoint.Service {
	return p.endpointSvc
}

// Alerts returns the alert service.
func (p *Payhook) Alerts() *alert.Service {
	return p.alertSvc
}

// Catalog returns the event type catalog.
func (p *Payhook) Catalog() *event.Catalog {
	return p.catalog
}

// Queue returns the delivery queue.
func (p *Payhook) Queue() *delivery.Queue {
	return p.queue
}

// Engine returns the worker pool.
func (p *Payhook) Engine() *delivery.Engine {
	return p.engine
}

// Store returns the underlying composite store.
func (p *Payhook) Store() store.Store {
	return p.store
}

// Metrics returns the Prometheus collectors, or nil when no registerer was
// configured.
func (p *Payhook) Metrics() *observability.Metrics {
	return p.metrics
}
