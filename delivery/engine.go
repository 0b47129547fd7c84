package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/notify"
	"github.com/xraph/payhook/observability"
	"github.com/xraph/payhook/record"
)

// Dispatcher makes one delivery attempt. Implemented by notify.Dispatcher.
type Dispatcher interface {
	Deliver(ctx context.Context, target string, p *event.Payload, merchantID string) notify.Outcome
}

// Escalator receives terminal failures. Implemented by alert.Service.
type Escalator interface {
	Escalate(ctx context.Context, a alert.Alert) (*alert.Alert, error)
}

// EngineStore is what the engine needs from persistence.
type EngineStore interface {
	Store
	record.Store
	GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error)
}

// EngineConfig holds worker settings.
type EngineConfig struct {
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int

	// Lease bounds how long a claimed job stays invisible to other workers.
	// It must exceed the dispatcher timeout.
	Lease time.Duration

	Backoff Backoff
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Clock   func() time.Time
}

// Engine is the worker pool: it claims due jobs, attempts them and records
// the outcome in both the job and its record.
type Engine struct {
	store      EngineStore
	dispatcher Dispatcher
	escalator  Escalator
	retrier    *Retrier
	config     EngineConfig
	logger     *slog.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. escalator may be nil.
func NewEngine(store EngineStore, dispatcher Dispatcher, escalator Escalator, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		escalator:  escalator,
		retrier:    NewRetrier(cfg.Backoff),
		config:     cfg,
		logger:     logger,
		wake:       make(chan struct{}, 1),
	}
}

// Start runs the poll loop until Stop or ctx ends.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop ends the poll loop and waits for in-flight attempts to finish and be
// recorded.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Wake triggers a poll without waiting for the next tick.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// RunOnce claims one batch and attempts it, returning when every attempt
// has been recorded.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	batch, err := e.store.DequeueJobs(ctx, e.config.BatchSize, e.config.Lease)
	if err != nil {
		return 0, fmt.Errorf("dequeue: %w", err)
	}

	attemptCtx := context.WithoutCancel(ctx)
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup
	for _, j := range batch {
		sem <- struct{}{}
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			defer func() { <-sem }()
			e.process(attemptCtx, job)
		}(j)
	}
	wg.Wait()
	return len(batch), nil
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	// Attempts outlive cancellation: a claimed job is always attempted and
	// recorded. The dispatcher timeout bounds each one.
	attemptCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.wake:
		}

		// Claim no more than can start now so leases are not spent queued.
		free := cap(sem) - len(sem)
		if free == 0 {
			continue
		}
		limit := e.config.BatchSize
		if free < limit {
			limit = free
		}

		batch, err := e.store.DequeueJobs(ctx, limit, e.config.Lease)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
			}
			continue
		}

		for _, j := range batch {
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}

			e.wg.Add(1)
			go func(job *Job) {
				defer e.wg.Done()
				defer func() { <-sem }()
				e.process(attemptCtx, job)
			}(j)
		}
	}
}

// process makes one attempt for a claimed job. It is the only writer of the
// job and its record while the claim is held.
func (e *Engine) process(ctx context.Context, job *Job) {
	job.AttemptsMade++
	e.config.Metrics.InFlight(1)
	defer e.config.Metrics.InFlight(-1)

	ctx, span := e.config.Tracer.StartAttempt(ctx, job.ID, job.MerchantID, job.AttemptsMade)

	rec, err := e.store.GetRecord(ctx, job.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "record missing for job", "job_id", job.ID, "error", err)
		rec = nil
	}

	out := e.attempt(ctx, job)
	decision := e.retrier.Decide(out, job)
	now := e.config.Clock().UTC()

	job.LastError = out.Message()
	job.LastStatusCode = out.StatusCode
	job.LockedUntil = nil
	job.UpdatedAt = now

	var mirrorErr error
	escalate := false
	switch decision {
	case Complete:
		job.State = StateCompleted
		job.CompletedAt = &now
		if rec != nil {
			mirrorErr = rec.Complete(job.AttemptsMade, now)
		}
		e.config.Metrics.RecordAttempt(observability.OutcomeDelivered, out.Latency)
		e.logger.InfoContext(ctx, "webhook delivered",
			"job_id", job.ID, "attempt", job.AttemptsMade, "status", out.StatusCode, "latency_ms", out.Latency.Milliseconds())

	case Retry:
		job.State = StatePending
		job.NextAttemptAt = e.retrier.NextAttempt(job, now)
		if rec != nil {
			mirrorErr = rec.Reschedule(job.AttemptsMade, out.Message(), job.NextAttemptAt)
		}
		e.config.Metrics.RecordAttempt(observability.OutcomeRetried, out.Latency)
		e.logger.WarnContext(ctx, "webhook attempt failed, retry scheduled",
			"job_id", job.ID, "attempt", job.AttemptsMade, "next_at", job.NextAttemptAt, "error", out.Message())

	case Exhaust:
		job.State = StateFailed
		job.CompletedAt = &now
		if rec != nil {
			mirrorErr = rec.Fail(job.AttemptsMade, out.Message(), now)
		}
		escalate = mirrorErr == nil
		e.config.Metrics.RecordAttempt(observability.OutcomeFailed, out.Latency)
		e.logger.WarnContext(ctx, "webhook failed permanently",
			"job_id", job.ID, "attempt", job.AttemptsMade, "outcome", out.Kind.String(), "error", out.Message())
	}

	if mirrorErr != nil {
		e.logger.ErrorContext(ctx, "record transition rejected", "job_id", job.ID, "error", mirrorErr)
	} else if rec != nil {
		if err := e.store.UpdateRecord(ctx, rec); err != nil {
			e.logger.ErrorContext(ctx, "update record failed", "job_id", job.ID, "error", err)
		}
	}
	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.logger.ErrorContext(ctx, "update job failed", "job_id", job.ID, "error", err)
	}

	if escalate {
		e.escalate(ctx, job, out)
	}
	e.config.Tracer.EndAttempt(span, decision.String(), out.StatusCode, out.Latency, out.Err)
}

// attempt resolves the endpoint and calls the dispatcher with a copy of the
// payload stamped with the attempt time, so retries beyond the signer's
// freshness window stay deliverable.
func (e *Engine) attempt(ctx context.Context, job *Job) notify.Outcome {
	target := job.URL
	if !job.EndpointID.IsNil() {
		ep, err := e.store.GetEndpoint(ctx, job.EndpointID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			return notify.Outcome{Kind: notify.Terminal, Err: err}
		case err != nil:
			return notify.Outcome{Kind: notify.Retryable, Err: fmt.Errorf("endpoint lookup: %w", err)}
		case !ep.Enabled:
			return notify.Outcome{Kind: notify.Terminal, Err: fmt.Errorf("endpoint %s is disabled", ep.ID)}
		}
		target = ep.URL
	}

	p := job.Payload.Clone()
	p.Stamp(e.config.Clock())
	return e.dispatcher.Deliver(ctx, target, p, job.MerchantID)
}

func (e *Engine) escalate(ctx context.Context, job *Job, out notify.Outcome) {
	if e.escalator == nil {
		return
	}
	a := alert.Alert{
		MerchantID:    job.MerchantID,
		WebhookURL:    job.URL,
		TransactionID: job.Payload.TransactionID,
		Error:         out.Message(),
		AttemptNumber: job.AttemptsMade,
		JobID:         job.ID,
		Timestamp:     e.config.Clock().UTC(),
	}
	if _, err := e.escalator.Escalate(ctx, a); err != nil {
		e.logger.ErrorContext(ctx, "escalation failed", "job_id", job.ID, "error", err)
	}
}
