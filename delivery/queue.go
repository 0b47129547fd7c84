package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/observability"
	"github.com/xraph/payhook/record"
)

// DefaultMaxAttempts is the attempt budget of a new job.
const DefaultMaxAttempts = 5

// Validator checks a payload before it is queued.
type Validator interface {
	Validate(p *event.Payload) error
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	MaxAttempts int
	Backoff     Backoff
	Metrics     *observability.Metrics
	Clock       func() time.Time
}

// Queue accepts jobs and serves the operator operations: manual retry,
// metrics and listings.
type Queue struct {
	store     QueueStore
	validator Validator
	config    QueueConfig
	logger    *slog.Logger
	onEnqueue func()
}

// NewQueue creates a queue. validator may be nil.
func NewQueue(store QueueStore, validator Validator, cfg QueueConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Queue{store: store, validator: validator, config: cfg, logger: logger}
}

// OnEnqueue registers fn to run after each successful enqueue or retry,
// typically Engine.Wake.
func (q *Queue) OnEnqueue(fn func()) { q.onEnqueue = fn }

// AddToQueue validates ep and p, writes a PENDING record and queues a job
// due immediately. The record's nextRetry is now plus the initial backoff.
// A missing payload timestamp is stamped with the current time.
func (q *Queue) AddToQueue(ctx context.Context, ep *endpoint.Endpoint, p *event.Payload) (*JobHandle, error) {
	if ep == nil {
		return nil, errs.Invalid("endpoint", "required")
	}
	if !ep.Enabled {
		return nil, errs.Invalid("endpoint", "inactive")
	}
	if err := endpoint.ValidateURL(ep.URL); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errs.Invalid("payload", "required")
	}
	if p.TransactionID == "" {
		return nil, errs.Invalid("transactionId", "required")
	}

	merchantID := ep.MerchantID
	if merchantID == "" {
		merchantID = p.MerchantID
	}
	switch {
	case merchantID == "":
		return nil, errs.Invalid("merchantId", "required")
	case p.MerchantID != "" && p.MerchantID != merchantID:
		return nil, errs.Invalid("merchantId", "payload merchant %q does not own endpoint", p.MerchantID)
	}

	now := q.config.Clock().UTC()
	p = p.Clone()
	p.MerchantID = merchantID
	p.Nonce = ""
	if p.Timestamp == "" {
		p.Stamp(now)
	}
	if q.validator != nil {
		if err := q.validator.Validate(p); err != nil {
			return nil, err
		}
	}

	jobID := JobID(merchantID, p.TransactionID, now)
	rec := record.New(jobID, merchantID, ep.URL, p, q.config.MaxAttempts, now.Add(q.config.Backoff.Initial))
	if err := q.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record %s: %w", jobID, err)
	}

	job := &Job{
		ID:            jobID,
		EndpointID:    ep.ID,
		MerchantID:    merchantID,
		URL:           ep.URL,
		Payload:       p,
		State:         StatePending,
		MaxAttempts:   q.config.MaxAttempts,
		NextAttemptAt: now,
	}
	job.CreatedAt, job.UpdatedAt = now, now

	if err := q.store.EnqueueJob(ctx, job); err != nil {
		// The record must not stay PENDING for a job that does not exist.
		if failErr := rec.Fail(0, "enqueue failed: "+err.Error(), now); failErr == nil {
			if upErr := q.store.UpdateRecord(ctx, rec); upErr != nil {
				q.logger.ErrorContext(ctx, "orphan record left pending", "job_id", jobID, "error", upErr)
			}
		}
		return nil, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}

	q.config.Metrics.RecordEnqueue(string(p.EventType))
	q.logger.InfoContext(ctx, "webhook queued",
		"job_id", jobID,
		"merchant_id", merchantID,
		"transaction_id", p.TransactionID,
		"event_type", string(p.EventType),
	)
	q.wake()

	return &JobHandle{ID: jobID, MerchantID: merchantID, TransactionID: p.TransactionID, EnqueuedAt: now}, nil
}

// RetryWebhook re-opens a job for immediate delivery with a fresh attempt
// budget. Unknown jobs fail with *errs.NotFoundError and jobs held by a
// worker with errs.ErrJobActive; neither changes any state.
//
// The record is re-opened before the job is released so a worker that
// claims the job always finds a PENDING record.
func (q *Queue) RetryWebhook(ctx context.Context, jobID string) error {
	rec, err := q.store.GetRecord(ctx, jobID)
	if err != nil {
		return err
	}
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := q.config.Clock().UTC()
	if job.Leased(now) {
		return fmt.Errorf("retry %s: %w", jobID, errs.ErrJobActive)
	}

	before := *rec
	rec.Reopen(now)
	if err := q.store.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("reopen record %s: %w", jobID, err)
	}

	if _, err := q.store.ResetJob(ctx, jobID, now); err != nil {
		if restoreErr := q.store.UpdateRecord(ctx, &before); restoreErr != nil {
			q.logger.ErrorContext(ctx, "restore record after failed retry", "job_id", jobID, "error", restoreErr)
		}
		return err
	}

	q.config.Metrics.RecordManualRetry()
	q.logger.InfoContext(ctx, "webhook retry requested", "job_id", jobID, "merchant_id", rec.MerchantID)
	q.wake()
	return nil
}

// GetQueueMetrics returns queue totals and, when merchantID is set, that
// merchant's record breakdown.
func (q *Queue) GetQueueMetrics(ctx context.Context, merchantID string) (*QueueMetrics, error) {
	counts, err := q.store.CountJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	m := &QueueMetrics{
		JobCounts:   counts,
		SuccessRate: SuccessRate(counts.Completed, counts.Failed),
	}
	q.config.Metrics.SetQueueDepth(string(StateActive), counts.Active)
	q.config.Metrics.SetQueueDepth("waiting", counts.Waiting)
	q.config.Metrics.SetQueueDepth("delayed", counts.Delayed)

	if merchantID != "" {
		rc, err := q.store.CountRecordsByStatus(ctx, merchantID)
		if err != nil {
			return nil, fmt.Errorf("count records: %w", err)
		}
		m.Merchant = &MerchantMetrics{
			MerchantID:  merchantID,
			Pending:     rc.Pending,
			Completed:   rc.Completed,
			Failed:      rc.Failed,
			Total:       rc.Total(),
			SuccessRate: SuccessRate(rc.Completed, rc.Failed),
		}
	}
	return m, nil
}

// GetFailedWebhookEvents lists FAILED records, most recently failed first.
func (q *Queue) GetFailedWebhookEvents(ctx context.Context, opts record.ListOpts) ([]*record.DeliveryEvent, error) {
	opts = opts.Normalize()
	opts.Status = record.StatusFailed
	return q.store.ListRecords(ctx, opts)
}

// GetPendingWebhookEvents lists PENDING records, soonest retry first.
func (q *Queue) GetPendingWebhookEvents(ctx context.Context, opts record.ListOpts) ([]*record.DeliveryEvent, error) {
	opts = opts.Normalize()
	opts.Status = record.StatusPending
	return q.store.ListRecords(ctx, opts)
}

// GetJob returns a job and its record.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, *record.DeliveryEvent, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	rec, err := q.store.GetRecord(ctx, jobID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, nil, err
	}
	return job, rec, nil
}

func (q *Queue) wake() {
	if q.onEnqueue != nil {
		q.onEnqueue()
	}
}
