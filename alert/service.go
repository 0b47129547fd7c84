package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
	"github.com/xraph/payhook/observability"
)

// Retrier re-opens a job. Implemented by delivery.Queue.
type Retrier interface {
	RetryWebhook(ctx context.Context, jobID string) error
}

// Service stores and dispatches alerts.
type Service struct {
	store   Store
	sinks   []Sink
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService creates an alert service. Sinks are called in order.
func NewService(store Store, logger *slog.Logger, sinks ...Sink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, sinks: sinks, logger: logger}
}

// SetMetrics attaches metrics.
func (svc *Service) SetMetrics(m *observability.Metrics) { svc.metrics = m }

// AddSink appends a sink.
func (svc *Service) AddSink(s Sink) { svc.sinks = append(svc.sinks, s) }

// Escalate persists a and notifies every sink. A sink failure is logged and
// does not fail the escalation, since the alert is already stored.
func (svc *Service) Escalate(ctx context.Context, a Alert) (*Alert, error) {
	a.Entity = entity.New()
	a.ID = id.NewAlertID()
	if a.Timestamp.IsZero() {
		a.Timestamp = a.CreatedAt
	}

	if err := svc.store.PushAlert(ctx, &a); err != nil {
		return nil, fmt.Errorf("alert: store: %w", err)
	}
	svc.metrics.RecordAlert()

	for _, s := range svc.sinks {
		if err := s.Notify(ctx, &a); err != nil {
			svc.logger.WarnContext(ctx, "alert sink failed",
				"alert_id", a.ID.String(), "job_id", a.JobID, "error", err)
		}
	}
	return &a, nil
}

// List returns alerts matching opts.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Alert, error) {
	return svc.store.ListAlerts(ctx, opts)
}

// Get returns an alert by id.
func (svc *Service) Get(ctx context.Context, alertID id.ID) (*Alert, error) {
	return svc.store.GetAlert(ctx, alertID)
}

// Acknowledge marks an alert as seen by an operator.
func (svc *Service) Acknowledge(ctx context.Context, alertID id.ID) error {
	return svc.store.AcknowledgeAlert(ctx, alertID, time.Now().UTC())
}

// Replay retries the alert's job through r and marks the alert replayed.
func (svc *Service) Replay(ctx context.Context, alertID id.ID, r Retrier) error {
	a, err := svc.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if err := r.RetryWebhook(ctx, a.JobID); err != nil {
		return err
	}
	return svc.store.ReplayedAlert(ctx, alertID, time.Now().UTC())
}

// Purge deletes alerts older than before.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.PurgeAlerts(ctx, before)
}

// Count returns the number of alerts matching opts.
func (svc *Service) Count(ctx context.Context, opts ListOpts) (int64, error) {
	return svc.store.CountAlerts(ctx, opts)
}
