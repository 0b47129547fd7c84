// Package record keeps the durable twin of every queued job. Records back
// the failed/pending listings, per-merchant metrics and manual retry, and
// are never deleted.
package record

import (
	"time"

	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/internal/entity"
)

// Status is the lifecycle state of a DeliveryEvent.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no automatic attempt follows s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DeliveryEvent mirrors one job. Exactly one exists per job id.
type DeliveryEvent struct {
	entity.Entity

	JobID        string         `json:"jobId"`
	MerchantID   string         `json:"merchantId"`
	WebhookURL   string         `json:"webhookUrl"`
	Payload      *event.Payload `json:"payload"`
	Status       Status         `json:"status"`
	Error        string         `json:"error,omitempty"`
	AttemptsMade int            `json:"attemptsMade"`
	MaxAttempts  int            `json:"maxAttempts"`
	NextRetry    *time.Time     `json:"nextRetry,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// New returns a PENDING record for a freshly queued job.
func New(jobID, merchantID, webhookURL string, p *event.Payload, maxAttempts int, nextRetry time.Time) *DeliveryEvent {
	next := nextRetry.UTC()
	return &DeliveryEvent{
		Entity:      entity.New(),
		JobID:       jobID,
		MerchantID:  merchantID,
		WebhookURL:  webhookURL,
		Payload:     p.Clone(),
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		NextRetry:   &next,
	}
}

// Reschedule records a failed attempt that will be retried at next.
func (r *DeliveryEvent) Reschedule(attempts int, cause string, next time.Time) error {
	if err := r.requirePending(StatusPending); err != nil {
		return err
	}
	next = next.UTC()
	r.AttemptsMade = attempts
	r.Error = cause
	r.NextRetry = &next
	r.Touch()
	return nil
}

// Complete records a successful attempt.
func (r *DeliveryEvent) Complete(attempts int, at time.Time) error {
	if err := r.requirePending(StatusCompleted); err != nil {
		return err
	}
	at = at.UTC()
	r.Status = StatusCompleted
	r.AttemptsMade = attempts
	r.Error = ""
	r.NextRetry = nil
	r.CompletedAt = &at
	r.Touch()
	return nil
}

// Fail records the final failed attempt.
func (r *DeliveryEvent) Fail(attempts int, cause string, at time.Time) error {
	if err := r.requirePending(StatusFailed); err != nil {
		return err
	}
	at = at.UTC()
	r.Status = StatusFailed
	r.AttemptsMade = attempts
	r.Error = cause
	r.NextRetry = nil
	r.CompletedAt = &at
	r.Touch()
	return nil
}

// Reopen moves the record back to PENDING for a manual retry from any state.
func (r *DeliveryEvent) Reopen(at time.Time) {
	at = at.UTC()
	r.Status = StatusPending
	r.AttemptsMade = 0
	r.Error = ""
	r.NextRetry = &at
	r.CompletedAt = nil
	r.Touch()
}

func (r *DeliveryEvent) requirePending(to Status) error {
	if r.Status != StatusPending {
		return &TransitionError{JobID: r.JobID, From: r.Status, To: to}
	}
	return nil
}

// TransitionError is returned when a terminal record would change status
// outside a manual retry.
type TransitionError struct {
	JobID    string
	From, To Status
}

func (e *TransitionError) Error() string {
	return "record " + e.JobID + ": cannot move from " + string(e.From) + " to " + string(e.To)
}

// Unwrap returns errs.ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return errs.ErrInvalidTransition }
