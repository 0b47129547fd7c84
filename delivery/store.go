package delivery

import (
	"context"
	"time"

	"github.com/xraph/payhook/record"
)

// Store is the queue's backing store.
type Store interface {
	// EnqueueJob persists a pending job. It fails with errs.ErrDuplicate if
	// the id exists.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs claims up to limit jobs that are pending and due, or active
	// with an expired lease, ordered by NextAttemptAt. Claimed jobs become
	// active until now+lease. A job is returned to at most one caller per
	// lease.
	DequeueJobs(ctx context.Context, limit int, lease time.Duration) ([]*Job, error)

	// UpdateJob writes back a claimed job, releasing the claim.
	UpdateJob(ctx context.Context, j *Job) error

	// GetJob fails with an errs.ErrNotFound match for unknown ids.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ResetJob atomically returns a job that is not leased to pending with
	// zero attempts, due at. It fails with errs.ErrJobActive while a worker
	// holds the job and with errs.ErrNotFound for unknown ids; in both cases
	// nothing changes.
	ResetJob(ctx context.Context, jobID string, at time.Time) (*Job, error)

	CountJobs(ctx context.Context) (JobCounts, error)
}

// QueueStore is what Queue needs.
type QueueStore interface {
	Store
	record.Store
}
