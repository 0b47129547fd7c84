// Package delivery is the webhook job queue and its worker pool.
//
// A Job is the queue's scheduling state; its durable twin is a
// record.DeliveryEvent with the same id. Every job transition made by the
// worker is mirrored into the record by the same call that made it.
package delivery

import (
	"fmt"
	"time"

	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
)

// State is the queue state of a job.
type State string

const (
	// StatePending jobs wait for NextAttemptAt.
	StatePending State = "pending"

	// StateActive jobs are claimed by a worker until LockedUntil.
	StateActive State = "active"

	// StateCompleted jobs were delivered.
	StateCompleted State = "completed"

	// StateFailed jobs exhausted their attempts.
	StateFailed State = "failed"
)

// Job is one webhook delivery and its attempts.
type Job struct {
	entity.Entity

	ID string `json:"id"`

	// EndpointID is Nil for jobs queued against an unregistered endpoint;
	// those are delivered to URL as given.
	EndpointID id.ID `json:"endpointId"`

	MerchantID     string         `json:"merchantId"`
	URL            string         `json:"url"`
	Payload        *event.Payload `json:"payload"`
	State          State          `json:"state"`
	AttemptsMade   int            `json:"attemptsMade"`
	MaxAttempts    int            `json:"maxAttempts"`
	NextAttemptAt  time.Time      `json:"nextAttemptAt"`
	LockedUntil    *time.Time     `json:"lockedUntil,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	LastStatusCode int            `json:"lastStatusCode,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// Leased reports whether a worker holds j at t.
func (j *Job) Leased(t time.Time) bool {
	return j.State == StateActive && j.LockedUntil != nil && j.LockedUntil.After(t)
}

// JobID builds "<merchant>_<transaction>_<unix ms>". Two enqueues of the same
// transaction in different milliseconds are distinct jobs.
func JobID(merchantID, transactionID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", merchantID, transactionID, at.UnixMilli())
}

// JobHandle is returned by AddToQueue.
type JobHandle struct {
	ID            string    `json:"jobId"`
	MerchantID    string    `json:"merchantId"`
	TransactionID string    `json:"transactionId"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// JobCounts are queue totals. Waiting jobs are pending and due; delayed jobs
// are pending with a future NextAttemptAt.
type JobCounts struct {
	Active    int `json:"active"`
	Waiting   int `json:"waiting"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Tally adds j to the counts as seen at now.
func (c *JobCounts) Tally(j *Job, now time.Time) {
	switch j.State {
	case StateActive:
		c.Active++
	case StatePending:
		if j.NextAttemptAt.After(now) {
			c.Delayed++
		} else {
			c.Waiting++
		}
	case StateCompleted:
		c.Completed++
	case StateFailed:
		c.Failed++
	}
}
