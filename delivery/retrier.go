package delivery

import (
	"time"

	"github.com/xraph/payhook/notify"
)

// Backoff computes retry delays: Initial·2^(n−1), capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is 5s doubling to at most one hour.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 5 * time.Second, Max: time.Hour}
}

// Delay returns the wait after the attempt-th failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		if d >= b.Max {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Decision is what the worker does after an attempt.
type Decision int

const (
	// Complete marks the job delivered.
	Complete Decision = iota

	// Retry reschedules the job after the backoff delay.
	Retry

	// Exhaust marks the job failed and escalates it.
	Exhaust
)

func (d Decision) String() string {
	switch d {
	case Complete:
		return "complete"
	case Retry:
		return "retry"
	default:
		return "exhaust"
	}
}

// Retrier turns an attempt outcome into a Decision.
type Retrier struct {
	backoff Backoff
}

// NewRetrier returns a Retrier using b.
func NewRetrier(b Backoff) *Retrier {
	return &Retrier{backoff: b}
}

// Decide maps an outcome for j, whose AttemptsMade already counts the
// attempt that produced it:
//   - Delivered → Complete
//   - Terminal → Exhaust
//   - Retryable → Retry while AttemptsMade < MaxAttempts, else Exhaust
func (r *Retrier) Decide(o notify.Outcome, j *Job) Decision {
	switch o.Kind {
	case notify.Delivered:
		return Complete
	case notify.Terminal:
		return Exhaust
	}
	if j.AttemptsMade >= j.MaxAttempts {
		return Exhaust
	}
	return Retry
}

// NextAttempt returns when j should be attempted again after now.
func (r *Retrier) NextAttempt(j *Job, now time.Time) time.Time {
	return now.Add(r.backoff.Delay(j.AttemptsMade))
}
