package notify

import (
	"fmt"
	"time"
)

// Kind classifies a delivery attempt.
type Kind int

const (
	// Delivered means the merchant answered 2xx.
	Delivered Kind = iota

	// Retryable covers signing failures, network errors, timeouts and
	// non-2xx responses. The queue schedules another attempt if any remain.
	Retryable

	// Terminal means another attempt cannot succeed without operator
	// action: the endpoint is disabled or invalid, or the merchant is
	// unknown or inactive.
	Terminal
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one attempt. It is the only failure channel
// between the dispatcher and the queue.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Err        error
	Response   string
	Latency    time.Duration
}

// OK reports whether the attempt was delivered.
func (o Outcome) OK() bool { return o.Kind == Delivered }

// Message is the error text stored on the record, or "".
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func retryable(err error) Outcome { return Outcome{Kind: Retryable, Err: err} }

func terminal(err error) Outcome { return Outcome{Kind: Terminal, Err: err} }
