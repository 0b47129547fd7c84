// Package alert records terminal delivery failures as administrative
// notifications and fans them out to sinks.
package alert

import (
	"time"

	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
)

// Alert is raised once per job that exhausted its attempts.
type Alert struct {
	entity.Entity

	ID             id.ID      `json:"id"`
	MerchantID     string     `json:"merchantId"`
	WebhookURL     string     `json:"webhookUrl"`
	TransactionID  string     `json:"transactionId"`
	Error          string     `json:"error"`
	AttemptNumber  int        `json:"attemptNumber"`
	JobID          string     `json:"jobId"`
	Timestamp      time.Time  `json:"timestamp"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ReplayedAt     *time.Time `json:"replayedAt,omitempty"`
}

// ListOpts filters alert listings. Results are newest first.
type ListOpts struct {
	Offset         int
	Limit          int
	MerchantID     string
	Unacknowledged bool
}
