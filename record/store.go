package record

import "context"

// ListOpts filters and paginates record listings.
type ListOpts struct {
	MerchantID string
	Status     Status
	Offset     int
	Limit      int
}

// DefaultListLimit applies when ListOpts.Limit is zero.
const DefaultListLimit = 10

// Normalize fills defaults and clamps negatives.
func (o ListOpts) Normalize() ListOpts {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// StatusCounts groups record totals by status.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Total is the sum of all statuses.
func (c StatusCounts) Total() int { return c.Pending + c.Completed + c.Failed }

// Add increments the bucket for s by n.
func (c *StatusCounts) Add(s Status, n int) {
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusCompleted:
		c.Completed += n
	case StatusFailed:
		c.Failed += n
	}
}

// Store persists delivery records.
//
// ListRecords orders FAILED records by completedAt descending, PENDING
// records by nextRetry ascending and anything else by createdAt descending.
type Store interface {
	// CreateRecord fails with errs.ErrDuplicate if the job id exists.
	CreateRecord(ctx context.Context, r *DeliveryEvent) error

	// GetRecord fails with an errs.ErrNotFound match for unknown job ids.
	GetRecord(ctx context.Context, jobID string) (*DeliveryEvent, error)

	UpdateRecord(ctx context.Context, r *DeliveryEvent) error
	ListRecords(ctx context.Context, opts ListOpts) ([]*DeliveryEvent, error)

	// CountRecordsByStatus groups records by status, for one merchant or,
	// when merchantID is empty, all of them.
	CountRecordsByStatus(ctx context.Context, merchantID string) (StatusCounts, error)
}
