package alert

import (
	"context"
	"time"

	"github.com/xraph/payhook/id"
)

// Store persists alerts.
type Store interface {
	PushAlert(ctx context.Context, a *Alert) error
	GetAlert(ctx context.Context, alertID id.ID) (*Alert, error)
	ListAlerts(ctx context.Context, opts ListOpts) ([]*Alert, error)

	// AcknowledgeAlert stamps acknowledgedAt; ReplayedAlert stamps replayedAt.
	AcknowledgeAlert(ctx context.Context, alertID id.ID, at time.Time) error
	ReplayedAlert(ctx context.Context, alertID id.ID, at time.Time) error

	// PurgeAlerts deletes alerts raised before the cutoff.
	PurgeAlerts(ctx context.Context, before time.Time) (int64, error)

	CountAlerts(ctx context.Context, opts ListOpts) (int64, error)
}
