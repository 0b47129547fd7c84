package endpoint

import (
	"context"

	"github.com/xraph/payhook/id"
)

// Store persists endpoints.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, epID id.ID) (*Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, epID id.ID) error
	ListEndpoints(ctx context.Context, merchantID string, opts ListOpts) ([]*Endpoint, error)

	// ActiveEndpoint returns the newest enabled endpoint for a merchant.
	ActiveEndpoint(ctx context.Context, merchantID string) (*Endpoint, error)

	SetEnabled(ctx context.Context, epID id.ID, enabled bool) error
}
