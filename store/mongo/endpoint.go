package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/id"
)

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if _, err := s.mdb.NewInsert(toEndpointModel(ep)).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return errs.ErrDuplicate
		}
		return fmt.Errorf("payhook/mongo: create endpoint: %w", err)
	}
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	var m endpointModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": epID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, errs.NotFound("endpoint", epID.String())
		}
		return nil, fmt.Errorf("payhook/mongo: get endpoint: %w", err)
	}
	return fromEndpointModel(&m)
}

// UpdateEndpoint modifies an endpoint.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("payhook/mongo: update endpoint: %w", err)
	}
	if res.MatchedCount() == 0 {
		return errs.NotFound("endpoint", ep.ID.String())
	}
	return nil
}

// DeleteEndpoint removes an endpoint.
func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	res, err := s.mdb.NewDelete((*endpointModel)(nil)).
		Filter(bson.M{"_id": epID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("payhook/mongo: delete endpoint: %w", err)
	}
	if res.DeletedCount() == 0 {
		return errs.NotFound("endpoint", epID.String())
	}
	return nil
}

// ListEndpoints returns a merchant's endpoints, newest first.
func (s *Store) ListEndpoints(ctx context.Context, merchantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel

	filter := bson.M{"merchant_id": merchantID}
	if opts.Enabled != nil {
		filter["enabled"] = *opts.Enabled
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("payhook/mongo: list endpoints: %w", err)
	}

	result := make([]*endpoint.Endpoint, 0, len(models))
	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, ep)
	}
	return result, nil
}

// ActiveEndpoint returns the merchant's newest enabled endpoint.
func (s *Store) ActiveEndpoint(ctx context.Context, merchantID string) (*endpoint.Endpoint, error) {
	enabled := true
	eps, err := s.ListEndpoints(ctx, merchantID, endpoint.ListOpts{Enabled: &enabled, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, errs.NotFound("active endpoint for merchant", merchantID)
	}
	return eps[0], nil
}

// SetEnabled enables or disables an endpoint.
func (s *Store) SetEnabled(ctx context.Context, epID id.ID, enabled bool) error {
	res, err := s.mdb.NewUpdate((*endpointModel)(nil)).
		Filter(bson.M{"_id": epID.String()}).
		Set("enabled", enabled).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("payhook/mongo: set enabled: %w", err)
	}
	if res.MatchedCount() == 0 {
		return errs.NotFound("endpoint", epID.String())
	}
	return nil
}
