package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
)

// endpointModel is the JSON representation stored in Redis.
type endpointModel struct {
	ID          string            `json:"id"`
	MerchantID  string            `json:"merchant_id"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Secret      string            `json:"secret"`
	Enabled     bool              `json:"enabled"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	return &endpointModel{
		ID:          ep.ID.String(),
		MerchantID:  ep.MerchantID,
		URL:         ep.URL,
		Description: ep.Description,
		Secret:      ep.Secret,
		Enabled:     ep.Enabled,
		Metadata:    ep.Metadata,
		CreatedAt:   ep.CreatedAt,
		UpdatedAt:   ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	return &endpoint.Endpoint{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          epID,
		MerchantID:  m.MerchantID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		Enabled:     m.Enabled,
		Metadata:    m.Metadata,
	}, nil
}

// CreateEndpoint stores a new endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	key := entityKey(prefixEndpoint, m.ID)

	ok, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("payhook/redis: create endpoint exists: %w", err)
	}
	if ok > 0 {
		return errs.ErrDuplicate
	}

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("payhook/redis: create endpoint: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, zEndpointMerch+m.MerchantID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID}).Err(); err != nil {
		return fmt.Errorf("payhook/redis: create endpoint index: %w", err)
	}
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	var m endpointModel
	if err := s.getEntity(ctx, entityKey(prefixEndpoint, epID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, errs.NotFound("endpoint", epID.String())
		}
		return nil, fmt.Errorf("payhook/redis: get endpoint: %w", err)
	}
	return fromEndpointModel(&m)
}

// UpdateEndpoint modifies an endpoint.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	key := entityKey(prefixEndpoint, ep.ID.String())

	var existing endpointModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return errs.NotFound("endpoint", ep.ID.String())
		}
		return fmt.Errorf("payhook/redis: update endpoint get: %w", err)
	}

	m := toEndpointModel(ep)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("payhook/redis: update endpoint: %w", err)
	}
	return nil
}

// DeleteEndpoint removes an endpoint.
func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	key := entityKey(prefixEndpoint, epID.String())

	var m endpointModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return errs.NotFound("endpoint", epID.String())
		}
		return fmt.Errorf("payhook/redis: delete endpoint get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("payhook/redis: delete endpoint: %w", err)
	}
	if err := s.rdb.ZRem(ctx, zEndpointMerch+m.MerchantID, m.ID).Err(); err != nil {
		return fmt.Errorf("payhook/redis: delete endpoint index: %w", err)
	}
	return nil
}

// ListEndpoints returns a merchant's endpoints, newest first.
func (s *Store) ListEndpoints(ctx context.Context, merchantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	ids, err := s.rdb.ZRevRange(ctx, zEndpointMerch+merchantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("payhook/redis: list endpoints: %w", err)
	}

	models, err := loadAll[endpointModel](ctx, s, prefixEndpoint, ids)
	if err != nil {
		return nil, fmt.Errorf("payhook/redis: list endpoints: %w", err)
	}

	result := make([]*endpoint.Endpoint, 0, len(models))
	for _, m := range models {
		if opts.Enabled != nil && m.Enabled != *opts.Enabled {
			continue
		}
		ep, err := fromEndpointModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, ep)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
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
	key := entityKey(prefixEndpoint, epID.String())

	var m endpointModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return errs.NotFound("endpoint", epID.String())
		}
		return fmt.Errorf("payhook/redis: set enabled get: %w", err)
	}

	m.Enabled = enabled
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("payhook/redis: set enabled: %w", err)
	}
	return nil
}
