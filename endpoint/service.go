package endpoint

import (
	"context"
	"log/slog"

	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
	"github.com/xraph/payhook/signature"
)

// Service provides endpoint registration and lookup.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates an endpoint service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Create registers an enabled endpoint and disables any other endpoint the
// merchant had enabled.
func (svc *Service) Create(ctx context.Context, in Input) (*Endpoint, error) {
	if in.MerchantID == "" {
		return nil, errs.Invalid("merchantId", "required")
	}
	if err := ValidateURL(in.URL); err != nil {
		return nil, err
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	ep := &Endpoint{
		Entity:      entity.New(),
		ID:          id.NewEndpointID(),
		MerchantID:  in.MerchantID,
		URL:         in.URL,
		Description: in.Description,
		Secret:      secret,
		Enabled:     true,
		Metadata:    in.Metadata,
	}

	if err := svc.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	if err := svc.disableOthers(ctx, ep); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "endpoint registered",
		"endpoint_id", ep.ID.String(),
		"merchant_id", ep.MerchantID,
	)
	return ep, nil
}

// Get returns an endpoint by id.
func (svc *Service) Get(ctx context.Context, epID id.ID) (*Endpoint, error) {
	return svc.store.GetEndpoint(ctx, epID)
}

// Update changes the non-empty fields of in. The merchant cannot change.
func (svc *Service) Update(ctx context.Context, epID id.ID, in Input) (*Endpoint, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}

	if in.MerchantID != "" && in.MerchantID != ep.MerchantID {
		return nil, errs.Invalid("merchantId", "cannot be changed")
	}
	if in.URL != "" {
		if err := ValidateURL(in.URL); err != nil {
			return nil, err
		}
		ep.URL = in.URL
	}
	if in.Description != "" {
		ep.Description = in.Description
	}
	if in.Secret != "" {
		ep.Secret = in.Secret
	}
	if in.Metadata != nil {
		ep.Metadata = in.Metadata
	}
	ep.Touch()

	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Delete removes an endpoint.
func (svc *Service) Delete(ctx context.Context, epID id.ID) error {
	return svc.store.DeleteEndpoint(ctx, epID)
}

// List returns a merchant's endpoints.
func (svc *Service) List(ctx context.Context, merchantID string, opts ListOpts) ([]*Endpoint, error) {
	return svc.store.ListEndpoints(ctx, merchantID, opts)
}

// Active returns the merchant's single enabled endpoint.
func (svc *Service) Active(ctx context.Context, merchantID string) (*Endpoint, error) {
	return svc.store.ActiveEndpoint(ctx, merchantID)
}

// SetEnabled enables or disables an endpoint. Enabling one disables the
// merchant's other endpoints.
func (svc *Service) SetEnabled(ctx context.Context, epID id.ID, enabled bool) error {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return err
	}
	if enabled {
		if err := ValidateURL(ep.URL); err != nil {
			return err
		}
	}
	if err := svc.store.SetEnabled(ctx, epID, enabled); err != nil {
		return err
	}
	if enabled {
		return svc.disableOthers(ctx, ep)
	}
	return nil
}

// RotateSecret replaces the endpoint secret and returns the new value.
func (svc *Service) RotateSecret(ctx context.Context, epID id.ID) (string, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return "", err
	}

	ep.Secret = signature.GenerateSecret()
	ep.Touch()
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return "", err
	}
	return ep.Secret, nil
}

func (svc *Service) disableOthers(ctx context.Context, keep *Endpoint) error {
	enabled := true
	eps, err := svc.store.ListEndpoints(ctx, keep.MerchantID, ListOpts{Enabled: &enabled})
	if err != nil {
		return err
	}
	for _, other := range eps {
		if other.ID.String() == keep.ID.String() {
			continue
		}
		if err := svc.store.SetEnabled(ctx, other.ID, false); err != nil {
			return err
		}
		svc.logger.InfoContext(ctx, "endpoint superseded",
			"endpoint_id", other.ID.String(),
			"merchant_id", other.MerchantID,
		)
	}
	return nil
}
