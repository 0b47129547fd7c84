// Package merchant is the narrow lookup contract for merchant signing
// secrets. Merchant registration lives outside payhook.
package merchant

import (
	"context"
	"sync"

	"github.com/xraph/payhook/errs"
)

// Merchant is the subset of merchant state needed to sign deliveries.
type Merchant struct {
	ID     string `json:"id" mapstructure:"id"`
	Secret string `json:"-" mapstructure:"secret"`
	Active bool   `json:"active" mapstructure:"active"`
}

// Lookup resolves merchants by id. Unknown ids return an error matching
// errs.ErrNotFound.
type Lookup interface {
	GetMerchantByID(ctx context.Context, merchantID string) (*Merchant, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, merchantID string) (*Merchant, error)

// GetMerchantByID calls f.
func (f LookupFunc) GetMerchantByID(ctx context.Context, merchantID string) (*Merchant, error) {
	return f(ctx, merchantID)
}

// Static is an in-memory Lookup.
type Static struct {
	mu        sync.RWMutex
	merchants map[string]Merchant
}

// NewStatic returns a Static holding ms.
func NewStatic(ms ...Merchant) *Static {
	s := &Static{merchants: make(map[string]Merchant, len(ms))}
	for _, m := range ms {
		s.merchants[m.ID] = m
	}
	return s
}

// Put adds or replaces a merchant.
func (s *Static) Put(m Merchant) {
	s.mu.Lock()
	s.merchants[m.ID] = m
	s.mu.Unlock()
}

// GetMerchantByID returns a copy of the stored merchant.
func (s *Static) GetMerchantByID(_ context.Context, merchantID string) (*Merchant, error) {
	s.mu.RLock()
	m, ok := s.merchants[merchantID]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("merchant", merchantID)
	}
	return &m, nil
}
