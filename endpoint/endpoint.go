// Package endpoint manages merchant webhook endpoints. Each merchant has at
// most one enabled endpoint; registering or enabling another disables the
// rest.
package endpoint

import (
	"net/url"
	"strings"

	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
)

// Endpoint is a merchant's webhook delivery target.
type Endpoint struct {
	entity.Entity

	ID          id.ID             `json:"id"`
	MerchantID  string            `json:"merchantId"`
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	Secret      string            `json:"-"`
	Enabled     bool              `json:"isActive"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Input is the create/update payload.
type Input struct {
	MerchantID  string            `json:"merchantId"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Secret      string            `json:"secret"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ListOpts filters endpoint listings.
type ListOpts struct {
	Offset  int
	Limit   int
	Enabled *bool
}

// ValidateURL requires a well-formed absolute https URL.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errs.Invalid("url", "required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errs.Invalid("url", "malformed: %v", err)
	}
	if u.Scheme != "https" {
		return errs.Invalid("url", "must use https")
	}
	if u.Host == "" || u.Hostname() == "" {
		return errs.Invalid("url", "host required")
	}
	if u.User != nil {
		return errs.Invalid("url", "credentials not allowed")
	}
	return nil
}
