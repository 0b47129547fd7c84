// Package event defines the webhook payload delivered to merchants and the
// catalog of event types used to validate it before it is queued.
package event

import (
	"strings"
	"time"

	"github.com/xraph/payhook/errs"
)

// Payload is the transaction event sent to a merchant endpoint.
//
// Field order is the canonical serialization order used for signing.
// The signer writes Nonce, so a payload must be treated as consumed once it
// has been signed; use Clone to keep an unsigned copy.
type Payload struct {
	TransactionID   string         `json:"transactionId"`
	TransactionType string         `json:"transactionType"`
	Status          string         `json:"status"`
	Amount          string         `json:"amount"`
	Asset           string         `json:"asset"`
	MerchantID      string         `json:"merchantId"`
	Timestamp       string         `json:"timestamp"`
	EventType       Type           `json:"eventType"`
	ReqMethod       string         `json:"reqMethod,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Nonce           string         `json:"nonce,omitempty"`
}

// Clone returns a copy that does not share the metadata map.
func (p *Payload) Clone() *Payload {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// IsGetStyle reports whether the payload is delivered as a signed GET URL
// instead of a POST body.
func (p *Payload) IsGetStyle() bool {
	m := strings.ToUpper(p.ReqMethod)
	return m == "GET" || strings.HasPrefix(m, "GET_")
}

// Stamp sets Timestamp to t in RFC 3339 with millisecond precision.
func (p *Payload) Stamp(t time.Time) {
	p.Timestamp = FormatTimestamp(t)
}

// Instant parses Timestamp.
func (p *Payload) Instant() (time.Time, error) {
	return ParseTimestamp(p.Timestamp)
}

// MetadataURL returns metadata.url for GET-style delivery.
func (p *Payload) MetadataURL() (string, error) {
	raw, ok := p.Metadata["url"]
	if !ok {
		return "", errs.Invalid("metadata.url", "required for %s requests", p.ReqMethod)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errs.Invalid("metadata.url", "must be a non-empty string")
	}
	return s, nil
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t as an ISO-8601 UTC instant with milliseconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp accepts ISO-8601 instants with or without fractional
// seconds. A zone designator is required.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errs.Invalid("timestamp", "required")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errs.Invalid("timestamp", "not an ISO-8601 instant: %q", s)
	}
	return t, nil
}
