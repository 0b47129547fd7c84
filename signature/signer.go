// Package signature signs outbound webhook payloads with HMAC-SHA256 and
// verifies them on the receiving side.
//
// A signature covers the canonical JSON of the payload after the signer has
// attached a fresh nonce, so the bytes that were signed are exactly the bytes
// that are sent.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
)

// DefaultTolerance is the maximum distance between a payload timestamp and
// the signer's clock. A skew of exactly DefaultTolerance is accepted.
const DefaultTolerance = 5 * time.Minute

// QueryParam is the query parameter carrying the signature on GET-style
// deliveries.
const QueryParam = "signature"

// Signed is the result of signing a payload.
type Signed struct {
	// Signature is the hex HMAC-SHA256 digest of Body.
	Signature string

	// Body is the canonical JSON that was signed, nonce included.
	Body []byte

	// URL is set for GET-style payloads: metadata.url with the signature
	// appended as a query parameter.
	URL string
}

// Signer signs payloads. The zero value is not usable; use NewSigner.
type Signer struct {
	now       func() time.Time
	tolerance time.Duration
	entropy   io.Reader
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithTolerance sets the freshness window.
func WithTolerance(d time.Duration) Option {
	return func(s *Signer) { s.tolerance = d }
}

// WithEntropy sets the nonce source. Tests use it for fixed nonces.
func WithEntropy(r io.Reader) Option {
	return func(s *Signer) { s.entropy = r }
}

// NewSigner returns a Signer using the system clock, crypto/rand and
// DefaultTolerance.
func NewSigner(opts ...Option) *Signer {
	s := &Signer{
		now:       time.Now,
		tolerance: DefaultTolerance,
		entropy:   rand.Reader,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sign attaches a nonce to p and signs it with secret.
//
// It fails with *errs.ValidationError for an empty secret, an unparseable
// timestamp or a GET-style payload without metadata.url, and with
// *errs.TimestampError when the timestamp is outside the tolerance. The
// freshness check runs before any nonce or digest is produced, so a rejected
// payload is left untouched.
func (s *Signer) Sign(p *event.Payload, secret string) (Signed, error) {
	if p == nil {
		return Signed{}, errs.Invalid("payload", "required")
	}
	if secret == "" {
		return Signed{}, errs.Invalid("secret", "required")
	}

	ts, err := p.Instant()
	if err != nil {
		return Signed{}, err
	}
	if err := s.checkFresh(ts); err != nil {
		return Signed{}, err
	}

	var target string
	if p.IsGetStyle() {
		if target, err = p.MetadataURL(); err != nil {
			return Signed{}, err
		}
	}

	nonce, err := s.nonce()
	if err != nil {
		return Signed{}, fmt.Errorf("signature: generate nonce: %w", err)
	}
	p.Nonce = nonce

	body, err := Canonical(p)
	if err != nil {
		return Signed{}, err
	}

	out := Signed{Signature: Digest(body, secret), Body: body}
	if target != "" {
		if out.URL, err = appendSignature(target, out.Signature); err != nil {
			return Signed{}, err
		}
	}
	return out, nil
}

func (s *Signer) checkFresh(ts time.Time) error {
	skew := s.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.tolerance {
		return &errs.TimestampError{Timestamp: ts, Skew: skew, Tolerance: s.tolerance}
	}
	return nil
}

func (s *Signer) nonce() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(s.entropy, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Canonical returns the serialization that is signed and sent. Struct
// fields are emitted in declaration order and map keys sorted.
func Canonical(p *event.Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, errs.Invalid("payload", "not serializable: %v", err)
	}
	return body, nil
}

// Digest returns hex(HMAC-SHA256(secret, body)).
func Digest(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func appendSignature(raw, sig string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errs.Invalid("metadata.url", "not an absolute URL: %q", raw)
	}
	q := u.Query()
	q.Set(QueryParam, sig)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
