package signature

import (
	"crypto/hmac"
	"encoding/json"

	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
)

// Verify reports whether sig is the digest of body under secret.
func Verify(body []byte, secret, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	return hmac.Equal([]byte(Digest(body, secret)), []byte(sig))
}

// Verifier checks signed deliveries on the receiving side: signature first,
// then timestamp freshness, then nonce reuse when a NonceCache is set.
type Verifier struct {
	clock *Signer
	seen  NonceCache
}

// NonceCache remembers nonces for at least the tolerance window.
// Seen returns true if nonce was already recorded, recording it otherwise.
type NonceCache interface {
	Seen(nonce string) bool
}

// NewVerifier returns a Verifier. seen may be nil to skip replay checks.
// WithClock and WithTolerance apply; WithEntropy is ignored.
func NewVerifier(seen NonceCache, opts ...Option) *Verifier {
	return &Verifier{clock: NewSigner(opts...), seen: seen}
}

// VerifyBody validates a received body and returns the decoded payload.
func (v *Verifier) VerifyBody(body []byte, secret, sig string) (*event.Payload, error) {
	if !Verify(body, secret, sig) {
		return nil, errs.Invalid("signature", "mismatch")
	}

	var p event.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errs.Invalid("body", "malformed JSON: %v", err)
	}

	ts, err := p.Instant()
	if err != nil {
		return nil, err
	}
	if err := v.clock.checkFresh(ts); err != nil {
		return nil, err
	}

	if p.Nonce == "" {
		return nil, errs.Invalid("nonce", "required")
	}
	if v.seen != nil && v.seen.Seen(p.Nonce) {
		return nil, errs.Invalid("nonce", "replayed")
	}
	return &p, nil
}
