package signature_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/signature"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedSigner(opts ...signature.Option) *signature.Signer {
	base := []signature.Option{
		signature.WithClock(func() time.Time { return now }),
		signature.WithEntropy(bytes.NewReader(bytes.Repeat([]byte{0xab}, 1024))),
	}
	return signature.NewSigner(append(base, opts...)...)
}

func payload(ts time.Time) *event.Payload {
	return &event.Payload{
		TransactionID:   "tx1",
		TransactionType: "payment",
		Status:          "completed",
		Amount:          "10.00",
		Asset:           "USDC",
		MerchantID:      "m1",
		Timestamp:       event.FormatTimestamp(ts),
		EventType:       event.PaymentCompleted,
	}
}

func TestSignKnownVector(t *testing.T) {
	p := payload(now)
	signed, err := fixedSigner().Sign(p, "whsec_test")
	if err != nil {
		t.Fatal(err)
	}

	wantNonce := strings.Repeat("ab", 16)
	if p.Nonce != wantNonce {
		t.Fatalf("nonce = %q, want %q", p.Nonce, wantNonce)
	}

	body, _ := json.Marshal(p)
	if !bytes.Equal(body, signed.Body) {
		t.Fatalf("signed body differs from payload serialization:\n%s\n%s", body, signed.Body)
	}

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write(body)
	if want := hex.EncodeToString(mac.Sum(nil)); signed.Signature != want {
		t.Errorf("signature = %q, want %q", signed.Signature, want)
	}
	if signed.URL != "" {
		t.Errorf("POST payload should not carry a URL, got %q", signed.URL)
	}
}

func TestSignIsDeterministic(t *testing.T) {
	a, err := fixedSigner().Sign(payload(now), "s")
	if err != nil {
		t.Fatal(err)
	}
	b, err := fixedSigner().Sign(payload(now), "s")
	if err != nil {
		t.Fatal(err)
	}
	if a.Signature != b.Signature {
		t.Error("same inputs produced different signatures")
	}
}

func TestSignChangesWithAnyField(t *testing.T) {
	base, _ := fixedSigner().Sign(payload(now), "s")

	mutations := map[string]func(*event.Payload){
		"amount":    func(p *event.Payload) { p.Amount = "10.01" },
		"status":    func(p *event.Payload) { p.Status = "failed" },
		"timestamp": func(p *event.Payload) { p.Timestamp = event.FormatTimestamp(now.Add(time.Millisecond)) },
		"metadata":  func(p *event.Payload) { p.Metadata = map[string]any{"k": "v"} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := payload(now)
			mutate(p)
			got, err := fixedSigner().Sign(p, "s")
			if err != nil {
				t.Fatal(err)
			}
			if got.Signature == base.Signature {
				t.Error("signature did not change")
			}
		})
	}

	t.Run("secret", func(t *testing.T) {
		got, _ := fixedSigner().Sign(payload(now), "other")
		if got.Signature == base.Signature {
			t.Error("signature did not change")
		}
	})

	t.Run("nonce", func(t *testing.T) {
		s := signature.NewSigner(
			signature.WithClock(func() time.Time { return now }),
			signature.WithEntropy(bytes.NewReader(bytes.Repeat([]byte{0xcd}, 16))),
		)
		got, _ := s.Sign(payload(now), "s")
		if got.Signature == base.Signature {
			t.Error("signature did not change")
		}
	})
}

func TestSignFreshnessBoundary(t *testing.T) {
	cases := []struct {
		name    string
		offset  time.Duration
		wantErr bool
	}{
		{"now", 0, false},
		{"exactly 5m old", -5 * time.Minute, false},
		{"exactly 5m ahead", 5 * time.Minute, false},
		{"just over 5m old", -5*time.Minute - time.Millisecond, true},
		{"just over 5m ahead", 5*time.Minute + time.Millisecond, true},
		{"an hour old", -time.Hour, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := payload(now.Add(tc.offset))
			_, err := fixedSigner().Sign(p, "s")

			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var te *errs.TimestampError
			if !errors.As(err, &te) {
				t.Fatalf("expected *TimestampError, got %v", err)
			}
			if p.Nonce != "" {
				t.Error("nonce attached to a rejected payload")
			}
		})
	}
}

func TestSignValidation(t *testing.T) {
	if _, err := fixedSigner().Sign(payload(now), ""); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("empty secret: got %v", err)
	}

	p := payload(now)
	p.Timestamp = "not-a-time"
	if _, err := fixedSigner().Sign(p, "s"); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("bad timestamp: got %v", err)
	}
}

func TestSignGetStyle(t *testing.T) {
	p := payload(now)
	p.ReqMethod = "GET_REDIRECT"
	p.Metadata = map[string]any{"url": "https://shop.test/return?order=9"}

	signed, err := fixedSigner().Sign(p, "s")
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(signed.URL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "shop.test" || u.Path != "/return" {
		t.Errorf("unexpected URL %q", signed.URL)
	}
	if got := u.Query().Get("signature"); got != signed.Signature {
		t.Errorf("signature param = %q, want %q", got, signed.Signature)
	}
	if got := u.Query().Get("order"); got != "9" {
		t.Errorf("existing query lost: order=%q", got)
	}
}

func TestSignGetStyleRequiresURL(t *testing.T) {
	for name, md := range map[string]map[string]any{
		"missing":    nil,
		"not string": {"url": 12},
	} {
		t.Run(name, func(t *testing.T) {
			p := payload(now)
			p.ReqMethod = "GET"
			p.Metadata = md

			var ve *errs.ValidationError
			if _, err := fixedSigner().Sign(p, "s"); !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Field != "metadata.url" {
				t.Errorf("field = %q", ve.Field)
			}
		})
	}
}

type nonceSet map[string]bool

func (s nonceSet) Seen(n string) bool {
	if s[n] {
		return true
	}
	s[n] = true
	return false
}

func TestVerifierRoundTrip(t *testing.T) {
	signed, err := fixedSigner().Sign(payload(now), "whsec_rt")
	if err != nil {
		t.Fatal(err)
	}

	v := signature.NewVerifier(nonceSet{}, signature.WithClock(func() time.Time { return now.Add(time.Minute) }))

	got, err := v.VerifyBody(signed.Body, "whsec_rt", signed.Signature)
	if err != nil {
		t.Fatalf("VerifyBody: %v", err)
	}
	if got.TransactionID != "tx1" {
		t.Errorf("decoded transactionId = %q", got.TransactionID)
	}

	if _, err := v.VerifyBody(signed.Body, "whsec_rt", signed.Signature); err == nil {
		t.Error("expected replayed nonce to be rejected")
	}
}

func TestVerifierRejects(t *testing.T) {
	signed, _ := fixedSigner().Sign(payload(now), "whsec_rt")

	v := signature.NewVerifier(nil, signature.WithClock(func() time.Time { return now }))
	if _, err := v.VerifyBody(signed.Body, "wrong", signed.Signature); err == nil {
		t.Error("wrong secret accepted")
	}

	tampered := bytes.Replace(signed.Body, []byte(`"10.00"`), []byte(`"99.00"`), 1)
	if _, err := v.VerifyBody(tampered, "whsec_rt", signed.Signature); err == nil {
		t.Error("tampered body accepted")
	}

	late := signature.NewVerifier(nil, signature.WithClock(func() time.Time { return now.Add(10 * time.Minute) }))
	if _, err := late.VerifyBody(signed.Body, "whsec_rt", signed.Signature); !errors.Is(err, errs.ErrTimestamp) {
		t.Errorf("stale body: got %v", err)
	}
}
