// Package notify performs outbound webhook calls: it resolves the merchant
// secret, signs the payload and sends it, classifying every result as an
// Outcome.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/merchant"
	"github.com/xraph/payhook/observability"
	"github.com/xraph/payhook/ratelimit"
	"github.com/xraph/payhook/signature"
)

// Wire constants.
const (
	SignatureHeader = "X-Webhook-Signature"
	DefaultTimeout  = 5 * time.Second
	userAgent       = "Payhook/1.0"
	maxResponseBody = 1024
)

// Dispatcher sends signed webhook calls.
type Dispatcher struct {
	merchants merchant.Lookup
	signer    *signature.Signer
	client    *http.Client
	timeout   time.Duration
	limiter   *ratelimit.Limiter
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSigner replaces the default signer.
func WithSigner(s *signature.Signer) Option { return func(d *Dispatcher) { d.signer = s } }

// WithHTTPClient replaces the HTTP client. The per-call timeout still
// applies through the request context.
func WithHTTPClient(c *http.Client) Option { return func(d *Dispatcher) { d.client = c } }

// WithTimeout sets the per-call timeout.
func WithTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

// WithLimiter throttles calls per merchant.
func WithLimiter(l *ratelimit.Limiter) Option { return func(d *Dispatcher) { d.limiter = l } }

// WithMetrics records one-shot notification results.
func WithMetrics(m *observability.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithClock replaces time.Now for timestamp stamping.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// NewDispatcher returns a Dispatcher resolving secrets through merchants.
func NewDispatcher(merchants merchant.Lookup, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		merchants: merchants,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.signer == nil {
		d.signer = signature.NewSigner(signature.WithClock(d.now))
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: d.timeout}
	}
	return d
}

// Deliver makes one attempt to deliver p to target on behalf of merchantID.
// p is consumed: the signer attaches a nonce to it.
func (d *Dispatcher) Deliver(ctx context.Context, target string, p *event.Payload, merchantID string) Outcome {
	if err := endpoint.ValidateURL(target); err != nil {
		return terminal(err)
	}

	m, err := d.merchants.GetMerchantByID(ctx, merchantID)
	switch {
	case errs.IsNotFound(err):
		return terminal(err)
	case err != nil:
		return retryable(fmt.Errorf("merchant lookup: %w", err))
	case !m.Active:
		return terminal(fmt.Errorf("merchant %s is inactive", merchantID))
	case m.Secret == "":
		return terminal(fmt.Errorf("merchant %s has no signing secret", merchantID))
	}

	signed, err := d.signer.Sign(p, m.Secret)
	if err != nil {
		return retryable(err)
	}

	// The limiter wait counts against the call timeout so a merchant backlog
	// cannot hold a job past its lease.
	waitCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err = d.limiter.Wait(waitCtx, merchantID)
	cancel()
	if err != nil {
		return retryable(fmt.Errorf("rate limit: %w", err))
	}

	req, err := d.request(ctx, target, p, signed)
	if err != nil {
		return retryable(err)
	}
	return d.send(req)
}

// SendWebhookNotification makes a single attempt and reports whether it was
// delivered. It never returns an error; failures are logged.
func (d *Dispatcher) SendWebhookNotification(ctx context.Context, target string, p *event.Payload, merchantID string) bool {
	if p == nil {
		d.metrics.RecordNotification(false)
		d.logger.WarnContext(ctx, "webhook notification failed", "merchant_id", merchantID, "error", "nil payload")
		return false
	}

	out := d.Deliver(ctx, target, p, merchantID)
	d.metrics.RecordNotification(out.OK())
	if !out.OK() {
		d.logger.WarnContext(ctx, "webhook notification failed",
			"merchant_id", merchantID,
			"transaction_id", p.TransactionID,
			"outcome", out.Kind.String(),
			"status", out.StatusCode,
			"error", out.Message(),
		)
	}
	return out.OK()
}

// NotifyPaymentUpdate stamps the current time into p and sends it to ep.
// A disabled endpoint or one with an invalid URL returns false without an
// attempt or a log line at warning level.
func (d *Dispatcher) NotifyPaymentUpdate(ctx context.Context, ep *endpoint.Endpoint, p *event.Payload) bool {
	if p == nil || ep == nil || !ep.Enabled || endpoint.ValidateURL(ep.URL) != nil {
		d.logger.DebugContext(ctx, "payment update skipped: endpoint unusable")
		return false
	}
	p.Stamp(d.now())
	return d.SendWebhookNotification(ctx, ep.URL, p, ep.MerchantID)
}

func (d *Dispatcher) request(ctx context.Context, target string, p *event.Payload, signed signature.Signed) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	if p.IsGetStyle() {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, signed.URL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(signed.Body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(SignatureHeader, signed.Signature)
	return req, nil
}

func (d *Dispatcher) send(req *http.Request) Outcome {
	ctx, cancel := context.WithTimeout(req.Context(), d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.client.Do(req.WithContext(ctx)) //nolint:gosec // merchant-configured destination
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timeout after %s: %w", d.timeout, err)
		}
		return Outcome{Kind: Retryable, Err: &errs.DeliveryError{Err: err}, Latency: latency}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	out := Outcome{StatusCode: resp.StatusCode, Response: string(body), Latency: latency}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Kind = Delivered
		return out
	}
	out.Kind = Retryable
	out.Err = &errs.DeliveryError{StatusCode: resp.StatusCode}
	return out
}
