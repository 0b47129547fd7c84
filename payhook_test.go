package payhook_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/payhook"
	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/merchant"
	"github.com/xraph/payhook/notify"
	"github.com/xraph/payhook/record"
	"github.com/xraph/payhook/signature"
	"github.com/xraph/payhook/store/memory"
)

const merchantSecret = "merchant-secret"

func ctx() context.Context { return context.Background() }

type delivered struct {
	body []byte
	sig  string
}

// receiver is a TLS merchant endpoint answering status to every call.
func receiver(t *testing.T, status int) (*httptest.Server, chan delivered) {
	t.Helper()
	ch := make(chan delivered, 16)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- delivered{body: body, sig: r.Header.Get(notify.SignatureHeader)}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func setup(t *testing.T, srv *httptest.Server, opts ...payhook.Option) (*payhook.Payhook, *memory.Store) {
	t.Helper()
	s := memory.New()
	base := []payhook.Option{
		payhook.WithStore(s),
		payhook.WithMerchants(merchant.NewStatic(merchant.Merchant{ID: "m1", Secret: merchantSecret, Active: true})),
		payhook.WithHTTPClient(srv.Client()),
		payhook.WithPollInterval(10 * time.Millisecond),
	}
	p, err := payhook.New(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Endpoints().Create(ctx(), endpoint.Input{MerchantID: "m1", URL: srv.URL + "/hooks"}); err != nil {
		t.Fatal(err)
	}
	return p, s
}

func payment(tx string) *event.Payload {
	return &event.Payload{
		TransactionID:   tx,
		TransactionType: "deposit",
		Status:          "completed",
		Amount:          "42.00",
		Asset:           "USDC",
		EventType:       event.PaymentCompleted,
	}
}

func waitForStatus(t *testing.T, s *memory.Store, jobID string, want record.Status) *record.DeliveryEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := s.GetRecord(ctx(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("record %s never reached %s", jobID, want)
	return nil
}

func TestNewRequiresStoreAndMerchants(t *testing.T) {
	if _, err := payhook.New(payhook.WithMerchants(merchant.NewStatic())); !errors.Is(err, payhook.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
	if _, err := payhook.New(payhook.WithStore(memory.New())); !errors.Is(err, payhook.ErrNoMerchants) {
		t.Fatalf("expected ErrNoMerchants, got %v", err)
	}
}

func TestEnqueueDeliversSignedWebhook(t *testing.T) {
	srv, calls := receiver(t, http.StatusOK)
	reg := prometheus.NewRegistry()
	p, s := setup(t, srv, payhook.WithRegisterer(reg))

	p.Start(ctx())
	defer p.Stop(ctx())

	h, err := p.Enqueue(ctx(), "m1", payment("tx-1"))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-calls:
		if !signature.Verify(got.body, merchantSecret, got.sig) {
			t.Fatalf("signature %q does not verify", got.sig)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never arrived")
	}

	rec := waitForStatus(t, s, h.ID, record.StatusCompleted)
	if rec.AttemptsMade != 1 || rec.CompletedAt == nil {
		t.Fatalf("expected one attempt and completedAt, got %d/%v", rec.AttemptsMade, rec.CompletedAt)
	}

	m, err := p.GetQueueMetrics(ctx(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Completed != 1 || m.SuccessRate != 100 {
		t.Fatalf("unexpected metrics %+v", m)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "payhook_jobs_enqueued_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected payhook_jobs_enqueued_total to be registered")
	}
}

func TestFailingEndpointRaisesAlertAndRetries(t *testing.T) {
	srv, _ := receiver(t, http.StatusInternalServerError)
	p, s := setup(t, srv,
		payhook.WithMaxAttempts(2),
		payhook.WithBackoff(time.Millisecond, time.Millisecond),
	)

	p.Start(ctx())
	defer p.Stop(ctx())

	h, err := p.Enqueue(ctx(), "m1", payment("tx-2"))
	if err != nil {
		t.Fatal(err)
	}
	rec := waitForStatus(t, s, h.ID, record.StatusFailed)
	if rec.AttemptsMade != 2 {
		t.Fatalf("expected 2 attempts, got %d", rec.AttemptsMade)
	}

	failed, err := p.GetFailedWebhookEvents(ctx(), record.ListOpts{MerchantID: "m1"})
	if err != nil || len(failed) != 1 {
		t.Fatalf("expected 1 failed event, got %d (%v)", len(failed), err)
	}

	n, err := p.Alerts().Count(ctx(), alertsFor("m1"))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 alert, got %d (%v)", n, err)
	}

	if err := p.RetryWebhook(ctx(), h.ID); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, s, h.ID, record.StatusFailed)
}

func TestEnqueueWithoutActiveEndpoint(t *testing.T) {
	srv, _ := receiver(t, http.StatusOK)
	p, _ := setup(t, srv)

	_, err := p.Enqueue(ctx(), "m2", payment("tx-3"))
	if !errors.Is(err, payhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCustomEventTypes(t *testing.T) {
	srv, _ := receiver(t, http.StatusOK)
	p, _ := setup(t, srv, payhook.WithEventTypes(event.Definition{
		Type:        "chargeback.opened",
		Description: "A chargeback was opened",
	}))

	pl := payment("tx-4")
	pl.EventType = "chargeback.opened"
	if _, err := p.Enqueue(ctx(), "m1", pl); err != nil {
		t.Fatalf("registered type should be accepted: %v", err)
	}

	pl = payment("tx-5")
	pl.EventType = "chargeback.closed"
	if _, err := p.Enqueue(ctx(), "m1", pl); !errors.Is(err, payhook.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown type, got %v", err)
	}
}

func TestSendWebhookNotificationOutsideQueue(t *testing.T) {
	srv, calls := receiver(t, http.StatusOK)
	p, _ := setup(t, srv)

	pl := payment("tx-6")
	pl.MerchantID = "m1"
	pl.Timestamp = event.FormatTimestamp(time.Now())
	if !p.SendWebhookNotification(ctx(), srv.URL, pl, "m1") {
		t.Fatal("expected 2xx to report true")
	}
	<-calls

	if p.SendWebhookNotification(ctx(), srv.URL, pl.Clone(), "unknown") {
		t.Fatal("unknown merchant must report false")
	}
}

func alertsFor(merchantID string) alert.ListOpts {
	return alert.ListOpts{MerchantID: merchantID}
}
