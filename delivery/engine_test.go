package delivery_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/merchant"
	"github.com/xraph/payhook/notify"
	"github.com/xraph/payhook/record"
	"github.com/xraph/payhook/signature"
)

// scripted answers every attempt with the next outcome, repeating the last.
type scripted struct {
	mu       sync.Mutex
	outcomes []notify.Outcome
	calls    []string
}

func (s *scripted) Deliver(_ context.Context, target string, p *event.Payload, _ string) notify.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p.Timestamp)
	i := len(s.calls) - 1
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	return s.outcomes[i]
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newEngine(f *fixture, d delivery.Dispatcher, alerts *alert.Service) *delivery.Engine {
	var esc delivery.Escalator
	if alerts != nil {
		esc = alerts
	}
	return delivery.NewEngine(f.store, d, esc, delivery.EngineConfig{
		Concurrency: 4,
		Lease:       time.Minute,
		Clock:       f.clock.Now,
	}, nil)
}

// drain runs batches, advancing the clock past any backoff, until the queue
// has nothing left to claim.
func drain(t *testing.T, f *fixture, e *delivery.Engine) {
	t.Helper()
	for i := 0; i < 20; i++ {
		f.clock.Advance(2 * time.Hour)
		n, err := e.RunOnce(ctx())
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			return
		}
	}
	t.Fatal("queue did not drain")
}

func TestEngineDelivers(t *testing.T) {
	f := newFixture(t)
	d := &scripted{outcomes: []notify.Outcome{{Kind: notify.Delivered, StatusCode: 200}}}
	e := newEngine(f, d, nil)

	h, err := f.queue.AddToQueue(ctx(), f.ep, completed("tx1"))
	if err != nil {
		t.Fatal(err)
	}
	drain(t, f, e)

	job, rec, _ := f.queue.GetJob(ctx(), h.ID)
	if job.State != delivery.StateCompleted || job.AttemptsMade != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
	if rec.Status != record.StatusCompleted || rec.AttemptsMade != 1 || rec.CompletedAt == nil {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestEngineRetriesThenDelivers(t *testing.T) {
	f := newFixture(t)
	fail := notify.Outcome{Kind: notify.Retryable, StatusCode: 500, Err: errors.New("HTTP 500")}
	d := &scripted{outcomes: []notify.Outcome{fail, fail, {Kind: notify.Delivered, StatusCode: 200}}}
	e := newEngine(f, d, nil)

	h, _ := f.queue.AddToQueue(ctx(), f.ep, completed("tx1"))

	if _, err := e.RunOnce(ctx()); err != nil {
		t.Fatal(err)
	}
	_, rec, _ := f.queue.GetJob(ctx(), h.ID)
	if rec.Status != record.StatusPending || rec.AttemptsMade != 1 || rec.Error != "HTTP 500" {
		t.Fatalf("unexpected record after first failure %+v", rec)
	}
	if want := f.clock.Now().Add(5 * time.Second); !rec.NextRetry.Equal(want) {
		t.Fatalf("nextRetry = %v, want %v", rec.NextRetry, want)
	}

	// Not yet due.
	if n, _ := e.RunOnce(ctx()); n != 0 {
		t.Fatalf("claimed %d jobs before backoff elapsed", n)
	}

	drain(t, f, e)
	_, rec, _ = f.queue.GetJob(ctx(), h.ID)
	if rec.Status != record.StatusCompleted || rec.AttemptsMade != 3 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if d.count() != 3 {
		t.Fatalf("expected 3 attempts, got %d", d.count())
	}
}

func TestEngineExhaustsAndEscalatesOnce(t *testing.T) {
	f := newFixture(t)
	d := &scripted{outcomes: []notify.Outcome{{Kind: notify.Retryable, StatusCode: 503, Err: errors.New("HTTP 503")}}}
	alerts := alert.NewService(f.store, nil)
	e := newEngine(f, d, alerts)

	h, _ := f.queue.AddToQueue(ctx(), f.ep, completed("tx1"))
	drain(t, f, e)

	job, rec, _ := f.queue.GetJob(ctx(), h.ID)
	if job.State != delivery.StateFailed || job.AttemptsMade != 5 {
		t.Fatalf("unexpected job %+v", job)
	}
	if rec.Status != record.StatusFailed || rec.AttemptsMade != 5 || rec.Error != "HTTP 503" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if d.count() != 5 {
		t.Fatalf("expected 5 attempts, got %d", d.count())
	}

	list, _ := alerts.List(ctx(), alert.ListOpts{})
	if len(list) != 1 {
		t.Fatalf("expected one alert, got %d", len(list))
	}
	if list[0].JobID != h.ID || list[0].AttemptNumber != 5 || list[0].TransactionID != "tx1" {
		t.Fatalf("unexpected alert %+v", list[0])
	}

	// Each attempt is signed over a fresh timestamp.
	seen := map[string]bool{}
	for _, ts := range d.calls {
		seen[ts] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct attempt timestamps, got %d", len(seen))
	}
}

func TestEngineTerminalOutcomeSkipsRetries(t *testing.T) {
	f := newFixture(t)
	d := &scripted{outcomes: []notify.Outcome{{Kind: notify.Terminal, Err: errors.New("merchant m1 is inactive")}}}
	alerts := alert.NewService(f.store, nil)
	e := newEngine(f, d, alerts)

	h, _ := f.queue.AddToQueue(ctx(), f.ep, completed("tx1"))
	drain(t, f, e)

	_, rec, _ := f.queue.GetJob(ctx(), h.ID)
	if rec.Status != record.StatusFailed || rec.AttemptsMade != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if n, _ := alerts.Count(ctx(), alert.ListOpts{}); n != 1 {
		t.Fatalf("expected one alert, got %d", n)
	}
}

func TestEngineDisabledEndpointIsTerminal(t *testing.T) {
	f := newFixture(t)
	d := &scripted{outcomes: []notify.Outcome{{Kind: notify.Delivered, StatusCode: 200}}}
	e := newEngine(f, d, nil)

	h, _ := f.queue.AddToQueue(ctx(), f.ep, completed("tx1"))
	if err := f.store.SetEnabled(ctx(), f.ep.ID, false); err != nil {
		t.Fatal(err)
	}
	drain(t, f, e)

	_, rec, _ := f.queue.GetJob(ctx(), h.ID)
	if rec.Status != record.StatusFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
	if d.count() != 0 {
		t.Fatalf("dispatcher called %d times for disabled endpoint", d.count())
	}
}

func TestEngineManualRetryAfterExhaustion(t *testing.T) {
	f := newFixture(t)
	fail := notify.Outcome{Kind: notify.Retryable, Err: errors.New("HTTP 500")}
	d := &scripted{outcomes: []notify.Outcome{fail, fail, fail, fail, fail, {Kind: notify.Delivered, StatusCode: 200}}}
	alerts := alert.NewService(f.store, nil)
	e := newEngine(f, d, alerts)

	h, _ := f.queue.AddToQueue(ctx(), f.ep, completed("tx1"))
	drain(t, f, e)

	list, _ := alerts.List(ctx(), alert.ListOpts{})
	if len(list) != 1 {
		t.Fatalf("expected one alert, got %d", len(list))
	}
	if err := alerts.Replay(ctx(), list[0].ID, f.queue); err != nil {
		t.Fatal(err)
	}
	drain(t, f, e)

	_, rec, _ := f.queue.GetJob(ctx(), h.ID)
	if rec.Status != record.StatusCompleted || rec.AttemptsMade != 1 {
		t.Fatalf("unexpected record after replay %+v", rec)
	}
	got, _ := alerts.Get(ctx(), list[0].ID)
	if got.ReplayedAt == nil {
		t.Fatal("expected alert marked replayed")
	}
	if n, _ := alerts.Count(ctx(), alert.ListOpts{}); n != 1 {
		t.Fatalf("expected no new alert, got %d", n)
	}
}

func TestEngineSignedDeliveryEndToEnd(t *testing.T) {
	var hits atomic.Int32
	var sig atomic.Value
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		sig.Store(r.Header.Get(notify.SignatureHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	ep, _ := f.store.GetEndpoint(ctx(), f.ep.ID)
	ep.URL = srv.URL
	_ = f.store.UpdateEndpoint(ctx(), ep)

	d := notify.NewDispatcher(
		merchant.NewStatic(merchant.Merchant{ID: "m1", Secret: "merchant-secret", Active: true}),
		notify.WithHTTPClient(srv.Client()),
		notify.WithSigner(signature.NewSigner(signature.WithClock(f.clock.Now))),
	)
	e := newEngine(f, d, nil)

	h, err := f.queue.AddToQueue(ctx(), ep, completed("tx1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunOnce(ctx()); err != nil {
		t.Fatal(err)
	}

	if hits.Load() != 1 {
		t.Fatalf("expected one request, got %d", hits.Load())
	}
	if s, _ := sig.Load().(string); len(s) != 64 {
		t.Fatalf("expected hex signature header, got %q", s)
	}
	_, rec, _ := f.queue.GetJob(ctx(), h.ID)
	if rec.Status != record.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %+v", rec)
	}
}

func TestEngineStartStop(t *testing.T) {
	f := newFixture(t)
	delivered := make(chan struct{}, 1)
	d := notifyFunc(func() notify.Outcome {
		select {
		case delivered <- struct{}{}:
		default:
		}
		return notify.Outcome{Kind: notify.Delivered, StatusCode: 200}
	})

	e := delivery.NewEngine(f.store, d, nil, delivery.EngineConfig{
		Concurrency:  2,
		PollInterval: time.Hour,
		Clock:        f.clock.Now,
	}, nil)
	f.queue.OnEnqueue(e.Wake)

	e.Start(ctx())
	defer e.Stop(ctx())

	if _, err := f.queue.AddToQueue(ctx(), f.ep, completed("tx1")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("wake did not trigger a poll")
	}
}

type notifyFunc func() notify.Outcome

func (fn notifyFunc) Deliver(context.Context, string, *event.Payload, string) notify.Outcome {
	return fn()
}

// gated blocks each attempt until release is closed and reports whether the
// attempt context was still live.
type gated struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  atomic.Value
}

func (g *gated) Deliver(ctx context.Context, _ string, _ *event.Payload, _ string) notify.Outcome {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if err := ctx.Err(); err != nil {
		g.ctxErr.Store(err)
		return notify.Outcome{Kind: notify.Retryable, Err: err}
	}
	return notify.Outcome{Kind: notify.Delivered, StatusCode: 200}
}

func TestEngineStopFinishesInFlightAttempt(t *testing.T) {
	f := newFixture(t)
	q := delivery.NewQueue(f.store, event.NewCatalog(), delivery.QueueConfig{MaxAttempts: 1, Clock: f.clock.Now}, nil)
	alerts := alert.NewService(f.store, nil)
	g := &gated{started: make(chan struct{}), release: make(chan struct{})}

	e := delivery.NewEngine(f.store, g, alerts, delivery.EngineConfig{
		Concurrency:  1,
		PollInterval: time.Hour,
		Lease:        time.Minute,
		Clock:        f.clock.Now,
	}, nil)
	q.OnEnqueue(e.Wake)
	e.Start(ctx())

	h, err := q.AddToQueue(ctx(), f.ep, completed("tx1"))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-g.started:
	case <-time.After(5 * time.Second):
		t.Fatal("attempt did not start")
	}

	stopped := make(chan struct{})
	go func() {
		e.Stop(ctx())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an attempt was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(g.release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if err, _ := g.ctxErr.Load().(error); err != nil {
		t.Fatalf("attempt context cancelled by Stop: %v", err)
	}
	job, rec, err := q.GetJob(ctx(), h.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != delivery.StateCompleted || rec.Status != record.StatusCompleted {
		t.Fatalf("job %s record %s, want completed", job.State, rec.Status)
	}
	if n, _ := alerts.Count(ctx(), alert.ListOpts{}); n != 0 {
		t.Fatalf("expected no alert, got %d", n)
	}
}
