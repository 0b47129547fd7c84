package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
	"github.com/xraph/payhook/record"
	"github.com/xraph/payhook/store"
)

func ctx() context.Context { return context.Background() }

var t0 = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func payload(tx string) *event.Payload {
	return &event.Payload{
		TransactionID: tx,
		MerchantID:    "m1",
		EventType:     event.PaymentCompleted,
		Status:        "completed",
		Amount:        "10.00",
		Asset:         "USDC",
	}
}

func newJob(jobID string, due time.Time) *delivery.Job {
	return &delivery.Job{
		Entity:        entity.New(),
		ID:            jobID,
		MerchantID:    "m1",
		URL:           "https://example.com/hook",
		Payload:       payload("tx-" + jobID),
		State:         delivery.StatePending,
		MaxAttempts:   5,
		NextAttemptAt: due,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func TestEnqueueDuplicate(t *testing.T) {
	s := New()
	if err := s.EnqueueJob(ctx(), newJob("a", t0)); err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueJob(ctx(), newJob("a", t0)); !errors.Is(err, errs.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestDequeueOrderAndLease(t *testing.T) {
	c := &clock{now: t0}
	s := New(WithClock(c.Now))

	for _, j := range []*delivery.Job{
		newJob("late", t0.Add(-time.Second)),
		newJob("early", t0.Add(-time.Minute)),
		newJob("future", t0.Add(time.Hour)),
	} {
		if err := s.EnqueueJob(ctx(), j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.DequeueJobs(ctx(), 10, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 due jobs, got %d", len(got))
	}
	if got[0].ID != "early" || got[1].ID != "late" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].State != delivery.StateActive || got[0].LockedUntil == nil {
		t.Fatalf("expected active leased job, got %+v", got[0])
	}

	// Leased jobs stay invisible.
	again, _ := s.DequeueJobs(ctx(), 10, 30*time.Second)
	if len(again) != 0 {
		t.Fatalf("expected no jobs while leased, got %d", len(again))
	}

	// An expired lease makes the job claimable again.
	c.now = t0.Add(time.Minute)
	again, _ = s.DequeueJobs(ctx(), 10, 30*time.Second)
	if len(again) != 2 {
		t.Fatalf("expected 2 reclaimed jobs, got %d", len(again))
	}
}

func TestDequeueLimit(t *testing.T) {
	s := New(WithClock(func() time.Time { return t0 }))
	for _, n := range []string{"a", "b", "c"} {
		_ = s.EnqueueJob(ctx(), newJob(n, t0))
	}
	got, _ := s.DequeueJobs(ctx(), 2, time.Minute)
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
}

func TestResetJob(t *testing.T) {
	c := &clock{now: t0}
	s := New(WithClock(c.Now))
	_ = s.EnqueueJob(ctx(), newJob("a", t0))

	if _, err := s.ResetJob(ctx(), "missing", t0); !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := s.DequeueJobs(ctx(), 1, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ResetJob(ctx(), "a", t0); !errors.Is(err, errs.ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}

	j, _ := s.GetJob(ctx(), "a")
	j.State = delivery.StateFailed
	j.AttemptsMade = 5
	j.LockedUntil = nil
	j.LastError = "boom"
	j.CompletedAt = &t0
	if err := s.UpdateJob(ctx(), j); err != nil {
		t.Fatal(err)
	}

	at := t0.Add(time.Minute)
	reset, err := s.ResetJob(ctx(), "a", at)
	if err != nil {
		t.Fatal(err)
	}
	if reset.State != delivery.StatePending || reset.AttemptsMade != 0 || reset.LastError != "" || reset.CompletedAt != nil {
		t.Fatalf("job not reset: %+v", reset)
	}
	if !reset.NextAttemptAt.Equal(at) {
		t.Fatalf("expected due at %v, got %v", at, reset.NextAttemptAt)
	}
}

func TestCountJobs(t *testing.T) {
	s := New(WithClock(func() time.Time { return t0 }))
	_ = s.EnqueueJob(ctx(), newJob("waiting", t0))
	_ = s.EnqueueJob(ctx(), newJob("delayed", t0.Add(time.Hour)))

	done := newJob("done", t0)
	done.State = delivery.StateCompleted
	_ = s.EnqueueJob(ctx(), done)

	failed := newJob("failed", t0)
	failed.State = delivery.StateFailed
	_ = s.EnqueueJob(ctx(), failed)

	c, err := s.CountJobs(ctx())
	if err != nil {
		t.Fatal(err)
	}
	want := delivery.JobCounts{Waiting: 1, Delayed: 1, Completed: 1, Failed: 1}
	if c != want {
		t.Fatalf("got %+v, want %+v", c, want)
	}
}

func TestJobCopyOnRead(t *testing.T) {
	s := New()
	_ = s.EnqueueJob(ctx(), newJob("a", t0))

	j, _ := s.GetJob(ctx(), "a")
	j.Payload.Amount = "999"

	again, _ := s.GetJob(ctx(), "a")
	if again.Payload.Amount != "10.00" {
		t.Fatalf("stored payload mutated: %q", again.Payload.Amount)
	}
}

// ──────────────────────────────────────────────────
// record.Store
// ──────────────────────────────────────────────────

func TestRecordCRUD(t *testing.T) {
	s := New()
	r := record.New("j1", "m1", "https://example.com", payload("tx1"), 5, t0)

	if err := s.CreateRecord(ctx(), r); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRecord(ctx(), r); !errors.Is(err, errs.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetRecord(ctx(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	if err := got.Complete(1, t0); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRecord(ctx(), got); err != nil {
		t.Fatal(err)
	}

	got, _ = s.GetRecord(ctx(), "j1")
	if got.Status != record.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}

	if _, err := s.GetRecord(ctx(), "nope"); !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListRecordsOrdering(t *testing.T) {
	s := New()

	for i, tx := range []string{"a", "b", "c"} {
		r := record.New("f-"+tx, "m1", "https://example.com", payload(tx), 5, t0)
		_ = r.Fail(5, "boom", t0.Add(time.Duration(i)*time.Minute))
		_ = s.CreateRecord(ctx(), r)
	}
	for i, tx := range []string{"x", "y"} {
		r := record.New("p-"+tx, "m2", "https://example.com", payload(tx), 5, t0.Add(-time.Duration(i)*time.Minute))
		_ = s.CreateRecord(ctx(), r)
	}

	failed, _ := s.ListRecords(ctx(), record.ListOpts{Status: record.StatusFailed})
	if len(failed) != 3 || failed[0].JobID != "f-c" || failed[2].JobID != "f-a" {
		t.Fatalf("failed not newest first: %v", jobIDs(failed))
	}

	pending, _ := s.ListRecords(ctx(), record.ListOpts{Status: record.StatusPending})
	if len(pending) != 2 || pending[0].JobID != "p-y" {
		t.Fatalf("pending not soonest first: %v", jobIDs(pending))
	}

	page, _ := s.ListRecords(ctx(), record.ListOpts{Status: record.StatusFailed, Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].JobID != "f-b" {
		t.Fatalf("unexpected page: %v", jobIDs(page))
	}

	m2, _ := s.ListRecords(ctx(), record.ListOpts{MerchantID: "m2"})
	if len(m2) != 2 {
		t.Fatalf("expected 2 for m2, got %d", len(m2))
	}
}

func TestCountRecordsByStatus(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		r := record.New("c"+string(rune('a'+i)), "m1", "https://example.com", payload("tx"), 5, t0)
		_ = r.Complete(1, t0)
		_ = s.CreateRecord(ctx(), r)
	}
	for i := 0; i < 2; i++ {
		r := record.New("f"+string(rune('a'+i)), "m1", "https://example.com", payload("tx"), 5, t0)
		_ = r.Fail(5, "boom", t0)
		_ = s.CreateRecord(ctx(), r)
	}
	_ = s.CreateRecord(ctx(), record.New("other", "m2", "https://example.com", payload("tx"), 5, t0))

	c, err := s.CountRecordsByStatus(ctx(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Completed != 5 || c.Failed != 2 || c.Pending != 0 || c.Total() != 7 {
		t.Fatalf("unexpected counts %+v", c)
	}

	all, _ := s.CountRecordsByStatus(ctx(), "")
	if all.Total() != 8 {
		t.Fatalf("expected 8 records overall, got %d", all.Total())
	}
}

func jobIDs(rs []*record.DeliveryEvent) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.JobID
	}
	return out
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

func newEndpoint(merchantID string, enabled bool, created time.Time) *endpoint.Endpoint {
	return &endpoint.Endpoint{
		Entity:     entity.Entity{CreatedAt: created, UpdatedAt: created},
		ID:         id.NewEndpointID(),
		MerchantID: merchantID,
		URL:        "https://example.com/hook",
		Secret:     "whsec_test",
		Enabled:    enabled,
		Metadata:   map[string]string{"team": "payments"},
	}
}

func TestEndpointCRUD(t *testing.T) {
	s := New()
	ep := newEndpoint("m1", true, t0)

	if err := s.CreateEndpoint(ctx(), ep); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEndpoint(ctx(), ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Metadata["team"] = "changed"

	again, _ := s.GetEndpoint(ctx(), ep.ID)
	if again.Metadata["team"] != "payments" {
		t.Fatal("metadata shared with caller")
	}

	got.URL = "https://example.com/v2"
	if err := s.UpdateEndpoint(ctx(), got); err != nil {
		t.Fatal(err)
	}
	again, _ = s.GetEndpoint(ctx(), ep.ID)
	if again.URL != "https://example.com/v2" {
		t.Fatalf("update lost: %s", again.URL)
	}

	if err := s.DeleteEndpoint(ctx(), ep.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetEndpoint(ctx(), ep.ID); !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.DeleteEndpoint(ctx(), ep.ID); !errs.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestActiveEndpoint(t *testing.T) {
	s := New()
	old := newEndpoint("m1", true, t0)
	newer := newEndpoint("m1", true, t0.Add(time.Minute))
	disabled := newEndpoint("m1", false, t0.Add(time.Hour))
	for _, ep := range []*endpoint.Endpoint{old, newer, disabled} {
		_ = s.CreateEndpoint(ctx(), ep)
	}

	got, err := s.ActiveEndpoint(ctx(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != newer.ID.String() {
		t.Fatalf("expected newest enabled endpoint, got %s", got.ID)
	}

	if _, err := s.ActiveEndpoint(ctx(), "m2"); !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.SetEnabled(ctx(), newer.ID, false); err != nil {
		t.Fatal(err)
	}
	got, _ = s.ActiveEndpoint(ctx(), "m1")
	if got.ID.String() != old.ID.String() {
		t.Fatalf("expected fallback to older endpoint, got %s", got.ID)
	}

	enabled := false
	list, _ := s.ListEndpoints(ctx(), "m1", endpoint.ListOpts{Enabled: &enabled})
	if len(list) != 2 {
		t.Fatalf("expected 2 disabled endpoints, got %d", len(list))
	}
}

// ──────────────────────────────────────────────────
// alert.Store
// ──────────────────────────────────────────────────

func newAlert(merchantID string, at time.Time) *alert.Alert {
	return &alert.Alert{
		Entity:     entity.New(),
		ID:         id.NewAlertID(),
		MerchantID: merchantID,
		JobID:      "job-" + merchantID,
		Error:      "HTTP 500",
		Timestamp:  at,
	}
}

func TestAlerts(t *testing.T) {
	s := New()
	a1 := newAlert("m1", t0)
	a2 := newAlert("m1", t0.Add(time.Minute))
	a3 := newAlert("m2", t0.Add(2*time.Minute))
	for _, a := range []*alert.Alert{a1, a2, a3} {
		if err := s.PushAlert(ctx(), a); err != nil {
			t.Fatal(err)
		}
	}

	list, _ := s.ListAlerts(ctx(), alert.ListOpts{})
	if len(list) != 3 || list[0].ID.String() != a3.ID.String() {
		t.Fatal("alerts not newest first")
	}

	if err := s.AcknowledgeAlert(ctx(), a1.ID, t0); err != nil {
		t.Fatal(err)
	}
	n, _ := s.CountAlerts(ctx(), alert.ListOpts{MerchantID: "m1", Unacknowledged: true})
	if n != 1 {
		t.Fatalf("expected 1 unacknowledged for m1, got %d", n)
	}

	if err := s.ReplayedAlert(ctx(), a2.ID, t0); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetAlert(ctx(), a2.ID)
	if got.ReplayedAt == nil {
		t.Fatal("expected replayedAt")
	}

	purged, _ := s.PurgeAlerts(ctx(), t0.Add(90*time.Second))
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}
	if err := s.AcknowledgeAlert(ctx(), a1.ID, t0); !errs.IsNotFound(err) {
		t.Fatalf("expected not found after purge, got %v", err)
	}
}
