package record_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/record"
)

func newRecord() *record.DeliveryEvent {
	return record.New("m1_tx1_1", "m1", "https://m.test/hook",
		&event.Payload{TransactionID: "tx1"}, 5, time.Now().Add(5*time.Second))
}

func TestNewIsPending(t *testing.T) {
	r := newRecord()
	if r.Status != record.StatusPending || r.AttemptsMade != 0 || r.NextRetry == nil {
		t.Fatalf("unexpected initial record %+v", r)
	}
	if r.CompletedAt != nil {
		t.Error("completedAt set on new record")
	}
}

func TestTerminalStatesAreSticky(t *testing.T) {
	r := newRecord()
	now := time.Now()

	if err := r.Reschedule(1, "HTTP 500", now.Add(5*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete(2, now); err != nil {
		t.Fatal(err)
	}
	if r.NextRetry != nil || r.CompletedAt == nil || r.Error != "" {
		t.Fatalf("complete did not clear retry state: %+v", r)
	}

	for name, fn := range map[string]func() error{
		"reschedule": func() error { return r.Reschedule(3, "x", now) },
		"fail":       func() error { return r.Fail(3, "x", now) },
		"complete":   func() error { return r.Complete(3, now) },
	} {
		if err := fn(); !errors.Is(err, errs.ErrInvalidTransition) {
			t.Errorf("%s after COMPLETED: got %v", name, err)
		}
	}
	if r.Status != record.StatusCompleted || r.AttemptsMade != 2 {
		t.Errorf("rejected transition mutated record: %+v", r)
	}
}

func TestReopenAfterFailure(t *testing.T) {
	r := newRecord()
	now := time.Now()
	if err := r.Fail(5, "HTTP 503", now); err != nil {
		t.Fatal(err)
	}

	r.Reopen(now)
	if r.Status != record.StatusPending || r.AttemptsMade != 0 || r.Error != "" || r.CompletedAt != nil {
		t.Fatalf("reopen left stale state: %+v", r)
	}
	if r.NextRetry == nil || !r.NextRetry.Equal(now.UTC()) {
		t.Errorf("nextRetry = %v, want %v", r.NextRetry, now)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	p := &event.Payload{TransactionID: "tx1", Metadata: map[string]any{"a": 1}}
	r := record.New("j", "m", "https://x.test", p, 5, time.Now())
	p.Metadata["a"] = 2
	p.Nonce = "n"

	if r.Payload.Metadata["a"] != 1 || r.Payload.Nonce != "" {
		t.Error("record payload shares state with caller")
	}
}

func TestListOptsNormalize(t *testing.T) {
	o := record.ListOpts{Offset: -3}.Normalize()
	if o.Limit != 10 || o.Offset != 0 {
		t.Errorf("Normalize() = %+v", o)
	}
}
