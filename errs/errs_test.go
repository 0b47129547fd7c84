package errs_test

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/xraph/payhook/errs"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", errs.Invalid("url", "must use https"), errs.ErrValidation},
		{"timestamp", &errs.TimestampError{Skew: 6 * time.Minute, Tolerance: 5 * time.Minute}, errs.ErrTimestamp},
		{"not found", errs.NotFound("job", "m_tx_1"), errs.ErrNotFound},
		{"delivery", &errs.DeliveryError{StatusCode: 503}, errs.ErrDelivery},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			if !errors.Is(wrapped, tc.sentinel) {
				t.Fatalf("expected %v to match %v", wrapped, tc.sentinel)
			}
		})
	}
}

func TestDeliveryErrorKeepsCause(t *testing.T) {
	cause := &net.OpError{Op: "dial", Err: errors.New("refused")}
	err := &errs.DeliveryError{Err: cause}

	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Fatal("expected errors.As to reach the cause")
	}
	if !errors.Is(err, errs.ErrDelivery) {
		t.Fatal("expected ErrDelivery")
	}
}

func TestIsValidationCoversTimestamp(t *testing.T) {
	if !errs.IsValidation(&errs.TimestampError{}) {
		t.Error("timestamp errors should be client errors")
	}
	if errs.IsValidation(errs.NotFound("job", "x")) {
		t.Error("not found is not a validation error")
	}
	if !errs.IsNotFound(fmt.Errorf("wrap: %w", errs.NotFound("merchant", "m1"))) {
		t.Error("expected IsNotFound through wrapping")
	}
}

func TestNotFoundMessage(t *testing.T) {
	err := errs.NotFound("job", "m1_tx1_1700000000000")
	if got, want := err.Error(), "job m1_tx1_1700000000000 not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
