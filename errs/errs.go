// Package errs defines the error taxonomy shared by every payhook package.
//
// Sentinel values are matched with errors.Is; the typed errors carry detail
// and unwrap to their sentinel so callers can use either style.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrValidation marks malformed payloads, URLs and inputs.
	ErrValidation = errors.New("payhook: validation failed")

	// ErrTimestamp marks stale or future-dated payloads.
	ErrTimestamp = errors.New("payhook: timestamp outside tolerance")

	// ErrNotFound marks unknown jobs, records, merchants and endpoints.
	ErrNotFound = errors.New("payhook: not found")

	// ErrDelivery marks network failures, timeouts and non-2xx responses.
	ErrDelivery = errors.New("payhook: delivery failed")

	// ErrDuplicate is returned when a job or record id already exists.
	ErrDuplicate = errors.New("payhook: duplicate id")

	// ErrJobActive is returned when a manual retry targets a job that is
	// currently being attempted.
	ErrJobActive = errors.New("payhook: job attempt in progress")

	// ErrInvalidTransition is returned when a record status change would
	// leave a terminal state without a manual retry.
	ErrInvalidTransition = errors.New("payhook: invalid status transition")
)

// ValidationError indicates invalid input on a named field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Field + ": " + e.Message
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TimestampError reports a payload timestamp outside the freshness window.
type TimestampError struct {
	Timestamp time.Time
	Skew      time.Duration
	Tolerance time.Duration
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("timestamp %s is %s from now (tolerance %s)",
		e.Timestamp.Format(time.RFC3339), e.Skew.Round(time.Millisecond), e.Tolerance)
}

// Unwrap returns ErrTimestamp.
func (e *TimestampError) Unwrap() error { return ErrTimestamp }

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " " + e.ID + " not found"
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound is shorthand for a *NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// DeliveryError describes a failed outbound call. StatusCode is zero for
// network errors and timeouts.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		if e.Err != nil {
			return fmt.Sprintf("delivery: HTTP %d: %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("delivery: HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		return "delivery: " + e.Err.Error()
	}
	return "delivery failed"
}

// Unwrap returns both ErrDelivery and the underlying cause.
func (e *DeliveryError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDelivery}
	}
	return []error{ErrDelivery, e.Err}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is a validation or timestamp error.
// Both are caller mistakes and map to the same client-facing class.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrTimestamp)
}
