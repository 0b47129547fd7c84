package payhook

import (
	"errors"

	"github.com/xraph/payhook/errs"
)

// Sentinel errors returned by New.
var (
	// ErrNoStore is returned when a Payhook is created without a store.
	ErrNoStore = errors.New("payhook: store is required")

	// ErrNoMerchants is returned when a Payhook is created without a
	// merchant lookup.
	ErrNoMerchants = errors.New("payhook: merchant lookup is required")
)

// Re-exported so callers of the facade need not import errs.
var (
	ErrValidation = errs.ErrValidation
	ErrTimestamp  = errs.ErrTimestamp
	ErrNotFound   = errs.ErrNotFound
	ErrDelivery   = errs.ErrDelivery
	ErrJobActive  = errs.ErrJobActive
)
