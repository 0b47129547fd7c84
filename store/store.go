// Package store defines the aggregate persistence interface. Each subsystem
// declares its own store contract and the backends under store/ implement
// all of them.
package store

import (
	"context"
	"errors"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/record"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("payhook: store is closed")

// Store is the aggregate persistence interface.
type Store interface {
	delivery.Store
	record.Store
	endpoint.Store
	alert.Store

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
