// Package mongo implements store.Store on MongoDB through the grove ORM.
// Jobs are claimed one document at a time with FindOneAndUpdate.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/payhook/store"
)

// Collection name constants.
const (
	colJobs      = "payhook_jobs"
	colRecords   = "payhook_delivery_events"
	colEndpoints = "payhook_endpoints"
	colAlerts    = "payhook_alerts"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all payhook collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("payhook/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colJobs: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "next_attempt_at", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "locked_until", Value: 1}}},
		},
		colRecords: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "completed_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry", Value: 1}}},
			{Keys: bson.D{{Key: "merchant_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		colEndpoints: {
			{Keys: bson.D{{Key: "merchant_id", Value: 1}, {Key: "enabled", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colAlerts: {
			{Keys: bson.D{{Key: "raised_at", Value: -1}}},
			{Keys: bson.D{{Key: "merchant_id", Value: 1}, {Key: "acknowledged_at", Value: 1}}},
		},
	}
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
