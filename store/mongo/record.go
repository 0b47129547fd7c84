package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/record"
)

// CreateRecord inserts a new delivery record.
func (s *Store) CreateRecord(ctx context.Context, r *record.DeliveryEvent) error {
	if _, err := s.mdb.NewInsert(toRecordModel(r)).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return errs.ErrDuplicate
		}
		return fmt.Errorf("payhook/mongo: create record: %w", err)
	}
	return nil
}

// GetRecord returns a record by job id.
func (s *Store) GetRecord(ctx context.Context, jobID string) (*record.DeliveryEvent, error) {
	var m recordModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": jobID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, errs.NotFound("record", jobID)
		}
		return nil, fmt.Errorf("payhook/mongo: get record: %w", err)
	}
	return fromRecordModel(&m)
}

// UpdateRecord replaces a record.
func (s *Store) UpdateRecord(ctx context.Context, r *record.DeliveryEvent) error {
	m := toRecordModel(r)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.JobID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("payhook/mongo: update record: %w", err)
	}
	if res.MatchedCount() == 0 {
		return errs.NotFound("record", r.JobID)
	}
	return nil
}

// ListRecords filters, orders and paginates records.
func (s *Store) ListRecords(ctx context.Context, opts record.ListOpts) ([]*record.DeliveryEvent, error) {
	var models []recordModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.MerchantID != "" {
		filter["merchant_id"] = opts.MerchantID
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(recordSort(opts.Status))
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("payhook/mongo: list records: %w", err)
	}

	result := make([]*record.DeliveryEvent, 0, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

func recordSort(status record.Status) bson.D {
	switch status {
	case record.StatusFailed:
		return bson.D{{Key: "completed_at", Value: -1}}
	case record.StatusPending:
		return bson.D{{Key: "next_retry", Value: 1}}
	default:
		return bson.D{{Key: "created_at", Value: -1}}
	}
}

// CountRecordsByStatus groups records by status.
func (s *Store) CountRecordsByStatus(ctx context.Context, merchantID string) (record.StatusCounts, error) {
	var c record.StatusCounts
	for _, st := range []record.Status{record.StatusPending, record.StatusCompleted, record.StatusFailed} {
		filter := bson.M{"status": string(st)}
		if merchantID != "" {
			filter["merchant_id"] = merchantID
		}
		n, err := s.mdb.NewFind((*recordModel)(nil)).Filter(filter).Count(ctx)
		if err != nil {
			return c, fmt.Errorf("payhook/mongo: count records: %w", err)
		}
		c.Add(st, int(n))
	}
	return c, nil
}
