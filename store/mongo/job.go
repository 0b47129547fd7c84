package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/errs"
)

// EnqueueJob inserts a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *delivery.Job) error {
	if _, err := s.mdb.NewInsert(toJobModel(j)).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return errs.ErrDuplicate
		}
		return fmt.Errorf("payhook/mongo: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs, one FindOneAndUpdate each so no
// two engines claim the same document.
func (s *Store) DequeueJobs(ctx context.Context, limit int, lease time.Duration) ([]*delivery.Job, error) {
	result := make([]*delivery.Job, 0, limit)
	t := now()
	until := t.Add(lease)
	col := s.mdb.Collection(colJobs)

	filter := bson.M{
		"$or": bson.A{
			bson.M{"state": string(delivery.StatePending), "next_attempt_at": bson.M{"$lte": t}},
			bson.M{"state": string(delivery.StateActive), "locked_until": bson.M{"$lte": t}},
			bson.M{"state": string(delivery.StateActive), "locked_until": nil},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"state":        string(delivery.StateActive),
			"locked_until": until,
			"updated_at":   t,
		},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "next_attempt_at", Value: 1}})

	for range limit {
		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("payhook/mongo: dequeue: %w", err)
		}

		j, err := fromJobModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, nil
}

// UpdateJob replaces a job.
func (s *Store) UpdateJob(ctx context.Context, j *delivery.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("payhook/mongo: update job: %w", err)
	}
	if res.MatchedCount() == 0 {
		return errs.NotFound("job", j.ID)
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*delivery.Job, error) {
	var m jobModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": jobID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, errs.NotFound("job", jobID)
		}
		return nil, fmt.Errorf("payhook/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ResetJob re-opens a job no engine holds.
func (s *Store) ResetJob(ctx context.Context, jobID string, at time.Time) (*delivery.Job, error) {
	filter := bson.M{
		"_id": jobID,
		"$nor": bson.A{
			bson.M{"state": string(delivery.StateActive), "locked_until": bson.M{"$gt": now()}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"state":            string(delivery.StatePending),
			"attempts_made":    0,
			"next_attempt_at":  at,
			"last_error":       "",
			"last_status_code": 0,
			"updated_at":       at,
		},
		"$unset": bson.M{"locked_until": "", "completed_at": ""},
	}

	var m jobModel
	err := s.mdb.Collection(colJobs).
		FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&m)
	if err != nil {
		if !isNoDocuments(err) {
			return nil, fmt.Errorf("payhook/mongo: reset job: %w", err)
		}
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return nil, getErr
		}
		return nil, errs.ErrJobActive
	}
	return fromJobModel(&m)
}

// CountJobs tallies jobs by state.
func (s *Store) CountJobs(ctx context.Context) (delivery.JobCounts, error) {
	t := now()
	var c delivery.JobCounts
	counts := []struct {
		dst    *int
		filter bson.M
	}{
		{&c.Active, bson.M{"state": string(delivery.StateActive)}},
		{&c.Waiting, bson.M{"state": string(delivery.StatePending), "next_attempt_at": bson.M{"$lte": t}}},
		{&c.Delayed, bson.M{"state": string(delivery.StatePending), "next_attempt_at": bson.M{"$gt": t}}},
		{&c.Completed, bson.M{"state": string(delivery.StateCompleted)}},
		{&c.Failed, bson.M{"state": string(delivery.StateFailed)}},
	}
	for _, q := range counts {
		n, err := s.mdb.NewFind((*jobModel)(nil)).Filter(q.filter).Count(ctx)
		if err != nil {
			return c, fmt.Errorf("payhook/mongo: count jobs: %w", err)
		}
		*q.dst = int(n)
	}
	return c, nil
}
