package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/internal/entity"
	"github.com/xraph/payhook/record"
)

// recordModel is the JSON representation stored in Redis.
type recordModel struct {
	JobID        string         `json:"job_id"`
	MerchantID   string         `json:"merchant_id"`
	WebhookURL   string         `json:"webhook_url"`
	Payload      *event.Payload `json:"payload"`
	Status       string         `json:"status"`
	Error        string         `json:"error"`
	AttemptsMade int            `json:"attempts_made"`
	MaxAttempts  int            `json:"max_attempts"`
	NextRetry    *time.Time     `json:"next_retry,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func toRecordModel(r *record.DeliveryEvent) *recordModel {
	return &recordModel{
		JobID:        r.JobID,
		MerchantID:   r.MerchantID,
		WebhookURL:   r.WebhookURL,
		Payload:      r.Payload,
		Status:       string(r.Status),
		Error:        r.Error,
		AttemptsMade: r.AttemptsMade,
		MaxAttempts:  r.MaxAttempts,
		NextRetry:    r.NextRetry,
		CompletedAt:  r.CompletedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func fromRecordModel(m *recordModel) *record.DeliveryEvent {
	return &record.DeliveryEvent{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		JobID:        m.JobID,
		MerchantID:   m.MerchantID,
		WebhookURL:   m.WebhookURL,
		Payload:      m.Payload,
		Status:       record.Status(m.Status),
		Error:        m.Error,
		AttemptsMade: m.AttemptsMade,
		MaxAttempts:  m.MaxAttempts,
		NextRetry:    m.NextRetry,
		CompletedAt:  m.CompletedAt,
	}
}

// statusScore is the sort key of a record inside its status index.
func statusScore(m *recordModel) float64 {
	switch record.Status(m.Status) {
	case record.StatusFailed:
		if m.CompletedAt != nil {
			return scoreFromTime(*m.CompletedAt)
		}
	case record.StatusPending:
		if m.NextRetry != nil {
			return scoreFromTime(*m.NextRetry)
		}
	}
	return scoreFromTime(m.CreatedAt)
}

// CreateRecord stores a new delivery record.
func (s *Store) CreateRecord(ctx context.Context, r *record.DeliveryEvent) error {
	m := toRecordModel(r)

	ok, err := s.rdb.SetNX(ctx, uniqueRecord+m.JobID, 1, 0).Result()
	if err != nil {
		return fmt.Errorf("payhook/redis: create record unique: %w", err)
	}
	if !ok {
		return errs.ErrDuplicate
	}

	if err := s.setEntity(ctx, entityKey(prefixRecord, m.JobID), m); err != nil {
		return fmt.Errorf("payhook/redis: create record: %w", err)
	}

	created := scoreFromTime(m.CreatedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zRecordAll, goredis.Z{Score: created, Member: m.JobID})
	pipe.ZAdd(ctx, zRecordMerchant+m.MerchantID, goredis.Z{Score: created, Member: m.JobID})
	pipe.ZAdd(ctx, zRecordStatus+m.Status, goredis.Z{Score: statusScore(m), Member: m.JobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("payhook/redis: create record indexes: %w", err)
	}
	return nil
}

// GetRecord returns a record by job id.
func (s *Store) GetRecord(ctx context.Context, jobID string) (*record.DeliveryEvent, error) {
	var m recordModel
	if err := s.getEntity(ctx, entityKey(prefixRecord, jobID), &m); err != nil {
		if isNotFound(err) {
			return nil, errs.NotFound("record", jobID)
		}
		return nil, fmt.Errorf("payhook/redis: get record: %w", err)
	}
	return fromRecordModel(&m), nil
}

// UpdateRecord replaces a record and re-files it under its status.
func (s *Store) UpdateRecord(ctx context.Context, r *record.DeliveryEvent) error {
	key := entityKey(prefixRecord, r.JobID)

	var existing recordModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return errs.NotFound("record", r.JobID)
		}
		return fmt.Errorf("payhook/redis: update record get: %w", err)
	}

	m := toRecordModel(r)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("payhook/redis: update record: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zRecordStatus+existing.Status, m.JobID)
	pipe.ZAdd(ctx, zRecordStatus+m.Status, goredis.Z{Score: statusScore(m), Member: m.JobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("payhook/redis: update record indexes: %w", err)
	}
	return nil
}

// ListRecords filters, orders and paginates records.
func (s *Store) ListRecords(ctx context.Context, opts record.ListOpts) ([]*record.DeliveryEvent, error) {
	key := zRecordAll
	switch {
	case opts.Status != "":
		key = zRecordStatus + string(opts.Status)
	case opts.MerchantID != "":
		key = zRecordMerchant + opts.MerchantID
	}

	var (
		ids []string
		err error
	)
	if opts.Status == record.StatusPending {
		ids, err = s.rdb.ZRange(ctx, key, 0, -1).Result()
	} else {
		ids, err = s.rdb.ZRevRange(ctx, key, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("payhook/redis: list records: %w", err)
	}

	models, err := loadAll[recordModel](ctx, s, prefixRecord, ids)
	if err != nil {
		return nil, fmt.Errorf("payhook/redis: list records: %w", err)
	}

	result := make([]*record.DeliveryEvent, 0, len(models))
	for _, m := range models {
		if opts.MerchantID != "" && m.MerchantID != opts.MerchantID {
			continue
		}
		result = append(result, fromRecordModel(m))
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountRecordsByStatus groups records by status.
func (s *Store) CountRecordsByStatus(ctx context.Context, merchantID string) (record.StatusCounts, error) {
	var c record.StatusCounts
	statuses := []record.Status{record.StatusPending, record.StatusCompleted, record.StatusFailed}

	if merchantID == "" {
		pipe := s.rdb.Pipeline()
		cards := make([]*goredis.IntCmd, len(statuses))
		for i, st := range statuses {
			cards[i] = pipe.ZCard(ctx, zRecordStatus+string(st))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return c, fmt.Errorf("payhook/redis: count records: %w", err)
		}
		for i, st := range statuses {
			c.Add(st, int(cards[i].Val()))
		}
		return c, nil
	}

	ids, err := s.rdb.ZRange(ctx, zRecordMerchant+merchantID, 0, -1).Result()
	if err != nil {
		return c, fmt.Errorf("payhook/redis: count records: %w", err)
	}
	models, err := loadAll[recordModel](ctx, s, prefixRecord, ids)
	if err != nil {
		return c, fmt.Errorf("payhook/redis: count records: %w", err)
	}
	for _, m := range models {
		c.Add(record.Status(m.Status), 1)
	}
	return c, nil
}
