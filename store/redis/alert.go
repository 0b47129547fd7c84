package redis

import (
	"context"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
)

// alertModel is the JSON representation stored in Redis.
type alertModel struct {
	ID             string     `json:"id"`
	MerchantID     string     `json:"merchant_id"`
	WebhookURL     string     `json:"webhook_url"`
	TransactionID  string     `json:"transaction_id"`
	Error          string     `json:"error"`
	AttemptNumber  int        `json:"attempt_number"`
	JobID          string     `json:"job_id"`
	RaisedAt       time.Time  `json:"raised_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ReplayedAt     *time.Time `json:"replayed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toAlertModel(a *alert.Alert) *alertModel {
	return &alertModel{
		ID:             a.ID.String(),
		MerchantID:     a.MerchantID,
		WebhookURL:     a.WebhookURL,
		TransactionID:  a.TransactionID,
		Error:          a.Error,
		AttemptNumber:  a.AttemptNumber,
		JobID:          a.JobID,
		RaisedAt:       a.Timestamp,
		AcknowledgedAt: a.AcknowledgedAt,
		ReplayedAt:     a.ReplayedAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAlertModel(m *alertModel) (*alert.Alert, error) {
	alertID, err := id.ParseAlertID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse alert ID %q: %w", m.ID, err)
	}
	return &alert.Alert{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             alertID,
		MerchantID:     m.MerchantID,
		WebhookURL:     m.WebhookURL,
		TransactionID:  m.TransactionID,
		Error:          m.Error,
		AttemptNumber:  m.AttemptNumber,
		JobID:          m.JobID,
		Timestamp:      m.RaisedAt,
		AcknowledgedAt: m.AcknowledgedAt,
		ReplayedAt:     m.ReplayedAt,
	}, nil
}

// PushAlert stores an alert.
func (s *Store) PushAlert(ctx context.Context, a *alert.Alert) error {
	m := toAlertModel(a)

	if err := s.setEntity(ctx, entityKey(prefixAlert, m.ID), m); err != nil {
		return fmt.Errorf("payhook/redis: push alert: %w", err)
	}

	score := scoreFromTime(m.RaisedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zAlertAll, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, zAlertMerchant+m.MerchantID, goredis.Z{Score: score, Member: m.ID})
	if m.AcknowledgedAt == nil {
		pipe.SAdd(ctx, sAlertUnackedAll, m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("payhook/redis: push alert indexes: %w", err)
	}
	return nil
}

// GetAlert returns an alert by ID.
func (s *Store) GetAlert(ctx context.Context, alertID id.ID) (*alert.Alert, error) {
	var m alertModel
	if err := s.getEntity(ctx, entityKey(prefixAlert, alertID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, errs.NotFound("alert", alertID.String())
		}
		return nil, fmt.Errorf("payhook/redis: get alert: %w", err)
	}
	return fromAlertModel(&m)
}

// filterAlerts returns matching alerts, newest first.
func (s *Store) filterAlerts(ctx context.Context, opts alert.ListOpts) ([]*alert.Alert, error) {
	key := zAlertAll
	if opts.MerchantID != "" {
		key = zAlertMerchant + opts.MerchantID
	}

	ids, err := s.rdb.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	models, err := loadAll[alertModel](ctx, s, prefixAlert, ids)
	if err != nil {
		return nil, err
	}

	result := make([]*alert.Alert, 0, len(models))
	for _, m := range models {
		if opts.Unacknowledged && m.AcknowledgedAt != nil {
			continue
		}
		a, err := fromAlertModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, opts alert.ListOpts) ([]*alert.Alert, error) {
	result, err := s.filterAlerts(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("payhook/redis: list alerts: %w", err)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// AcknowledgeAlert stamps acknowledged_at.
func (s *Store) AcknowledgeAlert(ctx context.Context, alertID id.ID, at time.Time) error {
	return s.stampAlert(ctx, alertID, func(m *alertModel) {
		m.AcknowledgedAt = &at
		s.rdb.SRem(ctx, sAlertUnackedAll, m.ID)
	})
}

// ReplayedAlert stamps replayed_at.
func (s *Store) ReplayedAlert(ctx context.Context, alertID id.ID, at time.Time) error {
	return s.stampAlert(ctx, alertID, func(m *alertModel) {
		m.ReplayedAt = &at
	})
}

func (s *Store) stampAlert(ctx context.Context, alertID id.ID, stamp func(*alertModel)) error {
	key := entityKey(prefixAlert, alertID.String())

	var m alertModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return errs.NotFound("alert", alertID.String())
		}
		return fmt.Errorf("payhook/redis: stamp alert get: %w", err)
	}

	stamp(&m)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("payhook/redis: stamp alert: %w", err)
	}
	return nil
}

// PurgeAlerts deletes alerts raised before the cutoff.
func (s *Store) PurgeAlerts(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zAlertAll, math.Inf(-1), scoreFromTime(before)-1)
	if err != nil {
		return 0, fmt.Errorf("payhook/redis: purge alerts: %w", err)
	}
	models, err := loadAll[alertModel](ctx, s, prefixAlert, ids)
	if err != nil {
		return 0, fmt.Errorf("payhook/redis: purge alerts: %w", err)
	}

	pipe := s.rdb.Pipeline()
	for _, m := range models {
		pipe.Del(ctx, entityKey(prefixAlert, m.ID))
		pipe.ZRem(ctx, zAlertAll, m.ID)
		pipe.ZRem(ctx, zAlertMerchant+m.MerchantID, m.ID)
		pipe.SRem(ctx, sAlertUnackedAll, m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("payhook/redis: purge alerts: %w", err)
	}
	return int64(len(models)), nil
}

// CountAlerts counts alerts matching opts.
func (s *Store) CountAlerts(ctx context.Context, opts alert.ListOpts) (int64, error) {
	switch {
	case opts.MerchantID == "" && opts.Unacknowledged:
		return s.rdb.SCard(ctx, sAlertUnackedAll).Result()
	case opts.MerchantID == "":
		return s.rdb.ZCard(ctx, zAlertAll).Result()
	}
	result, err := s.filterAlerts(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("payhook/redis: count alerts: %w", err)
	}
	return int64(len(result)), nil
}
