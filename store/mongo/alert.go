package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/id"
)

// PushAlert stores an alert.
func (s *Store) PushAlert(ctx context.Context, a *alert.Alert) error {
	if _, err := s.mdb.NewInsert(toAlertModel(a)).Exec(ctx); err != nil {
		return fmt.Errorf("payhook/mongo: push alert: %w", err)
	}
	return nil
}

// GetAlert returns an alert by ID.
func (s *Store) GetAlert(ctx context.Context, alertID id.ID) (*alert.Alert, error) {
	var m alertModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": alertID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, errs.NotFound("alert", alertID.String())
		}
		return nil, fmt.Errorf("payhook/mongo: get alert: %w", err)
	}
	return fromAlertModel(&m)
}

func alertFilter(opts alert.ListOpts) bson.M {
	filter := bson.M{}
	if opts.MerchantID != "" {
		filter["merchant_id"] = opts.MerchantID
	}
	if opts.Unacknowledged {
		filter["acknowledged_at"] = nil
	}
	return filter
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, opts alert.ListOpts) ([]*alert.Alert, error) {
	var models []alertModel

	q := s.mdb.NewFind(&models).
		Filter(alertFilter(opts)).
		Sort(bson.D{{Key: "raised_at", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("payhook/mongo: list alerts: %w", err)
	}

	result := make([]*alert.Alert, 0, len(models))
	for i := range models {
		a, err := fromAlertModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// AcknowledgeAlert stamps acknowledged_at.
func (s *Store) AcknowledgeAlert(ctx context.Context, alertID id.ID, at time.Time) error {
	return s.stampAlert(ctx, alertID, "acknowledged_at", at)
}

// ReplayedAlert stamps replayed_at.
func (s *Store) ReplayedAlert(ctx context.Context, alertID id.ID, at time.Time) error {
	return s.stampAlert(ctx, alertID, "replayed_at", at)
}

func (s *Store) stampAlert(ctx context.Context, alertID id.ID, field string, at time.Time) error {
	res, err := s.mdb.NewUpdate((*alertModel)(nil)).
		Filter(bson.M{"_id": alertID.String()}).
		Set(field, at).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("payhook/mongo: stamp alert: %w", err)
	}
	if res.MatchedCount() == 0 {
		return errs.NotFound("alert", alertID.String())
	}
	return nil
}

// PurgeAlerts deletes alerts raised before the cutoff.
func (s *Store) PurgeAlerts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*alertModel)(nil)).
		Many().
		Filter(bson.M{"raised_at": bson.M{"$lt": before}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("payhook/mongo: purge alerts: %w", err)
	}
	return res.DeletedCount(), nil
}

// CountAlerts counts alerts matching opts.
func (s *Store) CountAlerts(ctx context.Context, opts alert.ListOpts) (int64, error) {
	n, err := s.mdb.NewFind((*alertModel)(nil)).
		Filter(alertFilter(opts)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("payhook/mongo: count alerts: %w", err)
	}
	return n, nil
}
