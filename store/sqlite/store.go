// Package sqlite implements store.Store on SQLite through the grove ORM.
// SQLite serializes writers, so a single UPDATE ... RETURNING claims jobs
// atomically without row locks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // register sqlite migration executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/record"
	"github.com/xraph/payhook/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("payhook/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("payhook/sqlite: migration failed: %w", err)
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

// ==================== Job Store ====================

func (s *Store) EnqueueJob(ctx context.Context, j *delivery.Job) error {
	_, err := s.sdb.NewInsert(toJobModel(j)).Exec(ctx)
	if isDuplicateKey(err) {
		return errs.ErrDuplicate
	}
	return err
}

func (s *Store) DequeueJobs(ctx context.Context, limit int, lease time.Duration) ([]*delivery.Job, error) {
	now := time.Now().UTC()
	var models []jobModel
	err := s.sdb.NewRaw(`
		UPDATE payhook_jobs
		SET state = 'active', locked_until = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM payhook_jobs
			WHERE (state = 'pending' AND next_attempt_at <= ?)
			   OR (state = 'active' AND (locked_until IS NULL OR locked_until <= ?))
			ORDER BY next_attempt_at ASC
			LIMIT ?
		)
		RETURNING *
	`, now.Add(lease), now, now, now, limit).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("payhook/sqlite: dequeue jobs: %w", err)
	}
	return jobsFromModels(models)
}

func (s *Store) UpdateJob(ctx context.Context, j *delivery.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, "job", j.ID)
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*delivery.Job, error) {
	m := new(jobModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", jobID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, errs.NotFound("job", jobID)
		}
		return nil, err
	}
	return fromJobModel(m)
}

func (s *Store) ResetJob(ctx context.Context, jobID string, at time.Time) (*delivery.Job, error) {
	var models []jobModel
	err := s.sdb.NewRaw(`
		UPDATE payhook_jobs
		SET state = 'pending', attempts_made = 0, next_attempt_at = ?,
		    locked_until = NULL, last_error = '', last_status_code = 0,
		    completed_at = NULL, updated_at = ?
		WHERE id = ?
		  AND NOT (state = 'active' AND locked_until IS NOT NULL AND locked_until > ?)
		RETURNING *
	`, at, at, jobID, time.Now().UTC()).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("payhook/sqlite: reset job: %w", err)
	}
	if len(models) == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, errs.ErrJobActive
	}
	return fromJobModel(&models[0])
}

func (s *Store) CountJobs(ctx context.Context) (delivery.JobCounts, error) {
	now := time.Now().UTC()
	var (
		c   delivery.JobCounts
		err error
	)
	count := func(dst *int, where string, args ...any) {
		if err != nil {
			return
		}
		var n int64
		n, err = s.sdb.NewSelect((*jobModel)(nil)).Where(where, args...).Count(ctx)
		*dst = int(n)
	}
	count(&c.Active, "state = ?", string(delivery.StateActive))
	count(&c.Waiting, "state = ? AND next_attempt_at <= ?", string(delivery.StatePending), now)
	count(&c.Delayed, "state = ? AND next_attempt_at > ?", string(delivery.StatePending), now)
	count(&c.Completed, "state = ?", string(delivery.StateCompleted))
	count(&c.Failed, "state = ?", string(delivery.StateFailed))
	return c, err
}

func jobsFromModels(models []jobModel) ([]*delivery.Job, error) {
	result := make([]*delivery.Job, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = j
	}
	return result, nil
}

// ==================== Record Store ====================

func (s *Store) CreateRecord(ctx context.Context, r *record.DeliveryEvent) error {
	_, err := s.sdb.NewInsert(toRecordModel(r)).Exec(ctx)
	if isDuplicateKey(err) {
		return errs.ErrDuplicate
	}
	return err
}

func (s *Store) GetRecord(ctx context.Context, jobID string) (*record.DeliveryEvent, error) {
	m := new(recordModel)
	err := s.sdb.NewSelect(m).
		Where("job_id = ?", jobID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, errs.NotFound("record", jobID)
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) UpdateRecord(ctx context.Context, r *record.DeliveryEvent) error {
	m := toRecordModel(r)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, "record", r.JobID)
}

func (s *Store) ListRecords(ctx context.Context, opts record.ListOpts) ([]*record.DeliveryEvent, error) {
	var models []recordModel
	q := s.sdb.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.MerchantID != "" {
		q = q.Where("merchant_id = ?", opts.MerchantID)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr(recordOrder(opts.Status))

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*record.DeliveryEvent, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func recordOrder(status record.Status) string {
	switch status {
	case record.StatusFailed:
		return "completed_at DESC"
	case record.StatusPending:
		return "next_retry ASC"
	default:
		return "created_at DESC"
	}
}

func (s *Store) CountRecordsByStatus(ctx context.Context, merchantID string) (record.StatusCounts, error) {
	var c record.StatusCounts
	for _, st := range []record.Status{record.StatusPending, record.StatusCompleted, record.StatusFailed} {
		q := s.sdb.NewSelect((*recordModel)(nil)).Where("status = ?", string(st))
		if merchantID != "" {
			q = q.Where("merchant_id = ?", merchantID)
		}
		n, err := q.Count(ctx)
		if err != nil {
			return c, err
		}
		c.Add(st, int(n))
	}
	return c, nil
}

// ==================== Endpoint Store ====================

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	_, err := s.sdb.NewInsert(toEndpointModel(ep)).Exec(ctx)
	if isDuplicateKey(err) {
		return errs.ErrDuplicate
	}
	return err
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", epID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, errs.NotFound("endpoint", epID.String())
		}
		return nil, err
	}
	return fromEndpointModel(m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, "endpoint", ep.ID.String())
}

func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	res, err := s.sdb.NewDelete((*endpointModel)(nil)).
		Where("id = ?", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, "endpoint", epID.String())
}

func (s *Store) ListEndpoints(ctx context.Context, merchantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.sdb.NewSelect(&models).Where("merchant_id = ?", merchantID)
	if opts.Enabled != nil {
		q = q.Where("enabled = ?", *opts.Enabled)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*endpoint.Endpoint, len(models))
	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = ep
	}
	return result, nil
}

func (s *Store) ActiveEndpoint(ctx context.Context, merchantID string) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	err := s.sdb.NewSelect(m).
		Where("merchant_id = ?", merchantID).
		Where("enabled = 1").
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, errs.NotFound("active endpoint for merchant", merchantID)
		}
		return nil, err
	}
	return fromEndpointModel(m)
}

func (s *Store) SetEnabled(ctx context.Context, epID id.ID, enabled bool) error {
	res, err := s.sdb.NewUpdate((*endpointModel)(nil)).
		Set("enabled = ?", enabled).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, "endpoint", epID.String())
}

// ==================== Alert Store ====================

func (s *Store) PushAlert(ctx context.Context, a *alert.Alert) error {
	_, err := s.sdb.NewInsert(toAlertModel(a)).Exec(ctx)
	return err
}

func (s *Store) GetAlert(ctx context.Context, alertID id.ID) (*alert.Alert, error) {
	m := new(alertModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", alertID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, errs.NotFound("alert", alertID.String())
		}
		return nil, err
	}
	return fromAlertModel(m)
}

func (s *Store) ListAlerts(ctx context.Context, opts alert.ListOpts) ([]*alert.Alert, error) {
	var models []alertModel
	q := s.sdb.NewSelect(&models)
	if opts.MerchantID != "" {
		q = q.Where("merchant_id = ?", opts.MerchantID)
	}
	if opts.Unacknowledged {
		q = q.Where("acknowledged_at IS NULL")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("raised_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*alert.Alert, len(models))
	for i := range models {
		a, err := fromAlertModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, alertID id.ID, at time.Time) error {
	return s.stampAlert(ctx, alertID, "acknowledged_at", at)
}

func (s *Store) ReplayedAlert(ctx context.Context, alertID id.ID, at time.Time) error {
	return s.stampAlert(ctx, alertID, "replayed_at", at)
}

func (s *Store) stampAlert(ctx context.Context, alertID id.ID, column string, at time.Time) error {
	res, err := s.sdb.NewUpdate((*alertModel)(nil)).
		Set(column+" = ?", at).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", alertID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, "alert", alertID.String())
}

func (s *Store) PurgeAlerts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*alertModel)(nil)).
		Where("raised_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountAlerts(ctx context.Context, opts alert.ListOpts) (int64, error) {
	q := s.sdb.NewSelect((*alertModel)(nil))
	if opts.MerchantID != "" {
		q = q.Where("merchant_id = ?", opts.MerchantID)
	}
	if opts.Unacknowledged {
		q = q.Where("acknowledged_at IS NULL")
	}
	return q.Count(ctx)
}

// ==================== Helpers ====================

// rowsResult is the part of an exec result requireRow reads.
type rowsResult interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsResult, resource, key string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errs.NotFound(resource, key)
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
