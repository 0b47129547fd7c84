// Package memory is an in-process Store for tests and single-node use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/record"
	"github.com/xraph/payhook/store"
)

// compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store keeps everything in maps guarded by one lock. Values are copied on
// the way in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	jobs      map[string]*delivery.Job
	records   map[string]*record.DeliveryEvent
	endpoints map[string]*endpoint.Endpoint
	alerts    map[string]*alert.Alert

	now    func() time.Time
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for due-time and lease checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:      make(map[string]*delivery.Job),
		records:   make(map[string]*record.DeliveryEvent),
		endpoints: make(map[string]*endpoint.Endpoint),
		alerts:    make(map[string]*alert.Alert),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func copyJob(j *delivery.Job) *delivery.Job {
	cp := *j
	cp.Payload = j.Payload.Clone()
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		cp.LockedUntil = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// EnqueueJob stores a new job.
func (s *Store) EnqueueJob(_ context.Context, j *delivery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return errs.ErrDuplicate
	}
	s.jobs[j.ID] = copyJob(j)
	return nil
}

// DequeueJobs claims due jobs. The write lock makes the claim exclusive.
func (s *Store) DequeueJobs(_ context.Context, limit int, lease time.Duration) ([]*delivery.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var due []*delivery.Job
	for _, j := range s.jobs {
		switch {
		case j.State == delivery.StatePending && !j.NextAttemptAt.After(now):
			due = append(due, j)
		case j.State == delivery.StateActive && !j.Leased(now):
			due = append(due, j)
		}
	}

	sort.Slice(due, func(a, b int) bool {
		return due[a].NextAttemptAt.Before(due[b].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]*delivery.Job, 0, len(due))
	for _, j := range due {
		j.State = delivery.StateActive
		j.LockedUntil = &until
		j.UpdatedAt = now
		out = append(out, copyJob(j))
	}
	return out, nil
}

// UpdateJob replaces a job.
func (s *Store) UpdateJob(_ context.Context, j *delivery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return errs.NotFound("job", j.ID)
	}
	s.jobs[j.ID] = copyJob(j)
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(_ context.Context, jobID string) (*delivery.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, errs.NotFound("job", jobID)
	}
	return copyJob(j), nil
}

// ResetJob re-opens a job that no worker holds.
func (s *Store) ResetJob(_ context.Context, jobID string, at time.Time) (*delivery.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, errs.NotFound("job", jobID)
	}
	if j.Leased(s.now()) {
		return nil, errs.ErrJobActive
	}

	j.State = delivery.StatePending
	j.AttemptsMade = 0
	j.NextAttemptAt = at
	j.LockedUntil = nil
	j.LastError = ""
	j.LastStatusCode = 0
	j.CompletedAt = nil
	j.UpdatedAt = at
	return copyJob(j), nil
}

// CountJobs tallies jobs by state.
func (s *Store) CountJobs(_ context.Context) (delivery.JobCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var c delivery.JobCounts
	for _, j := range s.jobs {
		c.Tally(j, now)
	}
	return c, nil
}

// ──────────────────────────────────────────────────
// record.Store
// ──────────────────────────────────────────────────

func copyRecord(r *record.DeliveryEvent) *record.DeliveryEvent {
	cp := *r
	cp.Payload = r.Payload.Clone()
	if r.NextRetry != nil {
		t := *r.NextRetry
		cp.NextRetry = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// CreateRecord stores a new record.
func (s *Store) CreateRecord(_ context.Context, r *record.DeliveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.JobID]; ok {
		return errs.ErrDuplicate
	}
	s.records[r.JobID] = copyRecord(r)
	return nil
}

// GetRecord returns a record by job id.
func (s *Store) GetRecord(_ context.Context, jobID string) (*record.DeliveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[jobID]
	if !ok {
		return nil, errs.NotFound("record", jobID)
	}
	return copyRecord(r), nil
}

// UpdateRecord replaces a record.
func (s *Store) UpdateRecord(_ context.Context, r *record.DeliveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.JobID]; !ok {
		return errs.NotFound("record", r.JobID)
	}
	s.records[r.JobID] = copyRecord(r)
	return nil
}

// ListRecords filters, orders and paginates records.
func (s *Store) ListRecords(_ context.Context, opts record.ListOpts) ([]*record.DeliveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*record.DeliveryEvent, 0)
	for _, r := range s.records {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.MerchantID != "" && r.MerchantID != opts.MerchantID {
			continue
		}
		result = append(result, copyRecord(r))
	}

	sort.SliceStable(result, recordOrder(result, opts.Status))
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func recordOrder(rs []*record.DeliveryEvent, status record.Status) func(i, j int) bool {
	switch status {
	case record.StatusFailed:
		return func(i, j int) bool { return timeOf(rs[i].CompletedAt).After(timeOf(rs[j].CompletedAt)) }
	case record.StatusPending:
		return func(i, j int) bool { return timeOf(rs[i].NextRetry).Before(timeOf(rs[j].NextRetry)) }
	default:
		return func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) }
	}
}

func timeOf(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// CountRecordsByStatus groups records by status.
func (s *Store) CountRecordsByStatus(_ context.Context, merchantID string) (record.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c record.StatusCounts
	for _, r := range s.records {
		if merchantID != "" && r.MerchantID != merchantID {
			continue
		}
		c.Add(r.Status, 1)
	}
	return c, nil
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

func copyEndpoint(ep *endpoint.Endpoint) *endpoint.Endpoint {
	cp := *ep
	if ep.Metadata != nil {
		cp.Metadata = make(map[string]string, len(ep.Metadata))
		for k, v := range ep.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// CreateEndpoint stores an endpoint.
func (s *Store) CreateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[ep.ID.String()]; ok {
		return errs.ErrDuplicate
	}
	s.endpoints[ep.ID.String()] = copyEndpoint(ep)
	return nil
}

// GetEndpoint returns an endpoint by id.
func (s *Store) GetEndpoint(_ context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return nil, errs.NotFound("endpoint", epID.String())
	}
	return copyEndpoint(ep), nil
}

// UpdateEndpoint replaces an endpoint.
func (s *Store) UpdateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[ep.ID.String()]; !ok {
		return errs.NotFound("endpoint", ep.ID.String())
	}
	s.endpoints[ep.ID.String()] = copyEndpoint(ep)
	return nil
}

// DeleteEndpoint removes an endpoint.
func (s *Store) DeleteEndpoint(_ context.Context, epID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[epID.String()]; !ok {
		return errs.NotFound("endpoint", epID.String())
	}
	delete(s.endpoints, epID.String())
	return nil
}

// ListEndpoints returns a merchant's endpoints, newest first.
func (s *Store) ListEndpoints(_ context.Context, merchantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*endpoint.Endpoint, 0)
	for _, ep := range s.endpoints {
		if ep.MerchantID != merchantID {
			continue
		}
		if opts.Enabled != nil && ep.Enabled != *opts.Enabled {
			continue
		}
		result = append(result, copyEndpoint(ep))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ActiveEndpoint returns the newest enabled endpoint for a merchant.
func (s *Store) ActiveEndpoint(ctx context.Context, merchantID string) (*endpoint.Endpoint, error) {
	enabled := true
	eps, err := s.ListEndpoints(ctx, merchantID, endpoint.ListOpts{Enabled: &enabled, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, errs.NotFound("active endpoint for merchant", merchantID)
	}
	return eps[0], nil
}

// SetEnabled toggles an endpoint.
func (s *Store) SetEnabled(_ context.Context, epID id.ID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return errs.NotFound("endpoint", epID.String())
	}
	ep.Enabled = enabled
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// alert.Store
// ──────────────────────────────────────────────────

func copyAlert(a *alert.Alert) *alert.Alert {
	cp := *a
	return &cp
}

// PushAlert stores an alert.
func (s *Store) PushAlert(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts[a.ID.String()] = copyAlert(a)
	return nil
}

// GetAlert returns an alert by id.
func (s *Store) GetAlert(_ context.Context, alertID id.ID) (*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[alertID.String()]
	if !ok {
		return nil, errs.NotFound("alert", alertID.String())
	}
	return copyAlert(a), nil
}

func (s *Store) filterAlerts(opts alert.ListOpts) []*alert.Alert {
	result := make([]*alert.Alert, 0)
	for _, a := range s.alerts {
		if opts.MerchantID != "" && a.MerchantID != opts.MerchantID {
			continue
		}
		if opts.Unacknowledged && a.AcknowledgedAt != nil {
			continue
		}
		result = append(result, copyAlert(a))
	}
	return result
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(_ context.Context, opts alert.ListOpts) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.filterAlerts(opts)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// AcknowledgeAlert stamps acknowledgedAt.
func (s *Store) AcknowledgeAlert(_ context.Context, alertID id.ID, at time.Time) error {
	return s.stampAlert(alertID, func(a *alert.Alert) { a.AcknowledgedAt = &at })
}

// ReplayedAlert stamps replayedAt.
func (s *Store) ReplayedAlert(_ context.Context, alertID id.ID, at time.Time) error {
	return s.stampAlert(alertID, func(a *alert.Alert) { a.ReplayedAt = &at })
}

func (s *Store) stampAlert(alertID id.ID, fn func(*alert.Alert)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID.String()]
	if !ok {
		return errs.NotFound("alert", alertID.String())
	}
	fn(a)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// PurgeAlerts deletes alerts raised before the cutoff.
func (s *Store) PurgeAlerts(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, a := range s.alerts {
		if a.Timestamp.Before(before) {
			delete(s.alerts, k)
			n++
		}
	}
	return n, nil
}

// CountAlerts counts alerts matching opts, ignoring pagination.
func (s *Store) CountAlerts(_ context.Context, opts alert.ListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.filterAlerts(opts))), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []*T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
