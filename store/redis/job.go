package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
)

// jobModel is the JSON representation stored in Redis.
type jobModel struct {
	ID             string         `json:"id"`
	EndpointID     string         `json:"endpoint_id,omitempty"`
	MerchantID     string         `json:"merchant_id"`
	URL            string         `json:"url"`
	Payload        *event.Payload `json:"payload"`
	State          string         `json:"state"`
	AttemptsMade   int            `json:"attempts_made"`
	MaxAttempts    int            `json:"max_attempts"`
	NextAttemptAt  time.Time      `json:"next_attempt_at"`
	LockedUntil    *time.Time     `json:"locked_until,omitempty"`
	LastError      string         `json:"last_error"`
	LastStatusCode int            `json:"last_status_code"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func toJobModel(j *delivery.Job) *jobModel {
	var epID string
	if !j.EndpointID.IsNil() {
		epID = j.EndpointID.String()
	}
	return &jobModel{
		ID:             j.ID,
		EndpointID:     epID,
		MerchantID:     j.MerchantID,
		URL:            j.URL,
		Payload:        j.Payload,
		State:          string(j.State),
		AttemptsMade:   j.AttemptsMade,
		MaxAttempts:    j.MaxAttempts,
		NextAttemptAt:  j.NextAttemptAt,
		LockedUntil:    j.LockedUntil,
		LastError:      j.LastError,
		LastStatusCode: j.LastStatusCode,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*delivery.Job, error) {
	var epID id.ID
	if m.EndpointID != "" {
		var err error
		if epID, err = id.ParseEndpointID(m.EndpointID); err != nil {
			return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
		}
	}
	return &delivery.Job{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             m.ID,
		EndpointID:     epID,
		MerchantID:     m.MerchantID,
		URL:            m.URL,
		Payload:        m.Payload,
		State:          delivery.State(m.State),
		AttemptsMade:   m.AttemptsMade,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  m.NextAttemptAt,
		LockedUntil:    m.LockedUntil,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// dequeueScript claims expired leases first, then due pending jobs, and
// moves every claimed id into the active set scored by its new lease.
// KEYS[1] = payhook:z:job:pending
// KEYS[2] = payhook:z:job:active
// ARGV[1] = now (unix ms)
// ARGV[2] = lease expiry (unix ms)
// ARGV[3] = limit
var dequeueScript = goredis.NewScript(`
local limit = tonumber(ARGV[3])
local claimed = {}
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, limit)
for _, id in ipairs(expired) do
    table.insert(claimed, id)
end
if #claimed < limit then
    local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, limit - #claimed)
    for _, id in ipairs(due) do
        redis.call('ZREM', KEYS[1], id)
        table.insert(claimed, id)
    end
end
for _, id in ipairs(claimed) do
    redis.call('ZADD', KEYS[2], ARGV[2], id)
end
return claimed
`)

// resetScript re-opens a job unless its lease is still live.
// KEYS[1] = payhook:z:job:pending
// KEYS[2] = payhook:z:job:active
// KEYS[3] = completed set
// KEYS[4] = failed set
// KEYS[5] = job entity key
// ARGV[1] = job id
// ARGV[2] = now (unix ms)
// ARGV[3] = due (unix ms)
// ARGV[4] = reset job document
var resetScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[5]) == 0 then return 'missing' end
local lease = redis.call('ZSCORE', KEYS[2], ARGV[1])
if lease and tonumber(lease) > tonumber(ARGV[2]) then return 'active' end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
redis.call('SET', KEYS[5], ARGV[4])
return 'ok'
`)

// EnqueueJob stores a new pending job.
func (s *Store) EnqueueJob(ctx context.Context, j *delivery.Job) error {
	m := toJobModel(j)

	ok, err := s.rdb.SetNX(ctx, uniqueJob+m.ID, 1, 0).Result()
	if err != nil {
		return fmt.Errorf("payhook/redis: enqueue job unique: %w", err)
	}
	if !ok {
		return errs.ErrDuplicate
	}

	if err := s.setEntity(ctx, entityKey(prefixJob, m.ID), m); err != nil {
		return fmt.Errorf("payhook/redis: enqueue job: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, zJobPending, goredis.Z{Score: scoreFromTime(m.NextAttemptAt), Member: m.ID}).Err(); err != nil {
		return fmt.Errorf("payhook/redis: enqueue job index: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs.
func (s *Store) DequeueJobs(ctx context.Context, limit int, lease time.Duration) ([]*delivery.Job, error) {
	t := now()
	until := t.Add(lease)

	ids, err := dequeueScript.Run(ctx, s.rdb,
		[]string{zJobPending, zJobActive},
		scoreArg(t), scoreArg(until), limit,
	).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("payhook/redis: dequeue script: %w", err)
	}

	jobs := make([]*delivery.Job, 0, len(ids))
	for _, jobID := range ids {
		key := entityKey(prefixJob, jobID)
		var m jobModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isNotFound(err) {
				s.rdb.ZRem(ctx, zJobActive, jobID)
				continue
			}
			return nil, fmt.Errorf("payhook/redis: dequeue get: %w", err)
		}

		m.State = string(delivery.StateActive)
		m.LockedUntil = &until
		m.UpdatedAt = t
		if err := s.setEntity(ctx, key, &m); err != nil {
			return nil, fmt.Errorf("payhook/redis: dequeue update: %w", err)
		}

		j, err := fromJobModel(&m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// UpdateJob writes back a job and moves it between indexes.
func (s *Store) UpdateJob(ctx context.Context, j *delivery.Job) error {
	key := entityKey(prefixJob, j.ID)

	var existing jobModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return errs.NotFound("job", j.ID)
		}
		return fmt.Errorf("payhook/redis: update job get: %w", err)
	}

	m := toJobModel(j)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("payhook/redis: update job: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zJobPending, m.ID)
	pipe.ZRem(ctx, zJobActive, m.ID)
	pipe.SRem(ctx, jobStateSetKey(string(delivery.StateCompleted)), m.ID)
	pipe.SRem(ctx, jobStateSetKey(string(delivery.StateFailed)), m.ID)
	switch j.State {
	case delivery.StatePending:
		pipe.ZAdd(ctx, zJobPending, goredis.Z{Score: scoreFromTime(m.NextAttemptAt), Member: m.ID})
	case delivery.StateActive:
		until := m.UpdatedAt
		if m.LockedUntil != nil {
			until = *m.LockedUntil
		}
		pipe.ZAdd(ctx, zJobActive, goredis.Z{Score: scoreFromTime(until), Member: m.ID})
	case delivery.StateCompleted, delivery.StateFailed:
		pipe.SAdd(ctx, jobStateSetKey(m.State), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("payhook/redis: update job indexes: %w", err)
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*delivery.Job, error) {
	var m jobModel
	if err := s.getEntity(ctx, entityKey(prefixJob, jobID), &m); err != nil {
		if isNotFound(err) {
			return nil, errs.NotFound("job", jobID)
		}
		return nil, fmt.Errorf("payhook/redis: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ResetJob re-opens a job no engine holds.
func (s *Store) ResetJob(ctx context.Context, jobID string, at time.Time) (*delivery.Job, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	j.State = delivery.StatePending
	j.AttemptsMade = 0
	j.NextAttemptAt = at
	j.LockedUntil = nil
	j.LastError = ""
	j.LastStatusCode = 0
	j.CompletedAt = nil
	j.UpdatedAt = at

	raw, err := json.Marshal(toJobModel(j))
	if err != nil {
		return nil, fmt.Errorf("payhook/redis: marshal job: %w", err)
	}

	res, err := resetScript.Run(ctx, s.rdb,
		[]string{
			zJobPending,
			zJobActive,
			jobStateSetKey(string(delivery.StateCompleted)),
			jobStateSetKey(string(delivery.StateFailed)),
			entityKey(prefixJob, jobID),
		},
		jobID, scoreArg(now()), scoreArg(at), raw,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("payhook/redis: reset script: %w", err)
	}

	switch res {
	case "missing":
		return nil, errs.NotFound("job", jobID)
	case "active":
		return nil, errs.ErrJobActive
	}
	return j, nil
}

// CountJobs tallies jobs by state.
func (s *Store) CountJobs(ctx context.Context) (delivery.JobCounts, error) {
	t := scoreArg(now())

	pipe := s.rdb.Pipeline()
	active := pipe.ZCard(ctx, zJobActive)
	waiting := pipe.ZCount(ctx, zJobPending, "-inf", t)
	delayed := pipe.ZCount(ctx, zJobPending, "("+t, "+inf")
	completed := pipe.SCard(ctx, jobStateSetKey(string(delivery.StateCompleted)))
	failed := pipe.SCard(ctx, jobStateSetKey(string(delivery.StateFailed)))
	if _, err := pipe.Exec(ctx); err != nil {
		return delivery.JobCounts{}, fmt.Errorf("payhook/redis: count jobs: %w", err)
	}

	return delivery.JobCounts{
		Active:    int(active.Val()),
		Waiting:   int(waiting.Val()),
		Delayed:   int(delayed.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}, nil
}
