// Package redis implements the store on Redis. Ready jobs live in
// per-queue sorted sets so dequeue is a ZPOPMIN; parked jobs live in a
// delayed sorted set and are promoted when due.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/stride"
	"github.com/xraph/stride/dlq"
	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
)

// Store implements store.Store on Redis.
type Store struct {
	client goredis.Cmdable
	closer interface{ Close() error }
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle; Close on the store is a no-op.
func New(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

// Open connects to Redis at addr and returns a store that owns the
// connection.
func Open(addr string) *Store {
	client := goredis.NewClient(&goredis.Options{Addr: addr})

	return &Store{client: client, closer: client}
}

// EnqueueJob implements job.Store.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis: enqueue %s: %w", j.ID, err)
	}
	if exists > 0 {
		return stride.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	s.scheduleLocked(ctx, pipe, j)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: enqueue %s: %w", j.ID, err)
	}

	return nil
}

// scheduleLocked places the job in the ready or delayed set according
// to its RunAt.
func (s *Store) scheduleLocked(ctx context.Context, pipe goredis.Pipeliner, j *job.Job) {
	jobID := j.ID.String()
	now := time.Now().UTC()

	if j.RunAt.After(now) {
		pipe.ZAdd(ctx, keyDelayed, goredis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: jobID,
		})

		return
	}

	pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{
		Score:  readyScore(j.Priority, j.RunAt.UnixMilli()),
		Member: jobID,
	})
}

// promoteDue moves parked jobs whose RunAt has passed into their
// queue's ready set.
func (s *Store) promoteDue(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := s.client.ZRangeByScore(ctx, keyDelayed, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("redis: promote delayed: %w", err)
	}

	for _, jobID := range due {
		fields, err := s.client.HMGet(ctx, jobKey(jobID), "queue", "priority", "run_at").Result()
		if err != nil {
			continue
		}

		queue, _ := fields[0].(string)
		if queue == "" {
			// Orphaned member; drop it.
			s.client.ZRem(ctx, keyDelayed, jobID)

			continue
		}

		j := &job.Job{Queue: queue}
		if p, ok := fields[1].(string); ok {
			j.Priority, _ = strconv.Atoi(p)
		}
		if r, ok := fields[2].(string); ok {
			j.RunAt, _ = time.Parse(time.RFC3339Nano, r)
		}

		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, keyDelayed, jobID)
		pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{
			Score:  readyScore(j.Priority, j.RunAt.UnixMilli()),
			Member: jobID,
		})

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis: promote job %s: %w", jobID, err)
		}
	}

	return nil
}

// DequeueJobs implements job.Store. ZPOPMIN gives each ready job to
// exactly one caller.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if err := s.promoteDue(ctx); err != nil {
		return nil, err
	}

	var claimed []*job.Job

	for _, queue := range queues {
		if limit > 0 && len(claimed) >= limit {
			break
		}

		remaining := int64(10)
		if limit > 0 {
			remaining = int64(limit - len(claimed))
		}

		popped, err := s.client.ZPopMin(ctx, queueKey(queue), remaining).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: dequeue from %q: %w", queue, err)
		}

		for _, z := range popped {
			jobID, _ := z.Member.(string)

			fields, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
			if err != nil || len(fields) == 0 {
				continue
			}

			j, err := mapToJob(fields)
			if err != nil {
				continue
			}

			now := time.Now().UTC()
			j.State = job.StateRunning
			j.StartedAt = &now
			j.Touch()

			if err := s.client.HSet(ctx, jobKey(jobID), jobToMap(j)).Err(); err != nil {
				return nil, fmt.Errorf("redis: claim %s: %w", jobID, err)
			}

			claimed = append(claimed, j)
		}
	}

	return claimed, nil
}

// GetJob implements job.Store.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, stride.ErrJobNotFound
	}

	return mapToJob(fields)
}

// UpdateJob implements job.Store. The scheduling sets are reconciled
// with the job's new state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jobID := j.ID.String()

	exists, err := s.client.Exists(ctx, jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("redis: update %s: %w", jobID, err)
	}
	if exists == 0 {
		return stride.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), jobToMap(j))
	pipe.ZRem(ctx, keyDelayed, jobID)
	pipe.ZRem(ctx, queueKey(j.Queue), jobID)

	switch j.State {
	case job.StatePending, job.StateRetrying, job.StateDelayed:
		s.scheduleLocked(ctx, pipe, j)
	default:
		// Running and terminal jobs stay out of the scheduling sets.
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: update %s: %w", jobID, err)
	}

	return nil
}

// UpdateJobPayload implements job.Store.
func (s *Store) UpdateJobPayload(ctx context.Context, jobID id.JobID, payload []byte) error {
	key := jobKey(jobID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis: update payload %s: %w", jobID, err)
	}
	if exists == 0 {
		return stride.ErrJobNotFound
	}

	err = s.client.HSet(ctx, key,
		"payload", string(payload),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: update payload %s: %w", jobID, err)
	}

	return nil
}

// DelayJob implements job.Store.
func (s *Store) DelayJob(ctx context.Context, jobID id.JobID, until time.Time) error {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	j.State = job.StateDelayed
	j.RunAt = until.UTC()
	j.Touch()

	return s.UpdateJob(ctx, j)
}

// ChangeJobPriority implements job.Store.
func (s *Store) ChangeJobPriority(ctx context.Context, jobID id.JobID, priority int) error {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	j.Priority = priority
	j.Touch()

	return s.UpdateJob(ctx, j)
}

// DeleteJob implements job.Store.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	key := jobID.String()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(key))
	pipe.ZRem(ctx, keyDelayed, key)
	pipe.ZRem(ctx, queueKey(j.Queue), key)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete %s: %w", jobID, err)
	}

	return nil
}

// ListJobsByState implements job.Store. This scans the job keyspace;
// it is an operator-facing query, not a hot path.
func (s *Store) ListJobsByState(ctx context.Context, st job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if j.State != st {
			return false
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			return false
		}

		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}

		jobs = jobs[opts.Offset:]
	}

	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}

	return jobs, nil
}

// CountJobs implements job.Store.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if opts.Queue != "" && j.Queue != opts.Queue {
			return false
		}
		if opts.State != "" && j.State != opts.State {
			return false
		}

		return true
	})
	if err != nil {
		return 0, err
	}

	return int64(len(jobs)), nil
}

func (s *Store) scanJobs(ctx context.Context, keep func(*job.Job) bool) ([]*job.Job, error) {
	var (
		jobs   []*job.Job
		cursor uint64
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyJob+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan jobs: %w", err)
		}

		for _, key := range keys {
			fields, err := s.client.HGetAll(ctx, key).Result()
			if err != nil || len(fields) == 0 {
				continue
			}

			j, err := mapToJob(fields)
			if err != nil {
				continue
			}

			if keep(j) {
				jobs = append(jobs, j)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return jobs, nil
}

// PushDLQ implements dlq.Store.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: push dlq %s: %w", e.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqKey(e.ID.String()), data, 0)
	pipe.ZAdd(ctx, keyDLQIndex, goredis.Z{
		Score:  float64(e.FailedAt.UnixMilli()),
		Member: e.ID.String(),
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push dlq %s: %w", e.ID, err)
	}

	return nil
}

// ListDLQ implements dlq.Store.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	// Newest failures first.
	ids, err := s.client.ZRevRange(ctx, keyDLQIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list dlq: %w", err)
	}

	var entries []*dlq.Entry

	for _, entryID := range ids {
		e, err := s.getDLQRaw(ctx, entryID)
		if err != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}

		entries = append(entries, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}

		entries = entries[opts.Offset:]
	}

	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	return entries, nil
}

// GetDLQ implements dlq.Store.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQRaw(ctx, entryID.String())
}

func (s *Store) getDLQRaw(ctx context.Context, entryID string) (*dlq.Entry, error) {
	data, err := s.client.Get(ctx, dlqKey(entryID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, stride.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get dlq %s: %w", entryID, err)
	}

	e := &dlq.Entry{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("redis: decode dlq %s: %w", entryID, err)
	}

	return e, nil
}

// ReplayDLQ implements dlq.Store.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	e, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		return err
	}

	replayedAt := at.UTC()
	e.ReplayedAt = &replayedAt

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: replay dlq %s: %w", entryID, err)
	}

	if err := s.client.Set(ctx, dlqKey(entryID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: replay dlq %s: %w", entryID, err)
	}

	return nil
}

// PurgeDLQ implements dlq.Store.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	cutoff := strconv.FormatInt(before.UnixMilli()-1, 10)

	ids, err := s.client.ZRangeByScore(ctx, keyDLQIndex, &goredis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: purge dlq: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, entryID := range ids {
		pipe.Del(ctx, dlqKey(entryID))
		pipe.ZRem(ctx, keyDLQIndex, entryID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: purge dlq: %w", err)
	}

	return int64(len(ids)), nil
}

// CountDLQ implements dlq.Store.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, keyDLQIndex).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count dlq: %w", err)
	}

	return count, nil
}

// Migrate implements store.Store. Redis needs no schema.
func (s *Store) Migrate(context.Context) error {
	return nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}

	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}

	return nil
}
