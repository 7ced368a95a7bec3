// Package memory provides an in-memory store for tests and
// single-process deployments. State is lost on restart.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/stride"
	"github.com/xraph/stride/dlq"
	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
)

// Store keeps jobs and DLQ entries in maps guarded by one RWMutex.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*job.Job
	dlq    map[string]*dlq.Entry
	closed bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
		dlq:  make(map[string]*dlq.Entry),
	}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return stride.ErrStoreClosed
	}

	return nil
}

// EnqueueJob implements job.Store.
func (s *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return stride.ErrJobAlreadyExists
	}

	clone := *j
	s.jobs[key] = &clone

	return nil
}

// DequeueJobs implements job.Store. Jobs are claimed under the write
// lock, so each job goes to exactly one caller.
func (s *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	var due []*job.Job
	for _, j := range s.jobs {
		if !slices.Contains(queues, j.Queue) {
			continue
		}

		switch j.State {
		case job.StatePending, job.StateRetrying, job.StateDelayed:
		default:
			continue
		}

		if j.RunAt.After(now) {
			continue
		}

		due = append(due, j)
	}

	sort.Slice(due, func(i, k int) bool {
		if due[i].Priority != due[k].Priority {
			return due[i].Priority > due[k].Priority
		}

		return due[i].RunAt.Before(due[k].RunAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*job.Job, 0, len(due))
	for _, j := range due {
		j.State = job.StateRunning
		started := now
		j.StartedAt = &started
		j.Touch()

		clone := *j
		claimed = append(claimed, &clone)
	}

	return claimed, nil
}

// GetJob implements job.Store.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, stride.ErrJobNotFound
	}

	clone := *j

	return &clone, nil
}

// UpdateJob implements job.Store.
func (s *Store) UpdateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	key := j.ID.String()
	if _, ok := s.jobs[key]; !ok {
		return stride.ErrJobNotFound
	}

	clone := *j
	s.jobs[key] = &clone

	return nil
}

// UpdateJobPayload implements job.Store.
func (s *Store) UpdateJobPayload(_ context.Context, jobID id.JobID, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return stride.ErrJobNotFound
	}

	j.Payload = payload
	j.Touch()

	return nil
}

// DelayJob implements job.Store.
func (s *Store) DelayJob(_ context.Context, jobID id.JobID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return stride.ErrJobNotFound
	}

	j.State = job.StateDelayed
	j.RunAt = until.UTC()
	j.Touch()

	return nil
}

// ChangeJobPriority implements job.Store.
func (s *Store) ChangeJobPriority(_ context.Context, jobID id.JobID, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return stride.ErrJobNotFound
	}

	j.Priority = priority
	j.Touch()

	return nil
}

// DeleteJob implements job.Store.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	key := jobID.String()
	if _, ok := s.jobs[key]; !ok {
		return stride.ErrJobNotFound
	}

	delete(s.jobs, key)

	return nil
}

// ListJobsByState implements job.Store.
func (s *Store) ListJobsByState(_ context.Context, st job.State, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var matched []*job.Job
	for _, j := range s.jobs {
		if j.State != st {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}

		clone := *j
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}

		matched = matched[opts.Offset:]
	}

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	return matched, nil
}

// CountJobs implements job.Store.
func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	for _, j := range s.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}

		count++
	}

	return count, nil
}

// PushDLQ implements dlq.Store.
func (s *Store) PushDLQ(_ context.Context, e *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	clone := *e
	s.dlq[e.ID.String()] = &clone

	return nil
}

// ListDLQ implements dlq.Store.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var matched []*dlq.Entry
	for _, e := range s.dlq {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}

		clone := *e
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].FailedAt.After(matched[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}

		matched = matched[opts.Offset:]
	}

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	return matched, nil
}

// GetDLQ implements dlq.Store.
func (s *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	e, ok := s.dlq[entryID.String()]
	if !ok {
		return nil, stride.ErrDLQNotFound
	}

	clone := *e

	return &clone, nil
}

// ReplayDLQ implements dlq.Store.
func (s *Store) ReplayDLQ(_ context.Context, entryID id.DLQID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	e, ok := s.dlq[entryID.String()]
	if !ok {
		return stride.ErrDLQNotFound
	}

	replayedAt := at.UTC()
	e.ReplayedAt = &replayedAt

	return nil
}

// PurgeDLQ implements dlq.Store.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var purged int64
	for key, e := range s.dlq {
		if e.FailedAt.Before(before) {
			delete(s.dlq, key)
			purged++
		}
	}

	return purged, nil
}

// CountDLQ implements dlq.Store.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	return int64(len(s.dlq)), nil
}

// Migrate implements store.Store. Nothing to do in memory.
func (s *Store) Migrate(context.Context) error {
	return nil
}

// Ping implements store.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.checkOpen()
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}
