package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/stride"
	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
)

// Service coordinates dead-lettering between the job store and the DLQ
// store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService returns a Service over the given stores.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Store returns the underlying DLQ store.
func (s *Service) Store() Store {
	return s.store
}

// Push dead-letters j with the error that exhausted its retries.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()

	entry := &Entry{
		ID:         id.NewDLQID(),
		JobID:      j.ID,
		JobName:    j.Name,
		Queue:      j.Queue,
		Payload:    j.Payload,
		Error:      jobErr.Error(),
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		FailedAt:   now,
		CreatedAt:  now,
	}

	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return fmt.Errorf("dlq: push job %s: %w", j.ID, err)
	}

	return nil
}

// Replay enqueues the entry's job again under a fresh ID with a reset
// retry budget. The preserved payload carries the execution state, so
// the replayed job picks up at its failed step.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("dlq: replay %s: %w", entryID, err)
	}

	if entry.Replayed() {
		return nil, fmt.Errorf("dlq: replay %s: %w: already replayed", entryID, stride.ErrInvalidState)
	}

	replayed := job.New(entry.JobName, entry.Payload, job.Options{
		Queue:      entry.Queue,
		MaxRetries: entry.MaxRetries,
	})

	if err := s.jobStore.EnqueueJob(ctx, replayed); err != nil {
		return nil, fmt.Errorf("dlq: replay %s: enqueue: %w", entryID, err)
	}

	if err := s.store.ReplayDLQ(ctx, entryID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("dlq: replay %s: mark replayed: %w", entryID, err)
	}

	return replayed, nil
}
