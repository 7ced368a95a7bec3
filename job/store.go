package job

import (
	"context"
	"time"

	"github.com/xraph/stride/id"
)

// ListOpts pages and filters job listings.
type ListOpts struct {
	Limit  int
	Offset int
	Queue  string
}

// CountOpts filters job counts. Zero values mean "any".
type CountOpts struct {
	Queue string
	State State
}

// Store is the persistence contract for jobs. Implementations must
// make DequeueJobs safe for concurrent pollers: a job is delivered to
// exactly one of them.
type Store interface {
	// EnqueueJob persists a new job. It fails with
	// stride.ErrJobAlreadyExists if the ID is taken.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs claims up to limit due jobs from the given queues and
	// marks them running. Due means pending, retrying, or delayed with
	// RunAt in the past. Delivery order is priority descending, then
	// RunAt ascending.
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// GetJob fetches a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists the job's current fields.
	UpdateJob(ctx context.Context, j *Job) error

	// UpdateJobPayload replaces only the job's payload. Used to persist
	// execution state without touching queue-level fields that a
	// concurrent transition may own.
	UpdateJobPayload(ctx context.Context, jobID id.JobID, payload []byte) error

	// DelayJob parks the job until the given time. The retry counter is
	// untouched; parking is not a failure.
	DelayJob(ctx context.Context, jobID id.JobID, until time.Time) error

	// ChangeJobPriority sets the job's delivery priority.
	ChangeJobPriority(ctx context.Context, jobID id.JobID, priority int) error

	// DeleteJob removes the job.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs in the given state, newest first.
	ListJobsByState(ctx context.Context, st State, opts ListOpts) ([]*Job, error)

	// CountJobs counts jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
