// Package job defines the queue's unit of work and the persistence
// contract stores implement for it.
package job

import (
	"time"

	"github.com/xraph/stride"
	"github.com/xraph/stride/id"
)

// State is the queue-level lifecycle state of a job. It is distinct
// from the execution state carried inside the payload: the queue state
// says where the job is, the payload says how far its flow got.
type State string

const (
	// StatePending means the job is waiting to be picked up.
	StatePending State = "pending"

	// StateRunning means a worker is executing the job.
	StateRunning State = "running"

	// StateDelayed means the job parked itself and must not be delivered
	// before RunAt.
	StateDelayed State = "delayed"

	// StateRetrying means the job failed and is waiting for its backoff
	// to elapse.
	StateRetrying State = "retrying"

	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"

	// StateFailed means the job exhausted its retries.
	StateFailed State = "failed"
)

// Job is a unit of work on the queue.
type Job struct {
	stride.Entity

	ID      id.JobID `json:"id"`
	Name    string   `json:"name"`
	Queue   string   `json:"queue"`
	Payload []byte   `json:"payload"`
	State   State    `json:"state"`

	// Priority orders delivery within a queue; higher runs first.
	Priority int `json:"priority"`

	MaxRetries int    `json:"max_retries"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`

	// RunAt is the earliest time the job may be delivered.
	RunAt time.Time `json:"run_at"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Timeout bounds a single invocation. Zero means the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// New builds a pending job for the named flow with payload and opts
// applied.
func New(name string, payload []byte, opts Options) *Job {
	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	return &Job{
		Entity:     stride.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      opts.Queue,
		Payload:    payload,
		State:      StatePending,
		Priority:   opts.Priority,
		MaxRetries: opts.MaxRetries,
		RunAt:      runAt,
		Timeout:    opts.Timeout,
	}
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}
