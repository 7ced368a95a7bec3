package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/stride"
	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
	"github.com/xraph/stride/state"
)

// Purpose selects what an invocation does with the flow function.
type Purpose string

const (
	// PurposeExecute runs runnable steps and mutates state.
	PurposeExecute Purpose = "execute"

	// PurposeAnalyze replays the flow against recorded state without
	// executing anything, to discover its step structure.
	PurposeAnalyze Purpose = "analyze"
)

// Backend is the slice of the job store a running flow needs: parking
// and re-prioritizing its own job, and enqueueing or inspecting jobs it
// invokes.
type Backend interface {
	UpdateJobPayload(ctx context.Context, jobID id.JobID, payload []byte) error
	DelayJob(ctx context.Context, jobID id.JobID, until time.Time) error
	ChangeJobPriority(ctx context.Context, jobID id.JobID, priority int) error
	EnqueueJob(ctx context.Context, j *job.Job) error
	GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
}

// Run is the handle a flow handler uses to declare steps. One Run
// exists per invocation; it is not safe for concurrent use.
type Run struct {
	ctx      context.Context
	job      *job.Job
	state    *state.JobState
	purpose  Purpose
	backend  Backend
	codec    state.Codec
	recorder *state.Recorder
	logger   *slog.Logger
	buffer   *logBuffer

	// touched lists step slugs in the order the flow declared them,
	// for analyze snapshots.
	touched []string
}

func newRun(
	ctx context.Context,
	j *job.Job,
	js *state.JobState,
	purpose Purpose,
	backend Backend,
	codec state.Codec,
	recorder *state.Recorder,
	logger *slog.Logger,
) *Run {
	buf := newLogBuffer(stride.MaxBufferedLogs)
	runLogger := slog.New(newBufferHandler(logger.Handler(), buf)).With(
		slog.String("job_id", j.ID.String()),
		slog.String("flow", j.Name),
	)

	return &Run{
		ctx:      ctx,
		job:      j,
		state:    js,
		purpose:  purpose,
		backend:  backend,
		codec:    codec,
		recorder: recorder,
		logger:   runLogger,
		buffer:   buf,
	}
}

// Context returns the invocation context. It carries the job timeout.
func (r *Run) Context() context.Context { return r.ctx }

// Job returns the job being executed.
func (r *Run) Job() *job.Job { return r.job }

// State returns the job's execution state.
func (r *Run) State() *state.JobState { return r.state }

// Purpose returns the invocation purpose.
func (r *Run) Purpose() Purpose { return r.purpose }

// Logger returns a logger whose records are both emitted live and
// buffered into the job state for later inspection.
func (r *Run) Logger() *slog.Logger { return r.logger }

// Return records v as the flow's output. Later invocations overwrite
// earlier values; the last one before completion wins.
func (r *Run) Return(v any) error {
	data, err := r.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("flow: return: %w", err)
	}

	r.state.Output = data

	return nil
}

func (r *Run) touch(slug string) {
	r.touched = append(r.touched, slug)
}
