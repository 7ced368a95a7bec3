package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/stride"
	"github.com/xraph/stride/job"
	"github.com/xraph/stride/state"
)

// Outcome classifies how an invocation ended.
type Outcome int

const (
	// OutcomeCompleted means the flow function returned nil; the job is
	// done.
	OutcomeCompleted Outcome = iota

	// OutcomeSuspended means a sleep-type step parked the job. Nothing
	// failed and no retry is consumed; the queue redelivers later.
	OutcomeSuspended

	// OutcomeFailed means the invocation errored; the queue's retry
	// policy applies.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSuspended:
		return "suspended"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Executor runs flow invocations against jobs delivered by the queue.
type Executor struct {
	registry *Registry
	backend  Backend
	codec    state.Codec
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCodec sets the payload codec. Defaults to JSON.
func WithCodec(c state.Codec) ExecutorOption {
	return func(e *Executor) { e.codec = c }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor builds an Executor over the given registry and store
// backend.
func NewExecutor(registry *Registry, backend Backend, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		backend:  backend,
		codec:    state.JSON{},
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Codec returns the payload codec in use.
func (e *Executor) Codec() state.Codec { return e.codec }

// Execute runs one invocation of j's flow. Whatever the flow does, the
// updated execution state is persisted back into the job payload before
// Execute returns, so the next delivery resumes from it. A suspension
// is a clean outcome: the error return is nil and the job stays parked.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (Outcome, error) {
	handler, err := e.registry.Get(j.Name)
	if err != nil {
		return OutcomeFailed, err
	}

	js, err := state.Load(j.Payload, e.codec, e.registry.Validator(j.Name))
	if err != nil {
		return OutcomeFailed, err
	}

	recorder := state.NewRecorder()
	run := newRun(ctx, j, js, PurposeExecute, e.backend, e.codec, recorder, e.logger)

	attempt := recorder.BeginJob(j.Name)

	// Finalization runs on every exit path. A panicking handler gets its
	// job attempt failed in the ledger before the panic continues up to
	// the recover middleware.
	defer func() {
		if rec := recover(); rec != nil {
			attempt.Fail(fmt.Errorf("panic: %v", rec))
			e.finalize(ctx, j, js, run, recorder)
			panic(rec)
		}

		e.finalize(ctx, j, js, run, recorder)
	}()

	err = handler(run, js.Source)

	switch {
	case err == nil:
		attempt.Complete()

		return OutcomeCompleted, nil

	case stride.Suspended(err):
		// Best effort bump so the job is not starved when it wakes.
		if perr := e.backend.ChangeJobPriority(ctx, j.ID, stride.DefaultResumePriority); perr != nil {
			e.logger.Warn("failed to raise resume priority",
				slog.String("job_id", j.ID.String()),
				slog.String("error", perr.Error()))
		}

		return OutcomeSuspended, nil

	default:
		run.Logger().Error("flow invocation failed", slog.String("error", err.Error()))
		attempt.Fail(err)

		return OutcomeFailed, err
	}
}

// finalize persists the invocation's state into the job payload. It
// runs on every exit path, including timeouts, so forensic state from
// a failed run is never lost; a detached context keeps the writes
// possible after the run context is done.
func (e *Executor) finalize(ctx context.Context, j *job.Job, js *state.JobState, run *Run, recorder *state.Recorder) {
	ctx = context.WithoutCancel(ctx)

	js.Logs = append(js.Logs, run.buffer.drain()...)
	recorder.Flush(js)

	payload, err := e.codec.Marshal(js)
	if err != nil {
		e.logger.Error("failed to encode job state",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()))

		return
	}

	j.Payload = payload

	if err := e.backend.UpdateJobPayload(ctx, j.ID, payload); err != nil {
		e.logger.Error("failed to persist job state",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()))
	}
}

// Analyze replays j's flow against its recorded state without
// executing anything, returning a snapshot of each step the flow
// declared in order. The walk stops at the first step that has not
// completed; that step appears last in the snapshot.
func (e *Executor) Analyze(ctx context.Context, j *job.Job) ([]state.StepState, error) {
	handler, err := e.registry.Get(j.Name)
	if err != nil {
		return nil, err
	}

	js, err := state.Load(j.Payload, e.codec, nil)
	if err != nil {
		return nil, err
	}

	recorder := state.NewRecorder()
	run := newRun(ctx, j, js, PurposeAnalyze, e.backend, e.codec, recorder, e.logger)

	handlerErr := handler(run, js.Source)

	steps := make([]state.StepState, 0, len(run.touched))
	for _, slug := range run.touched {
		if st := js.Step(slug); st != nil {
			steps = append(steps, *st)
		} else {
			steps = append(steps, state.StepState{Slug: slug, Status: state.StatusPending})
		}
	}

	var invalid *stride.InvalidStepError
	if handlerErr != nil && !errors.As(handlerErr, &invalid) {
		return steps, fmt.Errorf("flow: analyze %q: %w", j.Name, handlerErr)
	}

	return steps, nil
}
