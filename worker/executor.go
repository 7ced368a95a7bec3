// Package worker polls the job store and drives flow execution,
// applying the retry policy, backoff, and dead-lettering.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/stride/backoff"
	"github.com/xraph/stride/dlq"
	"github.com/xraph/stride/flow"
	"github.com/xraph/stride/job"
	"github.com/xraph/stride/middleware"
)

// Executor executes one job end to end: runs its flow through the
// middleware chain and applies the queue-level outcome.
type Executor struct {
	flows   *flow.Executor
	store   job.Store
	dlq     *dlq.Service
	backoff backoff.Strategy
	mws     []middleware.Middleware
	logger  *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithMiddleware appends middlewares around job execution, outermost
// first.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mws = append(e.mws, mws...) }
}

// WithDLQ enables dead-lettering of jobs that exhaust their retries.
func WithDLQ(s *dlq.Service) ExecutorOption {
	return func(e *Executor) { e.dlq = s }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor builds a job executor.
func NewExecutor(flows *flow.Executor, store job.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		flows:   flows,
		store:   store,
		backoff: backoff.DefaultStrategy(),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs j through the middleware chain and settles its queue
// state. A suspended job is left alone: the flow already parked it and
// a state write here would clobber the delay.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	var outcome flow.Outcome

	final := func(ctx context.Context) error {
		var err error
		outcome, err = e.flows.Execute(ctx, j)

		return err
	}

	err := middleware.Chain(final, j, e.mws...)(ctx)
	if err != nil {
		// A panic converted by the recover middleware arrives here with
		// the outcome still zero; treat anything erroring as failed.
		return e.handleFailure(ctx, j, err)
	}

	if outcome == flow.OutcomeSuspended {
		e.logger.Debug("job suspended",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name))

		return nil
	}

	return e.handleSuccess(ctx, j)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.Touch()

	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("worker: complete job %s: %w", j.ID, err)
	}

	return nil
}

func (e *Executor) handleFailure(ctx context.Context, j *job.Job, jobErr error) error {
	j.RetryCount++
	j.LastError = jobErr.Error()
	j.Touch()

	if j.RetryCount <= j.MaxRetries {
		delay := e.backoff.Delay(j.RetryCount)
		j.State = job.StateRetrying
		j.RunAt = time.Now().UTC().Add(delay)

		if err := e.store.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("worker: schedule retry for job %s: %w", j.ID, err)
		}

		return fmt.Errorf("worker: job %s failed, retry %d/%d in %s: %w",
			j.ID, j.RetryCount, j.MaxRetries, delay.Round(time.Millisecond), jobErr)
	}

	j.State = job.StateFailed

	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("worker: fail job %s: %w", j.ID, err)
	}

	if e.dlq != nil {
		if err := e.dlq.Push(ctx, j, jobErr); err != nil {
			e.logger.Error("failed to dead-letter job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	e.logger.Warn("job exhausted retries",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", jobErr.Error()))

	return jobErr
}
