package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/stride"
	"github.com/xraph/stride/job"
)

// QueueManager gates job starts per queue. Implemented by
// queue.Manager; a nil manager admits everything.
type QueueManager interface {
	Acquire(queue string) bool
	Release(queue string)
}

// Pool runs a fixed number of pollers against the job store.
type Pool struct {
	store    job.Store
	executor *Executor
	logger   *slog.Logger

	concurrency  int
	queues       []string
	pollInterval time.Duration
	queueManager QueueManager

	cancel context.CancelFunc
	group  *errgroup.Group
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent pollers.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPoolQueues sets the queues the pool polls.
func WithPoolQueues(queues ...string) PoolOption {
	return func(p *Pool) {
		if len(queues) > 0 {
			p.queues = queues
		}
	}
}

// WithPollInterval sets the idle poll interval.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithQueueManager installs per-queue concurrency and rate limits.
func WithQueueManager(qm QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = qm }
}

// NewPool builds a worker pool.
func NewPool(store job.Store, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	cfg := stride.DefaultConfig()

	p := &Pool{
		store:        store,
		executor:     executor,
		logger:       logger,
		concurrency:  cfg.Concurrency,
		queues:       cfg.Queues,
		pollInterval: cfg.PollInterval,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start launches the pollers. It returns immediately; the pollers run
// until Stop.
func (p *Pool) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < p.concurrency; i++ {
		p.group.Go(func() error {
			p.pollLoop(ctx)

			return nil
		})
	}

	p.logger.Info("worker pool started",
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues))

	return nil
}

// Stop shuts the pool down, waiting up to ctx's deadline for in-flight
// jobs to finish.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}

	p.cancel()

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()

	select {
	case err := <-done:
		p.logger.Info("worker pool stopped")

		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobs, err := p.store.DequeueJobs(ctx, p.queues, 1)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Error("dequeue failed", slog.String("error", err.Error()))
			}

			p.sleep(ctx)

			continue
		}

		if len(jobs) == 0 {
			p.sleep(ctx)

			continue
		}

		j := jobs[0]

		if p.queueManager != nil && !p.queueManager.Acquire(j.Queue) {
			// Over the queue's limit. Put the job back as pending and
			// back off.
			j.State = job.StatePending
			if err := p.store.UpdateJob(ctx, j); err != nil {
				p.logger.Error("failed to requeue throttled job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()))
			}

			p.sleep(ctx)

			continue
		}

		// The job runs on a fresh context: a shutdown mid-job cancels
		// polling, not execution. The job timeout still applies.
		if err := p.executor.Execute(context.Background(), j); err != nil {
			p.logger.Debug("job execution ended with error",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()))
		}

		if p.queueManager != nil {
			p.queueManager.Release(j.Queue)
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}
