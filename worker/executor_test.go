package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/stride"
	"github.com/xraph/stride/backoff"
	"github.com/xraph/stride/dlq"
	"github.com/xraph/stride/flow"
	"github.com/xraph/stride/job"
	"github.com/xraph/stride/middleware"
	"github.com/xraph/stride/store/memory"
	"github.com/xraph/stride/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store    *memory.Store
	registry *flow.Registry
	executor *worker.Executor
	dlq      *dlq.Service
}

func newHarness(t *testing.T, opts ...worker.ExecutorOption) *harness {
	t.Helper()

	s := memory.New()
	registry := flow.NewRegistry()
	flows := flow.NewExecutor(registry, s, flow.WithLogger(discardLogger()))
	dlqService := dlq.NewService(s, s)

	base := []worker.ExecutorOption{
		worker.WithExecutorLogger(discardLogger()),
		worker.WithDLQ(dlqService),
		worker.WithBackoff(backoff.Constant{Interval: time.Millisecond}),
	}

	return &harness{
		store:    s,
		registry: registry,
		executor: worker.NewExecutor(flows, s, append(base, opts...)...),
		dlq:      dlqService,
	}
}

func (h *harness) enqueueAndClaim(t *testing.T, name string, opts ...job.Option) *job.Job {
	t.Helper()
	ctx := context.Background()

	j := job.New(name, []byte(`{}`), job.DefaultOptions().Apply(opts...))
	if err := h.store.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	jobs, err := h.store.DequeueJobs(ctx, []string{j.Queue}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatal("job not claimable")
	}

	return jobs[0]
}

func TestExecute_Success(t *testing.T) {
	h := newHarness(t)

	def := flow.New("ok", func(r *flow.Run, _ struct{}) error {
		return r.Step("work", func(context.Context) error { return nil })
	})
	if err := flow.Register(h.registry, def); err != nil {
		t.Fatal(err)
	}

	j := h.enqueueAndClaim(t, "ok")
	if err := h.executor.Execute(context.Background(), j); err != nil {
		t.Fatal(err)
	}

	got, _ := h.store.GetJob(context.Background(), j.ID)
	if got.State != job.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestExecute_FailureSchedulesRetry(t *testing.T) {
	h := newHarness(t)

	def := flow.New("flaky", func(r *flow.Run, _ struct{}) error {
		return r.Step("work", func(context.Context) error { return errors.New("transient") })
	})
	if err := flow.Register(h.registry, def); err != nil {
		t.Fatal(err)
	}

	j := h.enqueueAndClaim(t, "flaky")
	if err := h.executor.Execute(context.Background(), j); err == nil {
		t.Fatal("failure not reported")
	}

	got, _ := h.store.GetJob(context.Background(), j.ID)
	if got.State != job.StateRetrying {
		t.Errorf("state = %s, want retrying", got.State)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.LastError == "" {
		t.Error("LastError empty")
	}
}

func TestExecute_ExhaustionDeadLetters(t *testing.T) {
	h := newHarness(t)

	def := flow.New("doomed", func(r *flow.Run, _ struct{}) error {
		return r.Step("work", func(context.Context) error { return errors.New("permanent") })
	})
	if err := flow.Register(h.registry, def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	j := h.enqueueAndClaim(t, "doomed", job.WithMaxRetries(1))

	// First failure schedules a retry, second exhausts the budget.
	for i := 0; i < 2; i++ {
		if err := h.executor.Execute(ctx, j); err == nil {
			t.Fatal("failure not reported")
		}
		refreshed, err := h.store.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatal(err)
		}
		j = refreshed
	}

	if j.State != job.StateFailed {
		t.Fatalf("state = %s, want failed", j.State)
	}

	count, err := h.store.CountDLQ(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("dlq count = %d, want 1", count)
	}

	entries, _ := h.store.ListDLQ(ctx, dlq.ListOpts{})
	if entries[0].JobName != "doomed" || entries[0].RetryCount != 2 {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestExecute_SuspensionIsNotFailure(t *testing.T) {
	h := newHarness(t)

	def := flow.New("napper", func(r *flow.Run, _ struct{}) error {
		return r.Sleep("wait", time.Hour)
	})
	if err := flow.Register(h.registry, def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	j := h.enqueueAndClaim(t, "napper")

	if err := h.executor.Execute(ctx, j); err != nil {
		t.Fatalf("suspension reported as error: %v", err)
	}

	got, _ := h.store.GetJob(ctx, j.ID)
	if got.State != job.StateDelayed {
		t.Errorf("state = %s, want delayed", got.State)
	}
	if got.RetryCount != 0 {
		t.Errorf("suspension consumed a retry: count = %d", got.RetryCount)
	}
	if !got.RunAt.After(time.Now().Add(50 * time.Minute)) {
		t.Errorf("RunAt = %v, want about an hour out", got.RunAt)
	}
}

func TestExecute_PanicIsRetried(t *testing.T) {
	h := newHarness(t, worker.WithMiddleware(middleware.Recover(discardLogger())))

	def := flow.New("panicky", func(r *flow.Run, _ struct{}) error {
		return r.Step("work", func(context.Context) error { panic("nil map write") })
	})
	if err := flow.Register(h.registry, def); err != nil {
		t.Fatal(err)
	}

	j := h.enqueueAndClaim(t, "panicky")
	if err := h.executor.Execute(context.Background(), j); err == nil {
		t.Fatal("panic not surfaced as failure")
	}

	got, _ := h.store.GetJob(context.Background(), j.ID)
	if got.State != job.StateRetrying {
		t.Errorf("state = %s, want retrying", got.State)
	}
}

func TestExecute_UnknownFlowFails(t *testing.T) {
	h := newHarness(t)

	j := h.enqueueAndClaim(t, "unregistered")
	err := h.executor.Execute(context.Background(), j)
	if !errors.Is(err, stride.ErrFlowNotFound) {
		t.Fatalf("err = %v, want ErrFlowNotFound", err)
	}
}

func TestDLQReplay_ResumesFromFailedStep(t *testing.T) {
	h := newHarness(t)

	var firstRuns int
	fail := true
	def := flow.New("recoverable", func(r *flow.Run, _ struct{}) error {
		if err := r.Step("first", func(context.Context) error {
			firstRuns++
			return nil
		}); err != nil {
			return err
		}
		return r.Step("second", func(context.Context) error {
			if fail {
				return errors.New("downstream outage")
			}
			return nil
		})
	})
	if err := flow.Register(h.registry, def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	j := h.enqueueAndClaim(t, "recoverable", job.WithMaxRetries(0))

	if err := h.executor.Execute(ctx, j); err == nil {
		t.Fatal("failure not reported")
	}

	entries, _ := h.store.ListDLQ(ctx, dlq.ListOpts{})
	if len(entries) != 1 {
		t.Fatal("job not dead-lettered")
	}

	// Outage over; replay.
	fail = false
	replayed, err := h.dlq.Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatal(err)
	}

	jobs, _ := h.store.DequeueJobs(ctx, []string{replayed.Queue}, 1)
	if len(jobs) != 1 {
		t.Fatal("replayed job not claimable")
	}
	if err := h.executor.Execute(ctx, jobs[0]); err != nil {
		t.Fatal(err)
	}

	if firstRuns != 1 {
		t.Errorf("first step ran %d times, want 1 (replay resumes, not restarts)", firstRuns)
	}

	got, _ := h.store.GetJob(ctx, replayed.ID)
	if got.State != job.StateCompleted {
		t.Errorf("replayed job state = %s", got.State)
	}

	// Double replay is refused.
	if _, err := h.dlq.Replay(ctx, entries[0].ID); err == nil {
		t.Error("second replay accepted")
	}
}
