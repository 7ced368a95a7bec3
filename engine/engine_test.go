package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/stride"
	"github.com/xraph/stride/engine"
	"github.com/xraph/stride/flow"
	"github.com/xraph/stride/job"
	"github.com/xraph/stride/state"
	"github.com/xraph/stride/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()

	base := []engine.Option{
		engine.WithLogger(discardLogger()),
		engine.WithConfig(stride.Config{
			Concurrency:     2,
			Queues:          []string{stride.DefaultQueue},
			PollInterval:    5 * time.Millisecond,
			ShutdownTimeout: time.Second,
		}),
	}

	eng, err := engine.Build(memory.New(), append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}

	return eng
}

func TestBuild_RequiresStore(t *testing.T) {
	if _, err := engine.Build(nil); !errors.Is(err, stride.ErrNoStore) {
		t.Errorf("err = %v, want ErrNoStore", err)
	}
}

func TestEnqueue_ValidatesInput(t *testing.T) {
	eng := newEngine(t)

	type orderInput struct {
		OrderID string `json:"order_id"`
	}

	def := flow.New("process_order", func(r *flow.Run, in orderInput) error {
		return nil
	})
	if err := engine.Register(eng, def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	if _, err := engine.Enqueue(ctx, eng, "process_order", orderInput{OrderID: "ord_1"}); err != nil {
		t.Fatalf("valid enqueue: %v", err)
	}

	_, err := eng.EnqueueRaw(ctx, "process_order", []byte(`{"order_id":12}`))
	if err == nil {
		t.Fatal("malformed payload accepted at enqueue")
	}

	var verr *stride.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err type = %T, want *stride.ValidationError", err)
	}
}

func TestEnqueue_AppliesFlowOptions(t *testing.T) {
	eng := newEngine(t)

	def := flow.New("bulk", func(*flow.Run, struct{}) error { return nil },
		job.WithQueue("bulk"), job.WithMaxRetries(7))
	if err := engine.Register(eng, def); err != nil {
		t.Fatal(err)
	}

	j, err := engine.Enqueue(context.Background(), eng, "bulk", struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	if j.Queue != "bulk" || j.MaxRetries != 7 {
		t.Errorf("queue = %q, max retries = %d", j.Queue, j.MaxRetries)
	}

	// Call-level options override flow defaults.
	j, err = engine.Enqueue(context.Background(), eng, "bulk", struct{}{}, job.WithMaxRetries(1))
	if err != nil {
		t.Fatal(err)
	}
	if j.MaxRetries != 1 {
		t.Errorf("max retries = %d, want 1", j.MaxRetries)
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	eng := newEngine(t)

	var processed atomic.Int32
	def := flow.New("work", func(r *flow.Run, _ struct{}) error {
		return r.Step("do", func(context.Context) error {
			processed.Add(1)
			return nil
		})
	})
	if err := engine.Register(eng, def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := eng.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	j, err := engine.Enqueue(ctx, eng, "work", struct{}{})
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for processed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got, err := eng.Store().GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}

	waitFor := time.Now().Add(time.Second)
	for got.State != job.StateCompleted && time.Now().Before(waitFor) {
		time.Sleep(5 * time.Millisecond)
		got, _ = eng.Store().GetJob(ctx, j.ID)
	}

	if err := eng.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if processed.Load() != 1 {
		t.Errorf("processed = %d, want 1", processed.Load())
	}
	if got.State != job.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
}

func TestEngine_Analyze(t *testing.T) {
	eng := newEngine(t)

	def := flow.New("inspectable", func(r *flow.Run, _ struct{}) error {
		if err := r.Step("first", func(context.Context) error { return nil }); err != nil {
			return err
		}
		return r.Sleep("pause", time.Hour)
	})
	if err := engine.Register(eng, def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	j, err := engine.Enqueue(ctx, eng, "inspectable", struct{}{})
	if err != nil {
		t.Fatal(err)
	}

	steps, err := eng.Analyze(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 || steps[0].Slug != "first" || steps[0].Status != state.StatusPending {
		t.Errorf("fresh job steps = %+v", steps)
	}
}
