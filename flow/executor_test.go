package flow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/stride"
	"github.com/xraph/stride/flow"
	"github.com/xraph/stride/state"
)

func TestExecute_PersistsStateOnEveryPath(t *testing.T) {
	registry := flow.NewRegistry()
	backend := newFakeBackend()

	fail := flow.New("fails", func(r *flow.Run, _ struct{}) error {
		return r.Step("boom", func(context.Context) error { return errors.New("boom") })
	})
	sleep := flow.New("sleeps", func(r *flow.Run, _ struct{}) error {
		return r.Sleep("wait", time.Minute)
	})
	done := flow.New("completes", func(r *flow.Run, _ struct{}) error {
		return r.Step("ok", func(context.Context) error { return nil })
	})
	for _, def := range []flow.Definition[struct{}]{fail, sleep, done} {
		if err := flow.Register(registry, def); err != nil {
			t.Fatal(err)
		}
	}

	exec := flow.NewExecutor(registry, backend, flow.WithLogger(discardLogger()))

	for _, name := range []string{"fails", "sleeps", "completes"} {
		j := testJob(name, []byte(`{}`))
		before := len(backend.payloads)

		runOnce(t, exec, j)

		if len(backend.payloads) != before+1 {
			t.Errorf("%s: state not persisted", name)
		}

		js, err := state.Load(j.Payload, state.JSON{}, nil)
		if err != nil {
			t.Fatalf("%s: reload persisted state: %v", name, err)
		}
		if !js.Prepared {
			t.Errorf("%s: persisted state not prepared", name)
		}
	}
}

func TestExecute_JobAttemptOnlyWhenTerminal(t *testing.T) {
	registry := flow.NewRegistry()
	backend := newFakeBackend()

	def := flow.New("sleeper", func(r *flow.Run, _ struct{}) error {
		if err := r.Sleep("wait", time.Minute); err != nil {
			return err
		}
		return nil
	})
	if err := flow.Register(registry, def); err != nil {
		t.Fatal(err)
	}

	exec := flow.NewExecutor(registry, backend, flow.WithLogger(discardLogger()))
	j := testJob("sleeper", []byte(`{}`))

	// Suspended invocation: no job attempt recorded.
	runOnce(t, exec, j)
	js, _ := state.Load(j.Payload, state.JSON{}, nil)
	if len(js.JobAttempts) != 0 {
		t.Fatalf("job attempts after suspend = %d, want 0", len(js.JobAttempts))
	}

	// Terminal invocation: exactly one job attempt.
	runOnce(t, exec, j)
	js, _ = state.Load(j.Payload, state.JSON{}, nil)
	if len(js.JobAttempts) != 1 {
		t.Fatalf("job attempts after completion = %d, want 1", len(js.JobAttempts))
	}
	if js.JobAttempts[0].Status != state.AttemptCompleted {
		t.Errorf("job attempt status = %s", js.JobAttempts[0].Status)
	}
}

func TestExecute_LedgerOrderAndTiming(t *testing.T) {
	registry := flow.NewRegistry()
	backend := newFakeBackend()

	def := flow.New("ledger", func(r *flow.Run, _ struct{}) error {
		if err := r.Step("one", func(context.Context) error { return nil }); err != nil {
			return err
		}
		return r.Step("two", func(context.Context) error { return nil })
	})
	if err := flow.Register(registry, def); err != nil {
		t.Fatal(err)
	}

	exec := flow.NewExecutor(registry, backend, flow.WithLogger(discardLogger()))
	j := testJob("ledger", []byte(`{}`))
	runOnce(t, exec, j)

	js, _ := state.Load(j.Payload, state.JSON{}, nil)
	if len(js.StepAttempts) != 2 {
		t.Fatalf("step attempts = %d, want 2", len(js.StepAttempts))
	}
	if js.StepAttempts[0].Name != "step.one" || js.StepAttempts[1].Name != "step.two" {
		t.Errorf("attempt order: %s, %s", js.StepAttempts[0].Name, js.StepAttempts[1].Name)
	}

	for _, a := range js.StepAttempts {
		if a.EndedAt == nil {
			t.Fatalf("%s: open attempt in ledger", a.Name)
		}
		if a.EndedAt.Before(a.StartedAt) {
			t.Errorf("%s: ended %v before started %v", a.Name, a.EndedAt, a.StartedAt)
		}
	}
	if js.StepAttempts[0].StartedAt.After(js.StepAttempts[1].StartedAt) {
		t.Error("step attempts out of execution order")
	}
}

func TestExecute_FlushesRunLogs(t *testing.T) {
	registry := flow.NewRegistry()
	backend := newFakeBackend()

	def := flow.New("chatty", func(r *flow.Run, _ struct{}) error {
		r.Logger().Info("starting work", "region", "us-east-1")
		return r.Step("work", func(context.Context) error {
			r.Logger().Debug("inside step")
			return nil
		})
	})
	if err := flow.Register(registry, def); err != nil {
		t.Fatal(err)
	}

	exec := flow.NewExecutor(registry, backend, flow.WithLogger(discardLogger()))
	j := testJob("chatty", []byte(`{}`))
	runOnce(t, exec, j)

	js, _ := state.Load(j.Payload, state.JSON{}, nil)
	if len(js.Logs) != 2 {
		t.Fatalf("flushed logs = %d, want 2", len(js.Logs))
	}
	if js.Logs[0].Message != "starting work" {
		t.Errorf("first log = %q", js.Logs[0].Message)
	}
	if js.Logs[0].Attrs["region"] != "us-east-1" {
		t.Errorf("log attrs = %v", js.Logs[0].Attrs)
	}
	if js.Logs[0].Attrs["flow"] != "chatty" {
		t.Errorf("log missing flow attr: %v", js.Logs[0].Attrs)
	}
}

func TestAnalyze_SnapshotsWithoutExecuting(t *testing.T) {
	registry := flow.NewRegistry()
	backend := newFakeBackend()

	var runs int
	def := flow.New("inspectable", func(r *flow.Run, _ struct{}) error {
		if err := r.Step("first", func(context.Context) error { runs++; return nil }); err != nil {
			return err
		}
		if err := r.Sleep("pause", time.Hour); err != nil {
			return err
		}
		return r.Step("last", func(context.Context) error { runs++; return nil })
	})
	if err := flow.Register(registry, def); err != nil {
		t.Fatal(err)
	}

	exec := flow.NewExecutor(registry, backend, flow.WithLogger(discardLogger()))
	j := testJob("inspectable", []byte(`{}`))

	// Park at the sleep, then analyze the suspended job.
	runOnce(t, exec, j)
	runsBefore := runs

	steps, err := exec.Analyze(context.Background(), j)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if runs != runsBefore {
		t.Error("analyze executed a step function")
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2 (walk stops at the parked sleep)", len(steps))
	}
	if steps[0].Slug != "first" || steps[0].Status != state.StatusCompleted {
		t.Errorf("steps[0] = %+v", steps[0])
	}
	if steps[1].Slug != "pause" || steps[1].Status != state.StatusDelayed {
		t.Errorf("steps[1] = %+v", steps[1])
	}
}

func TestAnalyze_FreshJob(t *testing.T) {
	registry := flow.NewRegistry()
	backend := newFakeBackend()

	def := flow.New("fresh", func(r *flow.Run, _ struct{}) error {
		return r.Step("only", func(context.Context) error { return nil })
	})
	if err := flow.Register(registry, def); err != nil {
		t.Fatal(err)
	}

	exec := flow.NewExecutor(registry, backend, flow.WithLogger(discardLogger()))
	j := testJob("fresh", []byte(`{}`))

	steps, err := exec.Analyze(context.Background(), j)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(steps) != 1 || steps[0].Slug != "only" || steps[0].Status != state.StatusPending {
		t.Errorf("steps = %+v", steps)
	}
}

func TestAnalyze_RaisesOnNonCompletedStep(t *testing.T) {
	registry := flow.NewRegistry()
	backend := newFakeBackend()

	var gateErr error
	executed := false
	def := flow.New("gated", func(r *flow.Run, _ struct{}) error {
		gateErr = r.Step("only", func(context.Context) error {
			executed = true
			return nil
		})
		return gateErr
	})
	if err := flow.Register(registry, def); err != nil {
		t.Fatal(err)
	}

	exec := flow.NewExecutor(registry, backend, flow.WithLogger(discardLogger()))
	j := testJob("gated", []byte(`{}`))

	steps, err := exec.Analyze(context.Background(), j)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// The step primitive itself must reject the non-completed step
	// inside an analyze run; the snapshot records where the walk ended.
	var invalid *stride.InvalidStepError
	if !errors.As(gateErr, &invalid) {
		t.Fatalf("step returned %v, want *stride.InvalidStepError", gateErr)
	}
	if invalid.Slug != "only" || invalid.Purpose != string(flow.PurposeAnalyze) {
		t.Errorf("rejection = %+v", invalid)
	}
	if executed {
		t.Error("analyze executed the step function")
	}
	if len(steps) != 1 || steps[0].Status != state.StatusPending {
		t.Errorf("steps = %+v", steps)
	}
}

func TestExecute_PanicRecordedInLedger(t *testing.T) {
	registry := flow.NewRegistry()
	backend := newFakeBackend()

	def := flow.New("panics", func(r *flow.Run, _ struct{}) error {
		return r.Step("work", func(context.Context) error {
			panic("nil map write")
		})
	})
	if err := flow.Register(registry, def); err != nil {
		t.Fatal(err)
	}

	exec := flow.NewExecutor(registry, backend, flow.WithLogger(discardLogger()))
	j := testJob("panics", []byte(`{}`))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic did not propagate out of Execute")
			}
		}()
		runOnce(t, exec, j)
	}()

	js, err := state.Load(j.Payload, state.JSON{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(js.JobAttempts) != 1 {
		t.Fatalf("job attempts = %d, want 1", len(js.JobAttempts))
	}
	a := js.JobAttempts[0]
	if a.Status != state.AttemptFailed {
		t.Errorf("job attempt status = %s, want failed", a.Status)
	}
	if a.Error == nil || !strings.Contains(a.Error.Message, "panic") {
		t.Errorf("job attempt error = %+v, want panic message", a.Error)
	}
	if a.EndedAt == nil {
		t.Error("panicked attempt left open in ledger")
	}
}

func TestOutcome_String(t *testing.T) {
	if flow.OutcomeCompleted.String() != "completed" ||
		flow.OutcomeSuspended.String() != "suspended" ||
		flow.OutcomeFailed.String() != "failed" {
		t.Error("outcome strings wrong")
	}
}

func TestSuspendErrorDetection(t *testing.T) {
	err := &stride.SuspendError{Slug: "wait", ResumeAt: time.Now()}
	if !stride.Suspended(err) {
		t.Error("Suspended missed a SuspendError")
	}
	if stride.Suspended(errors.New("plain")) {
		t.Error("Suspended matched a plain error")
	}
}
