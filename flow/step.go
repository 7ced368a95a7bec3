package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/stride"
	"github.com/xraph/stride/state"
)

type decision int

const (
	runStep decision = iota
	skipCached
)

// gate decides what a step primitive does with its slug: run the step,
// reuse the cached result, or reject the call. Only execute-purpose
// invocations may run a step; any non-completed status is runnable, so
// a crashed attempt's active leftover re-runs on the next delivery.
func (r *Run) gate(slug string) (*state.Manager, decision, error) {
	r.touch(slug)

	mgr := state.NewManager(r.state, slug)

	if st := mgr.Get(); st != nil && st.Status == state.StatusCompleted {
		return mgr, skipCached, nil
	}

	status := "absent"
	if st := mgr.Get(); st != nil {
		status = string(st.Status)
	}

	if r.purpose != PurposeExecute || !mgr.Runnable() {
		return nil, 0, &stride.InvalidStepError{
			Slug:    slug,
			Status:  status,
			Purpose: string(r.purpose),
		}
	}

	return mgr, runStep, nil
}

// Exec runs a step that produces a value. On the first successful run
// the value is recorded in the job state; replays return the recorded
// value without calling fn. A failed fn is recorded on the step and
// returned wrapped in a *stride.StepError, failing the invocation; the
// step re-runs when the queue redelivers the job.
func Exec[T any](r *Run, slug string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	mgr, dec, err := r.gate(slug)
	if err != nil {
		return zero, err
	}

	if dec == skipCached {
		var cached T
		if res := mgr.Get().Result; len(res) > 0 {
			if err := json.Unmarshal(res, &cached); err != nil {
				return zero, fmt.Errorf("flow: step %q: decode cached result: %w", slug, err)
			}
		}

		return cached, nil
	}

	mgr.Begin()
	attempt := r.recorder.BeginStep(slug)

	result, err := fn(r.ctx)
	if err != nil {
		attempt.Fail(err)
		mgr.Fail(err)

		return zero, &stride.StepError{Slug: slug, Err: err}
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		err = fmt.Errorf("flow: step %q: encode result: %w", slug, err)
		attempt.Fail(err)
		mgr.Fail(err)

		return zero, &stride.StepError{Slug: slug, Err: err}
	}

	attempt.Complete()
	mgr.Complete(encoded)

	return result, nil
}

// Step runs a step with no result value.
func (r *Run) Step(slug string, fn func(ctx context.Context) error) error {
	_, err := Exec(r, slug, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	return err
}

// Sleep parks the job for d without holding a worker. It returns a
// *stride.SuspendError that the handler must pass up; the queue
// redelivers the job once the delay expires and the flow resumes past
// this step. A completed sleep is skipped on replay.
func (r *Run) Sleep(slug string, d time.Duration) error {
	return r.sleepUntil(slug, time.Now().UTC().Add(d))
}

// SleepUntil parks the job until t. Times in the past resume
// immediately.
func (r *Run) SleepUntil(slug string, t time.Time) error {
	if now := time.Now().UTC(); t.Before(now) {
		t = now
	}

	return r.sleepUntil(slug, t)
}

type sleepData struct {
	ResumeAt time.Time `json:"resume_at"`
}

func (r *Run) sleepUntil(slug string, resumeAt time.Time) error {
	mgr, dec, err := r.gate(slug)
	if err != nil {
		return err
	}

	if dec == skipCached {
		return nil
	}

	// A delayed marker means the queue already redelivered us: the
	// sleep is over. Consume the marker and continue.
	if st := mgr.Get(); st != nil && st.Status == state.StatusDelayed {
		mgr.Complete(json.RawMessage("true"))

		return nil
	}

	mgr.Start()

	data, err := json.Marshal(sleepData{ResumeAt: resumeAt})
	if err != nil {
		return fmt.Errorf("flow: sleep %q: %w", slug, err)
	}

	mgr.MarkDelayed(data)

	if err := r.backend.DelayJob(r.ctx, r.job.ID, resumeAt); err != nil {
		err = fmt.Errorf("flow: sleep %q: park job: %w", slug, err)
		mgr.Fail(err)

		return err
	}

	return &stride.SuspendError{Slug: slug, ResumeAt: resumeAt}
}
