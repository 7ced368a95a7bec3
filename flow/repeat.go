package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xraph/stride"
)

// RepeatOptions configure a repeating step. Exactly one of Every or
// Cron must be set.
type RepeatOptions struct {
	// Every re-runs the step at a fixed interval.
	Every time.Duration

	// Cron re-runs the step on a standard 5-field cron schedule.
	Cron string

	// Limit caps the number of iterations. Zero means unlimited; the
	// step then ends only via Repeater.Stop.
	Limit int
}

// Repeater is handed to a repeating step's function so it can observe
// its iteration number and end the loop.
type Repeater struct {
	iteration int
	stopped   bool
}

// Iteration returns the current iteration, starting at 0.
func (rp *Repeater) Iteration() int { return rp.iteration }

// Stop ends the repetition after the current iteration.
func (rp *Repeater) Stop() { rp.stopped = true }

type repeatData struct {
	Iteration int `json:"iteration"`
}

// Repeat runs fn on a schedule, parking the job between iterations the
// same way Sleep does. Each iteration is one execution of fn; the
// iteration counter is durable, so restarts do not repeat an
// iteration. The step completes when Stop is called or Limit is
// reached, recording the number of iterations run.
func (r *Run) Repeat(slug string, opts RepeatOptions, fn func(ctx context.Context, rp *Repeater) error) error {
	mgr, dec, err := r.gate(slug)
	if err != nil {
		return err
	}

	if dec == skipCached {
		return nil
	}

	var sched cron.Schedule
	switch {
	case opts.Cron != "":
		sched, err = cron.ParseStandard(opts.Cron)
		if err != nil {
			return &stride.StepError{Slug: slug, Err: fmt.Errorf("invalid cron expression %q: %w", opts.Cron, err)}
		}
	case opts.Every <= 0:
		return &stride.StepError{Slug: slug, Err: fmt.Errorf("repeat requires Every or Cron")}
	}

	var data repeatData
	if st := mgr.Get(); st != nil && len(st.Data) > 0 {
		if err := json.Unmarshal(st.Data, &data); err != nil {
			return &stride.StepError{Slug: slug, Err: fmt.Errorf("decode iteration: %w", err)}
		}
	}

	mgr.Begin()
	attempt := r.recorder.BeginStep(slug)

	rp := &Repeater{iteration: data.Iteration}

	if err := fn(r.ctx, rp); err != nil {
		attempt.Fail(err)
		mgr.Fail(err)

		return &stride.StepError{Slug: slug, Err: err}
	}

	attempt.Complete()
	data.Iteration++

	if rp.stopped || (opts.Limit > 0 && data.Iteration >= opts.Limit) {
		result, err := json.Marshal(data.Iteration)
		if err != nil {
			return fmt.Errorf("flow: repeat %q: %w", slug, err)
		}

		mgr.Complete(result)

		return nil
	}

	next := time.Now().UTC().Add(opts.Every)
	if sched != nil {
		next = sched.Next(time.Now().UTC())
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("flow: repeat %q: %w", slug, err)
	}

	mgr.MarkDelayed(encoded)

	if err := r.backend.DelayJob(r.ctx, r.job.ID, next); err != nil {
		err = fmt.Errorf("flow: repeat %q: park job: %w", slug, err)
		mgr.Fail(err)

		return err
	}

	return &stride.SuspendError{Slug: slug, ResumeAt: next}
}
