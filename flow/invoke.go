package flow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/stride"
	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
	"github.com/xraph/stride/state"
)

type invokeData struct {
	JobID string `json:"job_id"`
}

// Invoke enqueues a job for the named target flow with input and waits
// for its result, parking this job between polls instead of blocking a
// worker. The target job is enqueued exactly once; replays reuse the
// recorded job ID. R is decoded from the value the target flow set via
// Run.Return.
func Invoke[T, R any](r *Run, slug, target string, input T, opts ...job.Option) (R, error) {
	var zero R

	mgr, dec, err := r.gate(slug)
	if err != nil {
		return zero, err
	}

	if dec == skipCached {
		var cached R
		if res := mgr.Get().Result; len(res) > 0 {
			if err := json.Unmarshal(res, &cached); err != nil {
				return zero, fmt.Errorf("flow: invoke %q: decode cached result: %w", slug, err)
			}
		}

		return cached, nil
	}

	// A delayed marker means we already enqueued the target and parked.
	// Check on it.
	if st := mgr.Get(); st != nil && st.Status == state.StatusDelayed {
		return pollInvoked[R](r, slug, mgr, st)
	}

	encoded, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("flow: invoke %q: encode input: %w", slug, err)
	}

	targetJob := job.New(target, encoded, job.DefaultOptions().Apply(opts...))

	mgr.Begin()
	attempt := r.recorder.BeginStep(slug)

	if err := r.backend.EnqueueJob(r.ctx, targetJob); err != nil {
		err = fmt.Errorf("flow: invoke %q: enqueue %q: %w", slug, target, err)
		attempt.Fail(err)
		mgr.Fail(err)

		return zero, &stride.StepError{Slug: slug, Err: err}
	}

	attempt.Complete()

	data, err := json.Marshal(invokeData{JobID: targetJob.ID.String()})
	if err != nil {
		return zero, fmt.Errorf("flow: invoke %q: %w", slug, err)
	}

	mgr.MarkDelayed(data)

	resumeAt := time.Now().UTC().Add(stride.DefaultInvokePollInterval)
	if err := r.backend.DelayJob(r.ctx, r.job.ID, resumeAt); err != nil {
		err = fmt.Errorf("flow: invoke %q: park job: %w", slug, err)
		mgr.Fail(err)

		return zero, err
	}

	return zero, &stride.SuspendError{Slug: slug, ResumeAt: resumeAt}
}

func pollInvoked[R any](r *Run, slug string, mgr *state.Manager, st *state.StepState) (R, error) {
	var zero R

	var data invokeData
	if err := json.Unmarshal(st.Data, &data); err != nil {
		return zero, fmt.Errorf("flow: invoke %q: decode marker: %w", slug, err)
	}

	targetID, err := id.ParseJobID(data.JobID)
	if err != nil {
		return zero, fmt.Errorf("flow: invoke %q: %w", slug, err)
	}

	tj, err := r.backend.GetJob(r.ctx, targetID)
	if err != nil {
		return zero, fmt.Errorf("flow: invoke %q: fetch target: %w", slug, err)
	}

	switch tj.State {
	case job.StateCompleted:
		output, err := jobOutput(tj, r.codec)
		if err != nil {
			return zero, fmt.Errorf("flow: invoke %q: %w", slug, err)
		}

		mgr.Complete(output)

		var result R
		if len(output) > 0 {
			if err := json.Unmarshal(output, &result); err != nil {
				return zero, fmt.Errorf("flow: invoke %q: decode result: %w", slug, err)
			}
		}

		return result, nil

	case job.StateFailed:
		err := fmt.Errorf("invoked job %q failed: %s", data.JobID, tj.LastError)
		mgr.Fail(err)

		return zero, &stride.StepError{Slug: slug, Err: err}

	default:
		// Still in flight. Park again and poll later.
		mgr.MarkDelayed(st.Data)

		resumeAt := time.Now().UTC().Add(stride.DefaultInvokePollInterval)
		if err := r.backend.DelayJob(r.ctx, r.job.ID, resumeAt); err != nil {
			err = fmt.Errorf("flow: invoke %q: park job: %w", slug, err)
			mgr.Fail(err)

			return zero, err
		}

		return zero, &stride.SuspendError{Slug: slug, ResumeAt: resumeAt}
	}
}

// jobOutput extracts the flow output recorded in a finished job's
// payload.
func jobOutput(j *job.Job, codec state.Codec) (json.RawMessage, error) {
	js, err := state.Load(j.Payload, codec, nil)
	if err != nil {
		return nil, fmt.Errorf("decode target state: %w", err)
	}

	return js.Output, nil
}
