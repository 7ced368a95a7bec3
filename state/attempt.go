package state

import (
	"time"
)

// Type distinguishes job-level attempts from step-level attempts in the
// shared ledger format.
type Type string

const (
	TypeJob  Type = "job"
	TypeStep Type = "step"
)

// AttemptStatus is the terminal (or in-flight) status of one attempt.
type AttemptStatus string

const (
	AttemptActive    AttemptStatus = "active"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

// Attempt is one entry in the execution ledger: a single run of a job's
// flow or of one step function, with timing and outcome.
type Attempt struct {
	Name      string        `json:"name"                msgpack:"name"`
	Type      Type          `json:"type"                msgpack:"type"`
	Status    AttemptStatus `json:"status"              msgpack:"status"`
	StartedAt time.Time     `json:"started_at"          msgpack:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"  msgpack:"ended_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"  msgpack:"duration,omitempty"`
	Error     *Fault        `json:"error,omitempty"     msgpack:"error,omitempty"`
}

// Handle is a live attempt under construction. Completing or failing it
// is idempotent; the first terminal call wins.
type Handle struct {
	attempt Attempt
}

func newHandle(name string, typ Type) *Handle {
	return &Handle{attempt: Attempt{
		Name:      name,
		Type:      typ,
		Status:    AttemptActive,
		StartedAt: time.Now().UTC(),
	}}
}

// Complete marks the attempt successful.
func (h *Handle) Complete() {
	h.finish(AttemptCompleted, nil)
}

// Fail marks the attempt failed with err.
func (h *Handle) Fail(err error) {
	h.finish(AttemptFailed, NewFault(err))
}

// Status returns the attempt's current status.
func (h *Handle) Status() AttemptStatus {
	return h.attempt.Status
}

func (h *Handle) finish(status AttemptStatus, fault *Fault) {
	if h.attempt.Status != AttemptActive {
		return
	}

	now := time.Now().UTC()
	h.attempt.Status = status
	h.attempt.EndedAt = &now
	h.attempt.Duration = now.Sub(h.attempt.StartedAt)
	h.attempt.Error = fault
}

// Format returns the attempt record for the ledger, backfilling EndedAt
// and Duration if the attempt never reached a terminal call.
func (h *Handle) Format() Attempt {
	a := h.attempt
	if a.EndedAt == nil {
		now := time.Now().UTC()
		a.EndedAt = &now
		a.Duration = now.Sub(a.StartedAt)
	}

	return a
}

// Recorder collects the attempts of one invocation: at most one job
// attempt and any number of step attempts, in execution order.
type Recorder struct {
	job   *Handle
	steps []*Handle
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// BeginJob opens the invocation's job attempt.
func (r *Recorder) BeginJob(name string) *Handle {
	r.job = newHandle(name, TypeJob)

	return r.job
}

// BeginStep opens a step attempt for slug.
func (r *Recorder) BeginStep(slug string) *Handle {
	h := newHandle("step."+slug, TypeStep)
	r.steps = append(r.steps, h)

	return h
}

// Flush appends the recorded attempts to the job state's ledgers. Step
// attempts are always flushed. The job attempt is flushed only once it
// is terminal: a suspended invocation neither completed nor failed, so
// its job attempt is discarded rather than recorded half-open.
func (r *Recorder) Flush(js *JobState) {
	for _, h := range r.steps {
		js.StepAttempts = append(js.StepAttempts, h.Format())
	}

	if r.job != nil && r.job.Status() != AttemptActive {
		js.JobAttempts = append(js.JobAttempts, r.job.Format())
	}
}
