// Package state implements the durable execution state carried inside a
// job's payload. The state records the outcome of every step a flow has
// run, the attempts made against the job and its steps, and the logs
// emitted along the way. Because the state travels with the job through
// the queue, a re-delivered job replays its flow against the recorded
// outcomes and resumes where it left off.
package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle status of a single step.
type Status string

const (
	// StatusPending marks a step that was created but has not begun.
	StatusPending Status = "pending"

	// StatusActive marks a step whose function is currently running.
	StatusActive Status = "active"

	// StatusDelayed marks a sleep-type step that parked the job. It is a
	// one-shot marker: the next invocation consumes it and completes the
	// step instead of parking again.
	StatusDelayed Status = "delayed"

	// StatusCompleted marks a step whose result is durable. Replays skip
	// it and reuse the recorded result.
	StatusCompleted Status = "completed"

	// StatusFailed marks a step whose last run errored. Replays run it
	// again from scratch.
	StatusFailed Status = "failed"
)

// Fault is a serializable record of an error. It survives the payload
// round trip where a Go error value cannot.
type Fault struct {
	Message string `json:"message"             msgpack:"message"`
	Kind    string `json:"kind,omitempty"      msgpack:"kind,omitempty"`
}

// Fault kinds. Timeouts and cancellations are distinguished from plain
// errors so operators can tell a slow step from a broken one.
const (
	FaultError    = "error"
	FaultTimeout  = "timeout"
	FaultCanceled = "canceled"
)

// NewFault captures err as a Fault, classifying context deadline and
// cancellation errors.
func NewFault(err error) *Fault {
	if err == nil {
		return nil
	}

	f := &Fault{Message: err.Error(), Kind: FaultError}

	switch {
	case isTimeout(err):
		f.Kind = FaultTimeout
	case isCanceled(err):
		f.Kind = FaultCanceled
	}

	return f
}

func (f *Fault) Error() string {
	if f == nil {
		return ""
	}

	return f.Message
}

// StepState is the durable record of one step within a flow.
type StepState struct {
	Slug     string          `json:"slug"               msgpack:"slug"`
	Status   Status          `json:"status"             msgpack:"status"`
	Attempts int             `json:"attempts"           msgpack:"attempts"`
	Data     json.RawMessage `json:"data,omitempty"     msgpack:"data,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"   msgpack:"result,omitempty"`
	Error    *Fault          `json:"error,omitempty"    msgpack:"error,omitempty"`
}

// LogEntry is one buffered log record from a flow run, flushed into the
// job state when the invocation finishes.
type LogEntry struct {
	Time    time.Time         `json:"time"              msgpack:"time"`
	Level   string            `json:"level"             msgpack:"level"`
	Message string            `json:"message"           msgpack:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"   msgpack:"attrs,omitempty"`
}

// JobState is the execution state stored in a job's payload. Source is
// the original input the job was enqueued with; everything else is
// bookkeeping accumulated across invocations.
type JobState struct {
	// Source is the flow input as originally enqueued.
	Source json.RawMessage `json:"source"                  msgpack:"source"`

	// Prepared distinguishes a payload that is already a JobState from a
	// raw input payload that still needs wrapping.
	Prepared bool `json:"prepared"                         msgpack:"prepared"`

	// Steps maps step slug to its durable record.
	Steps map[string]*StepState `json:"steps"              msgpack:"steps"`

	// JobAttempts is the ledger of terminal invocations of this job.
	JobAttempts []Attempt `json:"job_attempts,omitempty"   msgpack:"job_attempts,omitempty"`

	// StepAttempts is the ledger of step function executions, across all
	// invocations, in execution order.
	StepAttempts []Attempt `json:"step_attempts,omitempty" msgpack:"step_attempts,omitempty"`

	// Logs holds flushed run logs, oldest first.
	Logs []LogEntry `json:"logs,omitempty"                 msgpack:"logs,omitempty"`

	// Output is the flow's return value, if the handler set one.
	Output json.RawMessage `json:"output,omitempty"        msgpack:"output,omitempty"`
}

// Load decodes a job payload into a JobState. A payload that already
// holds a prepared state is decoded as-is; anything else is treated as
// the original flow input and wrapped into a fresh state. When validate
// is non-nil it is run against the source input before the state is
// returned.
func Load(raw []byte, codec Codec, validate Validator) (*JobState, error) {
	js := &JobState{}

	if err := codec.Unmarshal(raw, js); err != nil || !js.Prepared {
		// Raw input payload. Wrap it.
		js = &JobState{
			Source:   json.RawMessage(raw),
			Prepared: true,
		}
	}

	if js.Steps == nil {
		js.Steps = make(map[string]*StepState)
	}

	if validate != nil {
		if err := validate(js.Source); err != nil {
			return nil, fmt.Errorf("state: load: %w", err)
		}
	}

	return js, nil
}

// Step returns the recorded state for slug, or nil if the step has
// never run.
func (s *JobState) Step(slug string) *StepState {
	return s.Steps[slug]
}
