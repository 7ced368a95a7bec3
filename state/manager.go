package state

import (
	"context"
	"encoding/json"
	"errors"
)

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Manager mediates all mutations of a single step's durable record.
// Completed steps are replay-skipped; every other status is runnable.
// That includes an active leftover from an invocation that crashed
// before recording an outcome, which a later delivery must re-run.
type Manager struct {
	state    *JobState
	slug     string
	runnable bool
}

// NewManager binds a manager to the step slug within js.
func NewManager(js *JobState, slug string) *Manager {
	st := js.Step(slug)
	runnable := st == nil || st.Status != StatusCompleted

	return &Manager{state: js, slug: slug, runnable: runnable}
}

// Get returns the step record, or nil if the step has never been
// started.
func (m *Manager) Get() *StepState {
	return m.state.Step(m.slug)
}

// Runnable reports whether the step may execute in this invocation.
func (m *Manager) Runnable() bool {
	return m.runnable
}

// Start ensures the step record exists. A fresh step is created
// pending; an existing record is left untouched.
func (m *Manager) Start() *StepState {
	st := m.state.Step(m.slug)
	if st == nil {
		st = &StepState{Slug: m.slug, Status: StatusPending}
		m.state.Steps[m.slug] = st
	}

	return st
}

// Begin moves the step to active and counts the attempt. It is called
// exactly once per execution of the step function, so Attempts reflects
// how many times the function actually ran.
func (m *Manager) Begin() *StepState {
	st := m.Start()
	st.Status = StatusActive
	st.Attempts++

	return st
}

// Complete records a successful result and clears any earlier failure.
func (m *Manager) Complete(result json.RawMessage) *StepState {
	st := m.Start()
	st.Status = StatusCompleted
	st.Result = result
	st.Error = nil

	return st
}

// Fail records err as the step's failure. The step stays re-runnable on
// the next invocation.
func (m *Manager) Fail(err error) *StepState {
	st := m.Start()
	st.Status = StatusFailed
	st.Error = NewFault(err)

	return st
}

// MarkDelayed parks the step with scratch data for the resume pass.
func (m *Manager) MarkDelayed(data json.RawMessage) *StepState {
	st := m.Start()
	st.Status = StatusDelayed
	st.Data = data

	return st
}
