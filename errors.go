package stride

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("stride: no store configured")
	ErrStoreClosed = errors.New("stride: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("stride: job not found")
	ErrDLQNotFound = errors.New("stride: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("stride: job already exists")

	// Registration errors.
	ErrFlowNotFound = errors.New("stride: no flow registered")

	// State errors.
	ErrInvalidState = errors.New("stride: invalid state transition")
)

// ValidationError reports a job input that does not conform to the
// flow's declared schema. It is fatal for the current invocation; the
// queue's own retry policy decides what happens to the job afterwards.
type ValidationError struct {
	Flow string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Flow == "" {
		return fmt.Sprintf("stride: invalid input: %v", e.Err)
	}
	return fmt.Sprintf("stride: invalid input for flow %q: %v", e.Flow, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidStepError reports a step primitive reached while the step is
// not executable, which is any non-completed step reached by a run
// that is not in execute purpose. It fails the invocation.
type InvalidStepError struct {
	Slug    string
	Status  string
	Purpose string
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("stride: step %q is not executable (status %s, purpose %s)",
		e.Slug, e.Status, e.Purpose)
}

// StepError wraps a failure returned by a user step function. The
// failure is recorded on the step state and the step attempt before the
// StepError propagates up and fails the invocation.
type StepError struct {
	Slug string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("stride: step %q: %v", e.Slug, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// SuspendError is the suspend signal. A sleep-type step parked its job
// in the queue and the invocation must stop cleanly: nothing failed,
// no retry is consumed, and the queue redelivers the job at ResumeAt.
// Flow handlers should return it unchanged.
type SuspendError struct {
	Slug     string
	ResumeAt time.Time
}

func (e *SuspendError) Error() string {
	return fmt.Sprintf("stride: suspended at step %q until %s",
		e.Slug, e.ResumeAt.Format(time.RFC3339))
}

// Suspended reports whether err is (or wraps) the suspend signal.
func Suspended(err error) bool {
	var s *SuspendError
	return errors.As(err, &s)
}
