package state

import (
	"encoding/json"

	"github.com/xraph/stride"
)

// Validator checks a flow's source input before execution. A non-nil
// error fails the invocation without running any step.
type Validator func(source json.RawMessage) error

// Schema returns a Validator that requires source to decode into T.
// An empty source is allowed; flows with no input declare T as an
// empty struct.
func Schema[T any](flow string) Validator {
	return func(source json.RawMessage) error {
		if len(source) == 0 {
			return nil
		}

		var v T
		if err := json.Unmarshal(source, &v); err != nil {
			return &stride.ValidationError{Flow: flow, Err: err}
		}

		return nil
	}
}
