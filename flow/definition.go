package flow

import (
	"github.com/xraph/stride/job"
)

// Definition describes a flow: its name, its typed handler, and the
// job options applied to every job enqueued for it.
type Definition[T any] struct {
	Name    string
	Handler func(r *Run, input T) error
	Opts    job.Options
}

// New builds a flow definition. The input type T doubles as the flow's
// input schema: payloads that do not decode into T are rejected before
// any step runs.
func New[T any](name string, handler func(r *Run, input T) error, opts ...job.Option) Definition[T] {
	return Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    job.DefaultOptions().Apply(opts...),
	}
}
