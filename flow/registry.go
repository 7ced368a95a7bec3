package flow

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/stride"
	"github.com/xraph/stride/job"
	"github.com/xraph/stride/state"
)

// HandlerFunc is the type-erased form of a flow handler, operating on
// the raw source input.
type HandlerFunc func(r *Run, source []byte) error

type registration struct {
	handler  HandlerFunc
	validate state.Validator
	opts     job.Options
}

// Registry maps flow names to their handlers, validators, and default
// job options. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]registration)}
}

// Register adds def to the registry, erasing its input type. The typed
// handler sees a decoded T; payloads that do not decode fail the
// invocation with a validation error before the handler runs.
func Register[T any](r *Registry, def Definition[T]) error {
	if def.Name == "" {
		return fmt.Errorf("flow: register: empty name")
	}
	if def.Handler == nil {
		return fmt.Errorf("flow: register %q: nil handler", def.Name)
	}

	handler := func(run *Run, source []byte) error {
		var input T
		if len(source) > 0 {
			if err := json.Unmarshal(source, &input); err != nil {
				return &stride.ValidationError{Flow: def.Name, Err: err}
			}
		}

		return def.Handler(run, input)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flows[def.Name]; exists {
		return fmt.Errorf("flow: register %q: already registered", def.Name)
	}

	r.flows[def.Name] = registration{
		handler:  handler,
		validate: state.Schema[T](def.Name),
		opts:     def.Opts,
	}

	return nil
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.flows[name]
	if !ok {
		return nil, fmt.Errorf("flow: %q: %w", name, stride.ErrFlowNotFound)
	}

	return reg.handler, nil
}

// Validator returns the input validator for name, or nil if the flow
// is unknown.
func (r *Registry) Validator(name string) state.Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.flows[name].validate
}

// Options returns the default job options for name. Unknown flows get
// the package defaults.
func (r *Registry) Options(name string) job.Options {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.flows[name]
	if !ok {
		return job.DefaultOptions()
	}

	return reg.opts
}

// Names returns the registered flow names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
