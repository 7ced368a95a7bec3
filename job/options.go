package job

import (
	"time"

	"github.com/xraph/stride"
)

// Options configure a job at enqueue time.
type Options struct {
	MaxRetries int
	Queue      string
	Priority   int
	Timeout    time.Duration
	RunAt      time.Time
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns the baseline options applied before flow-level
// and call-level options.
func DefaultOptions() Options {
	return Options{
		MaxRetries: stride.DefaultMaxRetries,
		Queue:      stride.DefaultQueue,
		Timeout:    stride.DefaultJobTimeout,
	}
}

// Apply returns o with each opt applied in order.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithQueue routes the job to the named queue.
func WithQueue(queue string) Option {
	return func(o *Options) { o.Queue = queue }
}

// WithPriority sets delivery priority; higher runs first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout bounds each invocation of the job's flow.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt schedules the job's first delivery.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}
