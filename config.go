package stride

import "time"

// Queue behaviour defaults. These are named constants rather than
// inline literals so call sites say what they pass.
const (
	// DefaultQueue is the queue jobs land on when none is specified.
	DefaultQueue = "default"

	// DefaultMaxRetries is the retry budget for a job whose flow fails.
	DefaultMaxRetries = 3

	// DefaultJobTimeout bounds a single invocation of a job's flow.
	DefaultJobTimeout = 5 * time.Minute

	// DefaultResumePriority is applied to a job when a sleep parks it,
	// so that once its delay expires it is not starved behind freshly
	// enqueued work.
	DefaultResumePriority = 10

	// DefaultInvokePollInterval spaces the checks an invoke-and-wait
	// step makes against its target job.
	DefaultInvokePollInterval = 2 * time.Second

	// MaxBufferedLogs caps the run log entries flushed into a job's
	// payload per invocation. Older entries win; overflow is counted.
	MaxBufferedLogs = 256
)

// Config holds worker-facing configuration for an engine.
type Config struct {
	// Concurrency is the number of jobs processed at once.
	Concurrency int

	// Queues is the list of queues the workers poll.
	Queues []string

	// PollInterval is how often an idle worker polls for jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		Queues:          []string{DefaultQueue},
		PollInterval:    time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
