// Package dlq implements the dead letter queue: a durable parking lot
// for jobs that exhausted their retries, with replay back onto the
// main queue.
package dlq

import (
	"time"

	"github.com/xraph/stride/id"
)

// Entry is a dead-lettered job. The payload is preserved as it was at
// the moment of final failure, execution state included, so a replayed
// job resumes from its failed step rather than starting over.
type Entry struct {
	ID      id.DLQID `json:"id"`
	JobID   id.JobID `json:"job_id"`
	JobName string   `json:"job_name"`
	Queue   string   `json:"queue"`
	Payload []byte   `json:"payload"`

	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`

	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Replayed reports whether the entry has been sent back to the queue.
func (e *Entry) Replayed() bool {
	return e.ReplayedAt != nil
}
