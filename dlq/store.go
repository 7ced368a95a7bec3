package dlq

import (
	"context"
	"time"

	"github.com/xraph/stride/id"
)

// ListOpts pages DLQ listings.
type ListOpts struct {
	Limit  int
	Offset int
	Queue  string
}

// Store is the persistence contract for dead letter entries.
type Store interface {
	// PushDLQ persists a new entry.
	PushDLQ(ctx context.Context, e *Entry) error

	// ListDLQ returns entries, newest failure first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ fetches an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ marks the entry replayed at the given time.
	ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error

	// PurgeDLQ deletes entries that failed before the cutoff and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ counts entries, replayed ones included.
	CountDLQ(ctx context.Context) (int64, error)
}
