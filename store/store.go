// Package store defines the full persistence contract an engine needs
// and hosts its implementations.
package store

import (
	"context"

	"github.com/xraph/stride/dlq"
	"github.com/xraph/stride/job"
)

// Store is the complete persistence surface: jobs plus the dead letter
// queue, with lifecycle hooks.
type Store interface {
	job.Store
	dlq.Store

	// Migrate creates or upgrades the backing schema. Safe to call on
	// every start.
	Migrate(ctx context.Context) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
