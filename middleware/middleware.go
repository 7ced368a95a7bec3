// Package middleware provides composable wrappers around job
// execution: panic recovery, logging, timeouts, tracing, and metrics.
package middleware

import (
	"context"

	"github.com/xraph/stride/job"
)

// Handler is the inner execution a middleware wraps.
type Handler func(ctx context.Context) error

// Middleware wraps the execution of one job.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middlewares around final. The first middleware in the
// list is outermost.
func Chain(final Handler, j *job.Job, mws ...Middleware) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		inner := h
		h = func(ctx context.Context) error {
			return mw(ctx, j, inner)
		}
	}

	return h
}
