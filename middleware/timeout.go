package middleware

import (
	"context"

	"github.com/xraph/stride/job"
)

// Timeout bounds each execution by the job's Timeout. Jobs with no
// timeout run unbounded.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		return next(ctx)
	}
}
