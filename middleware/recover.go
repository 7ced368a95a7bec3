package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/stride/job"
)

// Recover converts a panicking job into an ordinary failure so one bad
// flow cannot take down a worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error("job panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("job_name", j.Name),
					slog.Any("panic", r),
					slog.String("stack", string(stack)))

				err = fmt.Errorf("middleware: job %s panicked: %v", j.ID, r)
			}
		}()

		return next(ctx)
	}
}
