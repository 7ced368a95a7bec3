package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/stride/job"
)

// Logging logs the start and end of every job execution with timing.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()

		logger.Debug("job started",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
			slog.Int("retry_count", j.RetryCount))

		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job errored",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()))

			return err
		}

		logger.Info("job finished",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Duration("elapsed", elapsed))

		return nil
	}
}
