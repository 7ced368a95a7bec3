package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/stride/job"
)

// Metrics records execution counts and durations with the global meter
// provider.
func Metrics() (Middleware, error) {
	return MetricsWithMeter(otel.Meter(tracerName))
}

// MetricsWithMeter is Metrics with an explicit meter.
func MetricsWithMeter(meter metric.Meter) (Middleware, error) {
	duration, err := meter.Float64Histogram("stride.job.duration",
		metric.WithDescription("Job execution duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	executions, err := meter.Int64Counter("stride.job.executions",
		metric.WithDescription("Job executions by status"))
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed.Seconds(), attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}, nil
}
