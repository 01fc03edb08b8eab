package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/coord/task"
)

// meterName is the instrumentation scope name for coord metrics.
const meterName = "github.com/xraph/coord"

// Outcome labels recorded under the coord.status attribute.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
)

// Outcome classifies the error a plugin run ended with.
func Outcome(err error) string {
	var pe *PanicError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &pe):
		return OutcomePanic
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

// Metrics returns middleware that records plugin runs using the global OTel
// MeterProvider.
//
// Instruments, all with attributes coord.plugin, coord.queue and
// coord.status:
//   - coord.task.duration (Float64Histogram): run time in seconds
//   - coord.task.executions (Int64Counter): number of runs
//   - coord.task.attempts (Int64Histogram): the attempt number each run was
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API hands back noop instruments.
	duration, _ := meter.Float64Histogram(
		"coord.task.duration",
		metric.WithDescription("Duration of plugin runs in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"coord.task.executions",
		metric.WithDescription("Number of plugin runs"),
		metric.WithUnit("{execution}"),
	)
	attempts, _ := meter.Int64Histogram(
		"coord.task.attempts",
		metric.WithDescription("Attempt number of each plugin run"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, t *task.Task, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("coord.plugin", t.Plugin),
			attribute.String("coord.queue", t.Queue),
			attribute.String("coord.status", Outcome(err)),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		attempts.Record(ctx, int64(t.Attempts), attrs)

		return err
	}
}
