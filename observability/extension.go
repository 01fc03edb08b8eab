package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/coord/cluster"
	"github.com/xraph/coord/ext"
	"github.com/xraph/coord/job"
	"github.com/xraph/coord/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.JobSubmitted       = (*MetricsExtension)(nil)
	_ ext.JobFinished        = (*MetricsExtension)(nil)
	_ ext.TaskEnqueued       = (*MetricsExtension)(nil)
	_ ext.TaskAssigned       = (*MetricsExtension)(nil)
	_ ext.TaskCompleted      = (*MetricsExtension)(nil)
	_ ext.TaskFailed         = (*MetricsExtension)(nil)
	_ ext.TaskRecovered      = (*MetricsExtension)(nil)
	_ ext.TaskReleased       = (*MetricsExtension)(nil)
	_ ext.WorkerRegistered   = (*MetricsExtension)(nil)
	_ ext.WorkerUnregistered = (*MetricsExtension)(nil)
)

// MeterName is the instrumentation scope used by NewMetricsExtension.
const MeterName = "github.com/xraph/coord/observability"

// MetricsExtension records lifecycle counters through an OTel meter.
// Register it as an extension to track submission rates, completion and
// failure counts, and recoveries.
type MetricsExtension struct {
	JobsSubmitted       metric.Int64Counter
	JobsFinished        metric.Int64Counter
	TasksEnqueued       metric.Int64Counter
	TasksAssigned       metric.Int64Counter
	TasksCompleted      metric.Int64Counter
	TasksFailed         metric.Int64Counter
	TasksRecovered      metric.Int64Counter
	TasksReleased       metric.Int64Counter
	TaskLatency         metric.Float64Histogram
	WorkersRegistered   metric.Int64Counter
	WorkersUnregistered metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(MeterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Instrument creation errors fall back to the noop instruments the
// API returns alongside them.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	latency, _ := meter.Float64Histogram("coord.task.latency",
		metric.WithDescription("Time from assignment to completion in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobsSubmitted:       counter("coord.jobs.submitted", "Jobs created"),
		JobsFinished:        counter("coord.jobs.finished", "Jobs that reached a terminal status"),
		TasksEnqueued:       counter("coord.tasks.enqueued", "Task descriptors pushed onto a queue"),
		TasksAssigned:       counter("coord.tasks.assigned", "Tasks claimed by a worker"),
		TasksCompleted:      counter("coord.tasks.completed", "Tasks completed"),
		TasksFailed:         counter("coord.tasks.failed", "Tasks failed"),
		TasksRecovered:      counter("coord.tasks.recovered", "Tasks taken back from dead workers"),
		TasksReleased:       counter("coord.tasks.released", "Tasks handed back unexecuted"),
		TaskLatency:         latency,
		WorkersRegistered:   counter("coord.workers.registered", "Worker registrations"),
		WorkersUnregistered: counter("coord.workers.unregistered", "Worker unregistrations"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, _ *job.Job) error {
	m.JobsSubmitted.Add(ctx, 1)
	return nil
}

// OnJobFinished implements ext.JobFinished.
func (m *MetricsExtension) OnJobFinished(ctx context.Context, j *job.Job) error {
	m.JobsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(j.Status))))
	return nil
}

// ── Task lifecycle hooks ────────────────────────────

// OnTaskEnqueued implements ext.TaskEnqueued.
func (m *MetricsExtension) OnTaskEnqueued(ctx context.Context, t *task.Task) error {
	m.TasksEnqueued.Add(ctx, 1, pluginAttr(t))
	return nil
}

// OnTaskAssigned implements ext.TaskAssigned.
func (m *MetricsExtension) OnTaskAssigned(ctx context.Context, t *task.Task) error {
	m.TasksAssigned.Add(ctx, 1, pluginAttr(t))
	return nil
}

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error {
	m.TasksCompleted.Add(ctx, 1, pluginAttr(t))
	if elapsed > 0 {
		m.TaskLatency.Record(ctx, elapsed.Seconds(), pluginAttr(t))
	}
	return nil
}

// OnTaskFailed implements ext.TaskFailed.
func (m *MetricsExtension) OnTaskFailed(ctx context.Context, t *task.Task, _ string) error {
	m.TasksFailed.Add(ctx, 1, pluginAttr(t))
	return nil
}

// OnTaskRecovered implements ext.TaskRecovered.
func (m *MetricsExtension) OnTaskRecovered(ctx context.Context, t *task.Task, _ string) error {
	m.TasksRecovered.Add(ctx, 1, pluginAttr(t))
	return nil
}

// OnTaskReleased implements ext.TaskReleased.
func (m *MetricsExtension) OnTaskReleased(ctx context.Context, t *task.Task) error {
	m.TasksReleased.Add(ctx, 1, pluginAttr(t))
	return nil
}

// ── Worker lifecycle hooks ──────────────────────────

// OnWorkerRegistered implements ext.WorkerRegistered.
func (m *MetricsExtension) OnWorkerRegistered(ctx context.Context, _ *cluster.Worker) error {
	m.WorkersRegistered.Add(ctx, 1)
	return nil
}

// OnWorkerUnregistered implements ext.WorkerUnregistered.
func (m *MetricsExtension) OnWorkerUnregistered(ctx context.Context, _ string) error {
	m.WorkersUnregistered.Add(ctx, 1)
	return nil
}

func pluginAttr(t *task.Task) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("plugin", t.Plugin))
}
