// Package ext defines the extension system for coord.
// Extensions are notified of lifecycle events (task enqueued, completed,
// recovered, etc.) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/coord/cluster"
	"github.com/xraph/coord/job"
	"github.com/xraph/coord/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job record is created.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobFinished is called once when a job reaches a terminal status.
type JobFinished interface {
	OnJobFinished(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskEnqueued is called after a task descriptor is pushed onto a queue.
type TaskEnqueued interface {
	OnTaskEnqueued(ctx context.Context, t *task.Task) error
}

// TaskAssigned is called after a worker claims a task.
type TaskAssigned interface {
	OnTaskAssigned(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a task result is recorded. elapsed is
// measured from assignment and is zero when unknown.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskFailed is called after a task failure is recorded.
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *task.Task, errMsg string) error
}

// TaskRecovered is called after a task held by a dead worker is put back
// on its queue.
type TaskRecovered interface {
	OnTaskRecovered(ctx context.Context, t *task.Task, deadWorkerID string) error
}

// TaskReleased is called after a worker hands a task back unexecuted.
type TaskReleased interface {
	OnTaskReleased(ctx context.Context, t *task.Task) error
}

// ──────────────────────────────────────────────────
// Worker lifecycle hooks
// ──────────────────────────────────────────────────

// WorkerRegistered is called after a worker joins the registry.
type WorkerRegistered interface {
	OnWorkerRegistered(ctx context.Context, w *cluster.Worker) error
}

// WorkerUnregistered is called after a worker leaves the registry.
type WorkerUnregistered interface {
	OnWorkerUnregistered(ctx context.Context, workerID string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
