package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/coord/cluster"
	"github.com/xraph/coord/job"
	"github.com/xraph/coord/task"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type jobSubmittedEntry struct {
	name string
	hook JobSubmitted
}
type jobFinishedEntry struct {
	name string
	hook JobFinished
}
type taskEnqueuedEntry struct {
	name string
	hook TaskEnqueued
}
type taskAssignedEntry struct {
	name string
	hook TaskAssigned
}
type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}
type taskFailedEntry struct {
	name string
	hook TaskFailed
}
type taskRecoveredEntry struct {
	name string
	hook TaskRecovered
}
type taskReleasedEntry struct {
	name string
	hook TaskReleased
}
type workerRegisteredEntry struct {
	name string
	hook WorkerRegistered
}
type workerUnregisteredEntry struct {
	name string
	hook WorkerUnregistered
}
type shutdownEntry struct {
	name string
	hook Shutdown
}
// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register every extension before the first Emit call; registration is not
// synchronized with emission.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobSubmitted       []jobSubmittedEntry
	jobFinished        []jobFinishedEntry
	taskEnqueued       []taskEnqueuedEntry
	taskAssigned       []taskAssignedEntry
	taskCompleted      []taskCompletedEntry
	taskFailed         []taskFailedEntry
	taskRecovered      []taskRecoveredEntry
	taskReleased       []taskReleasedEntry
	workerRegistered   []workerRegisteredEntry
	workerUnregistered []workerUnregisteredEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, jobSubmittedEntry{name, h})
	}
	if h, ok := e.(JobFinished); ok {
		r.jobFinished = append(r.jobFinished, jobFinishedEntry{name, h})
	}
	if h, ok := e.(TaskEnqueued); ok {
		r.taskEnqueued = append(r.taskEnqueued, taskEnqueuedEntry{name, h})
	}
	if h, ok := e.(TaskAssigned); ok {
		r.taskAssigned = append(r.taskAssigned, taskAssignedEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(TaskFailed); ok {
		r.taskFailed = append(r.taskFailed, taskFailedEntry{name, h})
	}
	if h, ok := e.(TaskRecovered); ok {
		r.taskRecovered = append(r.taskRecovered, taskRecoveredEntry{name, h})
	}
	if h, ok := e.(TaskReleased); ok {
		r.taskReleased = append(r.taskReleased, taskReleasedEntry{name, h})
	}
	if h, ok := e.(WorkerRegistered); ok {
		r.workerRegistered = append(r.workerRegistered, workerRegisteredEntry{name, h})
	}
	if h, ok := e.(WorkerUnregistered); ok {
		r.workerUnregistered = append(r.workerUnregistered, workerUnregisteredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all extensions that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobFinished notifies all extensions that implement JobFinished.
func (r *Registry) EmitJobFinished(ctx context.Context, j *job.Job) {
	for _, e := range r.jobFinished {
		if err := e.hook.OnJobFinished(ctx, j); err != nil {
			r.logHookError("OnJobFinished", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Task event emitters
// ──────────────────────────────────────────────────

// EmitTaskEnqueued notifies all extensions that implement TaskEnqueued.
func (r *Registry) EmitTaskEnqueued(ctx context.Context, t *task.Task) {
	for _, e := range r.taskEnqueued {
		if err := e.hook.OnTaskEnqueued(ctx, t); err != nil {
			r.logHookError("OnTaskEnqueued", e.name, err)
		}
	}
}

// EmitTaskAssigned notifies all extensions that implement TaskAssigned.
func (r *Registry) EmitTaskAssigned(ctx context.Context, t *task.Task) {
	for _, e := range r.taskAssigned {
		if err := e.hook.OnTaskAssigned(ctx, t); err != nil {
			r.logHookError("OnTaskAssigned", e.name, err)
		}
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		if err := e.hook.OnTaskCompleted(ctx, t, elapsed); err != nil {
			r.logHookError("OnTaskCompleted", e.name, err)
		}
	}
}

// EmitTaskFailed notifies all extensions that implement TaskFailed.
func (r *Registry) EmitTaskFailed(ctx context.Context, t *task.Task, errMsg string) {
	for _, e := range r.taskFailed {
		if err := e.hook.OnTaskFailed(ctx, t, errMsg); err != nil {
			r.logHookError("OnTaskFailed", e.name, err)
		}
	}
}

// EmitTaskRecovered notifies all extensions that implement TaskRecovered.
func (r *Registry) EmitTaskRecovered(ctx context.Context, t *task.Task, deadWorkerID string) {
	for _, e := range r.taskRecovered {
		if err := e.hook.OnTaskRecovered(ctx, t, deadWorkerID); err != nil {
			r.logHookError("OnTaskRecovered", e.name, err)
		}
	}
}

// EmitTaskReleased notifies all extensions that implement TaskReleased.
func (r *Registry) EmitTaskReleased(ctx context.Context, t *task.Task) {
	for _, e := range r.taskReleased {
		if err := e.hook.OnTaskReleased(ctx, t); err != nil {
			r.logHookError("OnTaskReleased", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Worker event emitters
// ──────────────────────────────────────────────────

// EmitWorkerRegistered notifies all extensions that implement WorkerRegistered.
func (r *Registry) EmitWorkerRegistered(ctx context.Context, w *cluster.Worker) {
	for _, e := range r.workerRegistered {
		if err := e.hook.OnWorkerRegistered(ctx, w); err != nil {
			r.logHookError("OnWorkerRegistered", e.name, err)
		}
	}
}

// EmitWorkerUnregistered notifies all extensions that implement WorkerUnregistered.
func (r *Registry) EmitWorkerUnregistered(ctx context.Context, workerID string) {
	for _, e := range r.workerUnregistered {
		if err := e.hook.OnWorkerUnregistered(ctx, workerID); err != nil {
			r.logHookError("OnWorkerUnregistered", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated to the caller.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
