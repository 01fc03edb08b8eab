// Package ext defines the extension system for coord.
//
// Extensions are notified of lifecycle events and can react to them,
// recording metrics or relaying task events to subscribers.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error {
//	    log.Printf("task %s completed in %s", t.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobSubmitted]: job record was created
//   - [JobFinished]: job reached completed, failed, or cancelled
//
// # Task Lifecycle Hooks
//
//   - [TaskEnqueued]: task descriptor was pushed onto a queue
//   - [TaskAssigned]: a worker claimed the task
//   - [TaskCompleted]: the worker reported a result
//   - [TaskFailed]: the worker reported an error
//   - [TaskRecovered]: the task was taken back from a dead worker
//   - [TaskReleased]: the worker handed the task back unexecuted
//
// # Worker Lifecycle Hooks
//
//   - [WorkerRegistered]: a worker joined the registry
//   - [WorkerUnregistered]: a worker left the registry
//   - [Shutdown]: the process is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
