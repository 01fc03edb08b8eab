package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/coord"
	"github.com/xraph/coord/cluster"
	"github.com/xraph/coord/counter"
	"github.com/xraph/coord/job"
	"github.com/xraph/coord/queue"
	"github.com/xraph/coord/task"
)

// GetNextTask pulls the next task for workerID, waiting up to the dequeue
// timeout. The task is assigned to the worker and recorded in its in-flight
// set before it is returned. Descriptors whose task is gone, unreadable or
// no longer queued are dropped and polling continues until the deadline.
// Returns coord.ErrTimeout when nothing could be claimed in time.
func (e *Engine) GetNextTask(ctx context.Context, workerID string) (t *task.Task, err error) {
	ctx, span := e.startSpan(ctx, "GetNextTask",
		attribute.String("coord.worker.id", workerID),
		attribute.String("coord.queue", e.queue),
	)
	defer func() { endSpan(span, err) }()

	if workerID == "" {
		return nil, fmt.Errorf("coord/engine: next task: %w: empty worker id", coord.ErrInvalidArgument)
	}

	start := time.Now()
	deadline := start.Add(e.dequeueTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("coord/engine: next task: %w", coord.ErrTimeout)
		}
		payload, err := e.store.Dequeue(ctx, e.queue, remaining)
		if err != nil {
			return nil, fmt.Errorf("coord/engine: next task: %w", err)
		}
		t, err := e.claim(ctx, workerID, payload)
		if err != nil {
			return nil, fmt.Errorf("coord/engine: next task: %w", err)
		}
		if t == nil {
			continue
		}

		e.dequeueWait.Record(ctx, time.Since(start).Seconds())
		span.SetAttributes(attribute.String("coord.task.id", t.ID))
		e.extensions.EmitTaskAssigned(ctx, t)
		return t, nil
	}
}

// claim turns a dequeued payload into an assigned task. A nil task with a
// nil error means the payload was dropped.
func (e *Engine) claim(ctx context.Context, workerID, payload string) (*task.Task, error) {
	d, err := queue.DecodeDescriptor(payload)
	if err != nil {
		e.logger.Warn("dropping malformed queue entry",
			slog.String("queue", e.queue),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	// Record the hold first so a crash from here on is recoverable. A member
	// that was already present belongs to an earlier claim and stays put.
	added, err := e.store.MarkInflight(ctx, workerID, d.TaskID)
	if err != nil {
		return nil, err
	}
	release := func() {
		if added {
			e.unmark(ctx, workerID, d.TaskID)
		}
	}

	m, err := e.store.GetTaskMetadata(ctx, d.TaskID)
	if errors.Is(err, coord.ErrNotFound) || errors.Is(err, coord.ErrDecode) {
		e.logger.Warn("dropping task without readable metadata",
			slog.String("task_id", d.TaskID),
			slog.String("error", err.Error()),
		)
		release()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attempts, _ := strconv.Atoi(m[task.FieldAttempts]) //nolint:errcheck // a bad count restarts at zero
	fields := map[string]string{
		task.FieldWorkerID:   workerID,
		task.FieldAssignedAt: job.FormatTime(e.now()),
		task.FieldAttempts:   strconv.Itoa(attempts + 1),
	}
	view := maps.Clone(m)
	maps.Copy(view, fields)
	view[task.FieldStatus] = string(task.StatusAssigned)
	t, err := task.FromMetadata(d.TaskID, view)
	if err != nil {
		release()
		e.reject(ctx, d.TaskID, m[task.FieldJobID], err)
		return nil, nil
	}

	if _, err := e.store.TransitionTask(ctx, d.TaskID, task.StatusAssigned, fields, task.StatusQueued); err != nil {
		if ignorable(err) {
			e.logger.Debug("skipping task that is no longer queued",
				slog.String("task_id", d.TaskID),
				slog.String("error", err.Error()),
			)
			release()
			return nil, nil
		}
		return nil, err
	}

	if t.JobID != "" {
		if _, err := e.store.TransitionJob(ctx, t.JobID, job.StatusRunning, nil, job.StatusPending); err != nil && !ignorable(err) {
			e.logger.Warn("failed to mark job running",
				slog.String("job_id", t.JobID),
				slog.String("error", err.Error()),
			)
		}
	}
	return t, nil
}

// reject fails a queued task whose metadata no worker could run, so its
// job still finishes.
func (e *Engine) reject(ctx context.Context, taskID, jobID string, cause error) {
	e.logger.Warn("failing task with malformed metadata",
		slog.String("task_id", taskID),
		slog.String("job_id", jobID),
		slog.String("error", cause.Error()),
	)
	fields := map[string]string{
		task.FieldError:       "malformed task metadata: " + cause.Error(),
		task.FieldCompletedAt: job.FormatTime(e.now()),
	}
	if _, err := e.store.TransitionTask(ctx, taskID, task.StatusFailed, fields, task.StatusQueued); err != nil {
		if !ignorable(err) {
			e.logger.Warn("failed to fail malformed task",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	e.bump(ctx, counter.TasksFailed)
	if jobID == "" {
		return
	}
	if err := e.settle(ctx, jobID); err != nil {
		e.logger.Warn("failed to settle job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// CompleteTask records result and marks the task completed. Reporting a
// task that already finished returns coord.ErrInvalidState.
func (e *Engine) CompleteTask(ctx context.Context, taskID, result string) (err error) {
	ctx, span := e.startSpan(ctx, "CompleteTask", attribute.String("coord.task.id", taskID))
	defer func() { endSpan(span, err) }()

	return e.finish(ctx, taskID, task.StatusCompleted, map[string]string{task.FieldResult: result})
}

// FailTask records errMsg and marks the task failed. Reporting a task that
// already finished returns coord.ErrInvalidState.
func (e *Engine) FailTask(ctx context.Context, taskID, errMsg string) (err error) {
	ctx, span := e.startSpan(ctx, "FailTask", attribute.String("coord.task.id", taskID))
	defer func() { endSpan(span, err) }()

	return e.finish(ctx, taskID, task.StatusFailed, map[string]string{task.FieldError: errMsg})
}

func (e *Engine) finish(ctx context.Context, taskID string, to task.Status, fields map[string]string) error {
	m, err := e.store.GetTaskMetadata(ctx, taskID)
	if err != nil {
		return fmt.Errorf("coord/engine: finish task %s: %w", taskID, err)
	}

	now := e.now()
	fields[task.FieldCompletedAt] = job.FormatTime(now)
	if _, err := e.store.TransitionTask(ctx, taskID, to, fields, task.StatusAssigned, task.StatusQueued); err != nil {
		return fmt.Errorf("coord/engine: finish task %s: %w", taskID, err)
	}
	if wid := m[task.FieldWorkerID]; wid != "" {
		e.unmark(ctx, wid, taskID)
	}

	if to == task.StatusCompleted {
		e.bump(ctx, counter.TasksCompleted)
	} else {
		e.bump(ctx, counter.TasksFailed)
	}

	// The transition above already counted; the job settles even when the
	// stored fields cannot be typed for the event.
	maps.Copy(m, fields)
	m[task.FieldStatus] = string(to)
	if t, terr := task.FromMetadata(taskID, m); terr != nil {
		e.logger.Warn("finished task has malformed metadata",
			slog.String("task_id", taskID),
			slog.String("error", terr.Error()),
		)
	} else if to == task.StatusCompleted {
		var elapsed time.Duration
		if t.AssignedAt != nil {
			elapsed = now.Sub(*t.AssignedAt)
		}
		e.extensions.EmitTaskCompleted(ctx, t, elapsed)
	} else {
		e.extensions.EmitTaskFailed(ctx, t, t.Error)
	}

	jobID := m[task.FieldJobID]
	if jobID == "" {
		return nil
	}
	return e.settle(ctx, jobID)
}

// ReleaseTask hands an assigned task back to its queue without executing
// it, for example when a worker shuts down or lacks capacity for the
// task's plugin. The attempt still counts.
func (e *Engine) ReleaseTask(ctx context.Context, taskID string) (err error) {
	ctx, span := e.startSpan(ctx, "ReleaseTask", attribute.String("coord.task.id", taskID))
	defer func() { endSpan(span, err) }()

	m, err := e.store.GetTaskMetadata(ctx, taskID)
	if err != nil {
		return fmt.Errorf("coord/engine: release task %s: %w", taskID, err)
	}
	fields := map[string]string{task.FieldWorkerID: ""}
	if _, err := e.store.TransitionTask(ctx, taskID, task.StatusQueued, fields, task.StatusAssigned); err != nil {
		return fmt.Errorf("coord/engine: release task %s: %w", taskID, err)
	}
	d := queue.Descriptor{TaskID: taskID, JobID: m[task.FieldJobID], Plugin: m[task.FieldPlugin]}
	if err := e.enqueue(ctx, m[task.FieldQueue], d); err != nil {
		return fmt.Errorf("coord/engine: release task %s: %w", taskID, err)
	}
	// The in-flight entry goes last so recovery can still find the task if
	// this process dies before the enqueue.
	if wid := m[task.FieldWorkerID]; wid != "" {
		e.unmark(ctx, wid, taskID)
	}

	maps.Copy(m, fields)
	m[task.FieldStatus] = string(task.StatusQueued)
	if t, terr := task.FromMetadata(taskID, m); terr == nil {
		e.extensions.EmitTaskReleased(ctx, t)
	}
	return nil
}

// settle counts one task of jobID as finished and finalizes the job when
// nothing is left.
func (e *Engine) settle(ctx context.Context, jobID string) error {
	n, err := e.store.AddJobRemaining(ctx, jobID, -1)
	if err != nil {
		return fmt.Errorf("coord/engine: settle job %s: %w", jobID, err)
	}
	if n > 0 {
		return nil
	}
	if n < 0 {
		e.logger.Warn("remaining-task count below zero",
			slog.String("job_id", jobID),
			slog.Int64("remaining", n),
		)
	}
	return e.finalizeJob(ctx, jobID)
}

// finalizeJob marks jobID completed, or failed if any task failed. A job
// that was cancelled or removed meanwhile is left alone.
func (e *Engine) finalizeJob(ctx context.Context, jobID string) error {
	ids, err := e.store.JobTaskIDs(ctx, jobID)
	if err != nil {
		return fmt.Errorf("coord/engine: finalize job %s: %w", jobID, err)
	}
	failed := 0
	for _, id := range ids {
		m, err := e.store.GetTaskMetadata(ctx, id)
		if errors.Is(err, coord.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("coord/engine: finalize job %s: %w", jobID, err)
		}
		if task.Status(m[task.FieldStatus]) == task.StatusFailed {
			failed++
		}
	}

	to := job.StatusCompleted
	if failed > 0 {
		to = job.StatusFailed
	}
	fields := map[string]string{
		job.FieldCompletedAt: job.FormatTime(e.now()),
		job.FieldFailedTasks: strconv.Itoa(failed),
	}
	if _, err := e.store.TransitionJob(ctx, jobID, to, fields, job.StatusPending, job.StatusRunning); err != nil {
		if ignorable(err) {
			e.logger.Debug("job already finished",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("coord/engine: finalize job %s: %w", jobID, err)
	}

	e.applyRetention(ctx, jobID, ids)
	e.logger.Info("job finished",
		slog.String("job_id", jobID),
		slog.String("status", string(to)),
		slog.Int("tasks", len(ids)),
		slog.Int("failed_tasks", failed),
	)
	if j, jerr := e.JobStatus(ctx, jobID); jerr == nil {
		e.extensions.EmitJobFinished(ctx, j)
	}
	return nil
}

func (e *Engine) applyRetention(ctx context.Context, jobID string, taskIDs []string) {
	if e.retention <= 0 {
		return
	}
	warn := func(what string, err error) {
		e.logger.Warn("failed to apply retention",
			slog.String("job_id", jobID),
			slog.String("key", what),
			slog.String("error", err.Error()),
		)
	}
	if err := e.store.ExpireJob(ctx, jobID, e.retention); err != nil {
		warn("job", err)
	}
	if err := e.store.ExpireJobIndex(ctx, jobID, e.retention); err != nil {
		warn("index", err)
	}
	for _, id := range taskIDs {
		if err := e.store.ExpireTask(ctx, id, e.retention); err != nil && !errors.Is(err, coord.ErrNotFound) {
			warn("task "+id, err)
		}
	}
}

// RegisterWorker adds w to the worker registry and stamps its heartbeat.
func (e *Engine) RegisterWorker(ctx context.Context, w *cluster.Worker, opts ...cluster.RegisterOption) (err error) {
	ctx, span := e.startSpan(ctx, "RegisterWorker", attribute.String("coord.worker.id", w.ID))
	defer func() { endSpan(span, err) }()

	if w.ID == "" {
		return fmt.Errorf("coord/engine: register worker: %w: empty worker id", coord.ErrInvalidArgument)
	}
	if err := e.store.RegisterWorker(ctx, w, opts...); err != nil {
		return fmt.Errorf("coord/engine: register worker %s: %w", w.ID, err)
	}
	e.extensions.EmitWorkerRegistered(ctx, w)
	e.logger.Info("worker registered",
		slog.String("worker_id", w.ID),
		slog.String("host", w.Host),
		slog.Int("port", w.Port),
	)
	return nil
}

// Heartbeat stamps workerID's last_heartbeat with the current time.
func (e *Engine) Heartbeat(ctx context.Context, workerID string) error {
	if err := e.store.UpdateHeartbeat(ctx, workerID, e.now()); err != nil {
		return fmt.Errorf("coord/engine: heartbeat %s: %w", workerID, err)
	}
	return nil
}

// UnregisterWorker removes workerID from the registry. Tasks it still
// holds are left for RecoverOrphans.
func (e *Engine) UnregisterWorker(ctx context.Context, workerID string) (removed bool, err error) {
	ctx, span := e.startSpan(ctx, "UnregisterWorker", attribute.String("coord.worker.id", workerID))
	defer func() { endSpan(span, err) }()

	removed, err = e.store.UnregisterWorker(ctx, workerID)
	if err != nil {
		return false, fmt.Errorf("coord/engine: unregister worker %s: %w", workerID, err)
	}
	if removed {
		e.extensions.EmitWorkerUnregistered(ctx, workerID)
		e.logger.Info("worker unregistered", slog.String("worker_id", workerID))
	}
	return removed, nil
}
