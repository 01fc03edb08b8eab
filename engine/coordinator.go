package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
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

// cancelledError is recorded on queued tasks of a cancelled job.
const cancelledError = "job cancelled"

// TaskOption configures AddTask.
type TaskOption func(*taskOptions)

type taskOptions struct {
	plugin   string
	timeout  time.Duration
	queue    string
	metadata map[string]string
}

// WithPlugin names the plugin that executes the task.
func WithPlugin(name string) TaskOption {
	return func(o *taskOptions) { o.plugin = name }
}

// WithTaskTimeout bounds a single execution of the task.
func WithTaskTimeout(d time.Duration) TaskOption {
	return func(o *taskOptions) { o.timeout = d }
}

// WithTaskQueue enqueues the task on name instead of the engine queue.
func WithTaskQueue(name string) TaskOption {
	return func(o *taskOptions) { o.queue = name }
}

// WithTaskMetadata stores extra fields with the task. Entries in m that
// name a reserved field are dropped.
func WithTaskMetadata(m map[string]string) TaskOption {
	return func(o *taskOptions) { o.metadata = m }
}

// SubmitJob creates the job with status pending. config is stored as the
// job's metadata next to the reserved fields. The job cannot finish before
// SealJob is called.
func (e *Engine) SubmitJob(ctx context.Context, jobID string, config map[string]string) (err error) {
	ctx, span := e.startSpan(ctx, "SubmitJob", attribute.String("coord.job.id", jobID))
	defer func() { endSpan(span, err) }()

	if jobID == "" {
		return fmt.Errorf("coord/engine: submit job: %w: empty job id", coord.ErrInvalidArgument)
	}

	m := make(map[string]string, len(config)+2)
	maps.Copy(m, config)
	m[job.FieldStatus] = string(job.StatusPending)
	m[job.FieldCreatedAt] = job.FormatTime(e.now())
	delete(m, job.FieldCompletedAt)
	delete(m, job.FieldFailedTasks)

	if err := e.store.CreateJobMetadata(ctx, jobID, m); err != nil {
		return fmt.Errorf("coord/engine: submit job %s: %w", jobID, err)
	}
	// Hold the job open until SealJob.
	if _, err := e.store.AddJobRemaining(ctx, jobID, 1); err != nil {
		if _, derr := e.store.DeleteJobMetadata(ctx, jobID); derr != nil {
			e.logger.Warn("failed to roll back job",
				slog.String("job_id", jobID),
				slog.String("error", derr.Error()),
			)
		}
		return fmt.Errorf("coord/engine: submit job %s: %w", jobID, err)
	}

	e.bump(ctx, counter.JobsSubmitted)
	if j, jerr := job.FromMetadata(jobID, m); jerr == nil {
		e.extensions.EmitJobSubmitted(ctx, j)
	}
	e.logger.Info("job submitted", slog.String("job_id", jobID))
	return nil
}

// AddTask records the task under jobID and enqueues it. The task's metadata
// is written before its descriptor reaches the queue. Adding to a job that
// already finished returns coord.ErrInvalidState.
func (e *Engine) AddTask(ctx context.Context, jobID, taskID, data string, opts ...TaskOption) (err error) {
	ctx, span := e.startSpan(ctx, "AddTask",
		attribute.String("coord.job.id", jobID),
		attribute.String("coord.task.id", taskID),
	)
	defer func() { endSpan(span, err) }()

	if jobID == "" || taskID == "" {
		return fmt.Errorf("coord/engine: add task: %w: empty job or task id", coord.ErrInvalidArgument)
	}
	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}

	jm, err := e.store.GetJobMetadata(ctx, jobID)
	if err != nil {
		return fmt.Errorf("coord/engine: add task %s: %w", taskID, err)
	}
	if st := job.Status(jm[job.FieldStatus]); st.IsTerminal() {
		return fmt.Errorf("coord/engine: add task %s: %w: job %s is %s", taskID, coord.ErrInvalidState, jobID, st)
	}

	m := make(map[string]string, len(o.metadata)+8)
	for k, v := range o.metadata {
		if !task.IsReserved(k) {
			m[k] = v
		}
	}
	m[task.FieldJobID] = jobID
	m[task.FieldStatus] = string(task.StatusQueued)
	m[task.FieldData] = data
	m[task.FieldAttempts] = "0"
	m[task.FieldQueue] = e.queueFor(o.queue)
	if o.plugin != "" {
		m[task.FieldPlugin] = o.plugin
	}
	if o.timeout > 0 {
		m[task.FieldTimeout] = o.timeout.String()
	}
	// Workers build this view on every claim; reject what they could not.
	t, err := task.FromMetadata(taskID, m)
	if err != nil {
		return fmt.Errorf("coord/engine: add task %s: %w: %w", taskID, coord.ErrInvalidArgument, err)
	}

	if err := e.store.CreateTaskMetadata(ctx, taskID, m); err != nil {
		return fmt.Errorf("coord/engine: add task %s: %w", taskID, err)
	}
	if err := e.store.IndexJobTask(ctx, jobID, taskID); err != nil {
		e.rollbackTask(ctx, jobID, taskID, false)
		return fmt.Errorf("coord/engine: add task %s: %w", taskID, err)
	}
	if _, err := e.store.AddJobRemaining(ctx, jobID, 1); err != nil {
		e.rollbackTask(ctx, jobID, taskID, false)
		return fmt.Errorf("coord/engine: add task %s: %w", taskID, err)
	}
	d := queue.Descriptor{TaskID: taskID, JobID: jobID, Plugin: o.plugin}
	if err := e.enqueue(ctx, m[task.FieldQueue], d); err != nil {
		e.rollbackTask(ctx, jobID, taskID, true)
		return fmt.Errorf("coord/engine: add task %s: %w", taskID, err)
	}

	e.bump(ctx, counter.TasksEnqueued)
	e.extensions.EmitTaskEnqueued(ctx, t)
	return nil
}

// rollbackTask undoes a partially added task. The job index may keep the
// id; readers skip tasks whose metadata is gone.
func (e *Engine) rollbackTask(ctx context.Context, jobID, taskID string, counted bool) {
	if _, err := e.store.DeleteTaskMetadata(ctx, taskID); err != nil {
		e.logger.Warn("failed to roll back task",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
	// The task's unit may have been the last one holding a sealed job open.
	if counted {
		if err := e.settle(ctx, jobID); err != nil {
			e.logger.Warn("failed to roll back remaining-task count",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// SealJob declares that no more tasks will be added to jobID. A job with
// no unfinished tasks is finalized immediately. Sealing twice returns
// coord.ErrInvalidState.
func (e *Engine) SealJob(ctx context.Context, jobID string) (err error) {
	ctx, span := e.startSpan(ctx, "SealJob", attribute.String("coord.job.id", jobID))
	defer func() { endSpan(span, err) }()

	if _, err := e.store.GetJobMetadata(ctx, jobID); err != nil {
		return fmt.Errorf("coord/engine: seal job %s: %w", jobID, err)
	}
	ok, err := e.store.SealJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("coord/engine: seal job %s: %w", jobID, err)
	}
	if !ok {
		return fmt.Errorf("coord/engine: seal job %s: %w: already sealed", jobID, coord.ErrInvalidState)
	}
	return e.settle(ctx, jobID)
}

// NextTaskID mints the next task id for jobID: "<job>_task_<n>", counting
// from zero.
func (e *Engine) NextTaskID(ctx context.Context, jobID string) (string, error) {
	n, err := e.store.Increment(ctx, counter.TaskSequence(jobID), 1)
	if err != nil {
		return "", fmt.Errorf("coord/engine: next task id %s: %w", jobID, err)
	}
	return jobID + "_task_" + strconv.FormatInt(n-1, 10), nil
}

// GetActiveWorkers lists workers that heartbeated within the liveness
// timeout.
func (e *Engine) GetActiveWorkers(ctx context.Context) (ids []string, err error) {
	ctx, span := e.startSpan(ctx, "GetActiveWorkers")
	defer func() { endSpan(span, err) }()

	ids, err = e.store.GetActiveWorkers(ctx, e.livenessTimeout)
	if err != nil {
		return nil, fmt.Errorf("coord/engine: active workers: %w", err)
	}
	return ids, nil
}

// ListWorkers returns every registered worker, live or not.
func (e *Engine) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ws, err := e.store.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("coord/engine: list workers: %w", err)
	}
	return ws, nil
}

// JobStatus reads the job.
func (e *Engine) JobStatus(ctx context.Context, jobID string) (*job.Job, error) {
	m, err := e.store.GetJobMetadata(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("coord/engine: job status %s: %w", jobID, err)
	}
	return job.FromMetadata(jobID, m)
}

// GetTask reads one task.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	m, err := e.store.GetTaskMetadata(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("coord/engine: get task %s: %w", taskID, err)
	}
	return task.FromMetadata(taskID, m)
}

// JobTasks returns the job's tasks ordered by id. Indexed tasks whose
// metadata is gone are skipped.
func (e *Engine) JobTasks(ctx context.Context, jobID string) ([]*task.Task, error) {
	ids, err := e.store.JobTaskIDs(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("coord/engine: job tasks %s: %w", jobID, err)
	}
	slices.Sort(ids)
	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := e.GetTask(ctx, id)
		if errors.Is(err, coord.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// QueueSize returns the depth of name, or of the engine queue when name is
// empty.
func (e *Engine) QueueSize(ctx context.Context, name string) (int64, error) {
	n, err := e.store.Size(ctx, e.queueFor(name))
	if err != nil {
		return 0, fmt.Errorf("coord/engine: queue size: %w", err)
	}
	return n, nil
}

// CancelJob moves a pending or running job to cancelled and fails its
// queued tasks. Tasks already held by workers run to completion; their
// reports are recorded but no longer change the job.
func (e *Engine) CancelJob(ctx context.Context, jobID string) (err error) {
	ctx, span := e.startSpan(ctx, "CancelJob", attribute.String("coord.job.id", jobID))
	defer func() { endSpan(span, err) }()

	now := job.FormatTime(e.now())
	if _, err := e.store.TransitionJob(ctx, jobID, job.StatusCancelled,
		map[string]string{job.FieldCompletedAt: now},
		job.StatusPending, job.StatusRunning,
	); err != nil {
		return fmt.Errorf("coord/engine: cancel job %s: %w", jobID, err)
	}

	ids, err := e.store.JobTaskIDs(ctx, jobID)
	if err != nil {
		return fmt.Errorf("coord/engine: cancel job %s: %w", jobID, err)
	}
	fields := map[string]string{
		task.FieldError:       cancelledError,
		task.FieldCompletedAt: now,
	}
	for _, id := range ids {
		if _, err := e.store.TransitionTask(ctx, id, task.StatusFailed, fields, task.StatusQueued); err != nil {
			if ignorable(err) {
				continue
			}
			return fmt.Errorf("coord/engine: cancel job %s: %w", jobID, err)
		}
		e.bump(ctx, counter.TasksFailed)
		if t, terr := e.GetTask(ctx, id); terr == nil {
			e.extensions.EmitTaskFailed(ctx, t, cancelledError)
		}
	}

	e.applyRetention(ctx, jobID, ids)
	if j, jerr := e.JobStatus(ctx, jobID); jerr == nil {
		e.extensions.EmitJobFinished(ctx, j)
	}
	e.logger.Info("job cancelled", slog.String("job_id", jobID))
	return nil
}

// CleanupJob deletes the job, its tasks and its index. Cleaning up an
// unknown job is not an error.
func (e *Engine) CleanupJob(ctx context.Context, jobID string) (err error) {
	ctx, span := e.startSpan(ctx, "CleanupJob", attribute.String("coord.job.id", jobID))
	defer func() { endSpan(span, err) }()

	ids, err := e.store.JobTaskIDs(ctx, jobID)
	if err != nil {
		return fmt.Errorf("coord/engine: cleanup job %s: %w", jobID, err)
	}
	for _, id := range ids {
		if _, err := e.store.DeleteTaskMetadata(ctx, id); err != nil {
			return fmt.Errorf("coord/engine: cleanup job %s: %w", jobID, err)
		}
	}
	if err := e.store.DropJobIndex(ctx, jobID); err != nil {
		return fmt.Errorf("coord/engine: cleanup job %s: %w", jobID, err)
	}
	if _, err := e.store.DeleteJobMetadata(ctx, jobID); err != nil {
		return fmt.Errorf("coord/engine: cleanup job %s: %w", jobID, err)
	}
	return nil
}

// Stats is a snapshot of the cluster-wide counters.
type Stats struct {
	JobsSubmitted  int64 `json:"jobs_submitted"`
	TasksEnqueued  int64 `json:"tasks_enqueued"`
	TasksCompleted int64 `json:"tasks_completed"`
	TasksFailed    int64 `json:"tasks_failed"`
	TasksRecovered int64 `json:"tasks_recovered"`
	QueueDepth     int64 `json:"queue_depth"`
	ActiveWorkers  int   `json:"active_workers"`
}

// Stats reads the stats counters, the engine queue depth and the number of
// active workers.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	for _, c := range []struct {
		name string
		dst  *int64
	}{
		{counter.JobsSubmitted, &s.JobsSubmitted},
		{counter.TasksEnqueued, &s.TasksEnqueued},
		{counter.TasksCompleted, &s.TasksCompleted},
		{counter.TasksFailed, &s.TasksFailed},
		{counter.TasksRecovered, &s.TasksRecovered},
	} {
		v, err := e.store.Get(ctx, c.name)
		if err != nil {
			return Stats{}, fmt.Errorf("coord/engine: stats: %w", err)
		}
		*c.dst = v
	}
	depth, err := e.QueueSize(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	s.QueueDepth = depth
	active, err := e.GetActiveWorkers(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.ActiveWorkers = len(active)
	return s, nil
}
