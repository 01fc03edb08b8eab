package engine_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/coord"
	"github.com/xraph/coord/backoff"
	"github.com/xraph/coord/cluster"
	"github.com/xraph/coord/engine"
	"github.com/xraph/coord/job"
	"github.com/xraph/coord/kv"
	redisstore "github.com/xraph/coord/store/redis"
	"github.com/xraph/coord/task"
)

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

type clock struct{ ms atomic.Int64 }

func (c *clock) Now() time.Time      { return time.UnixMilli(c.ms.Load()) }
func (c *clock) Add(d time.Duration) { c.ms.Add(d.Milliseconds()) }

// harness shares one miniredis and one clock between any number of
// engines, each on its own connection.
type harness struct {
	mr  *miniredis.Miniredis
	clk *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{mr: miniredis.RunT(t), clk: &clock{}}
	h.clk.ms.Store(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli())
	return h
}

func (h *harness) engine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	c := kv.New()
	if err := c.ConnectAddr(context.Background(), h.mr.Addr()); err != nil {
		t.Fatalf("ConnectAddr: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })

	s := redisstore.New(c, redisstore.WithClock(h.clk.Now))
	base := []engine.Option{
		engine.WithQueue("tasks"),
		engine.WithDequeueTimeout(time.Second),
		engine.WithLivenessTimeout(30 * time.Second),
		engine.WithClock(h.clk.Now),
	}
	eng, err := engine.New(s, append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func register(t *testing.T, eng *engine.Engine, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := eng.RegisterWorker(context.Background(), &cluster.Worker{ID: id, Host: "node-" + id, Port: 9090}); err != nil {
			t.Fatalf("RegisterWorker(%s): %v", id, err)
		}
	}
}

// submit creates jobID with the given task ids and seals it.
func submit(t *testing.T, eng *engine.Engine, jobID string, taskIDs ...string) {
	t.Helper()
	ctx := context.Background()
	if err := eng.SubmitJob(ctx, jobID, map[string]string{"input": "s3://in/" + jobID}); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	for _, id := range taskIDs {
		if err := eng.AddTask(ctx, jobID, id, `{"split":"`+id+`"}`, engine.WithPlugin("wordcount")); err != nil {
			t.Fatalf("AddTask(%s): %v", id, err)
		}
	}
	if err := eng.SealJob(ctx, jobID); err != nil {
		t.Fatalf("SealJob: %v", err)
	}
}

func mustJob(t *testing.T, eng *engine.Engine, jobID string) *job.Job {
	t.Helper()
	j, err := eng.JobStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("JobStatus(%s): %v", jobID, err)
	}
	return j
}

func mustTask(t *testing.T, eng *engine.Engine, taskID string) *task.Task {
	t.Helper()
	tk, err := eng.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetTask(%s): %v", taskID, err)
	}
	return tk
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNewValidates(t *testing.T) {
	t.Parallel()
	if _, err := engine.New(nil); !errors.Is(err, coord.ErrInvalidArgument) {
		t.Fatalf("New(nil): expected ErrInvalidArgument, got %v", err)
	}

	s := redisstore.New(kv.New())
	tests := []struct {
		name string
		opt  engine.Option
	}{
		{"empty queue", engine.WithQueue("")},
		{"zero dequeue timeout", engine.WithDequeueTimeout(0)},
		{"negative liveness", engine.WithLivenessTimeout(-time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := engine.New(s, tt.opt); !errors.Is(err, coord.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestWithConfig(t *testing.T) {
	t.Parallel()
	cfg := coord.DefaultConfig()
	cfg.Queue = "maps"
	cfg.DequeueTimeout = coord.Duration{Duration: 2 * time.Second}
	cfg.LivenessTimeout = coord.Duration{Duration: time.Minute}

	eng, err := engine.New(redisstore.New(kv.New()), engine.WithConfig(cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if eng.Queue() != "maps" || eng.DequeueTimeout() != 2*time.Second || eng.LivenessTimeout() != time.Minute {
		t.Fatalf("config not applied: queue=%s dequeue=%s liveness=%s",
			eng.Queue(), eng.DequeueTimeout(), eng.LivenessTimeout())
	}
}

// ──────────────────────────────────────────────────
// End-to-end
// ──────────────────────────────────────────────────

func TestTwoWorkerScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	coordinator := h.engine(t)
	w1, w2 := h.engine(t), h.engine(t)

	register(t, w1, "W1")
	register(t, w2, "W2")
	submit(t, coordinator, "J1", "T1", "T2")

	active, err := coordinator.GetActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("GetActiveWorkers: %v", err)
	}
	slices.Sort(active)
	if !slices.Equal(active, []string{"W1", "W2"}) {
		t.Fatalf("active workers = %v, want [W1 W2]", active)
	}

	got1, err := w1.GetNextTask(ctx, "W1")
	if err != nil {
		t.Fatalf("W1 GetNextTask: %v", err)
	}
	got2, err := w2.GetNextTask(ctx, "W2")
	if err != nil {
		t.Fatalf("W2 GetNextTask: %v", err)
	}
	if got1.ID != "T1" || got2.ID != "T2" {
		t.Fatalf("assignment = %s/%s, want T1/T2", got1.ID, got2.ID)
	}
	if got1.Status != task.StatusAssigned || got1.WorkerID != "W1" || got1.Attempts != 1 {
		t.Fatalf("T1 = %+v", got1)
	}
	if got1.Plugin != "wordcount" || got1.Data != `{"split":"T1"}` || got1.JobID != "J1" {
		t.Fatalf("T1 payload = %+v", got1)
	}
	if j := mustJob(t, coordinator, "J1"); j.Status != job.StatusRunning {
		t.Fatalf("job status = %s, want running", j.Status)
	}

	if err := w1.CompleteTask(ctx, "T1", "hello=3"); err != nil {
		t.Fatalf("CompleteTask(T1): %v", err)
	}
	if j := mustJob(t, coordinator, "J1"); j.Status != job.StatusRunning {
		t.Fatalf("job finished with a task outstanding: %s", j.Status)
	}
	if err := w2.CompleteTask(ctx, "T2", "world=5"); err != nil {
		t.Fatalf("CompleteTask(T2): %v", err)
	}

	j := mustJob(t, coordinator, "J1")
	if j.Status != job.StatusCompleted || j.CompletedAt == nil {
		t.Fatalf("job = %+v, want completed with completed_at", j)
	}
	if j.Metadata[job.FieldFailedTasks] != "0" || j.Metadata["input"] != "s3://in/J1" {
		t.Fatalf("job metadata = %v", j.Metadata)
	}
	if tk := mustTask(t, coordinator, "T1"); tk.Result != "hello=3" || tk.CompletedAt == nil {
		t.Fatalf("T1 = %+v", tk)
	}

	stats, err := coordinator.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := engine.Stats{JobsSubmitted: 1, TasksEnqueued: 2, TasksCompleted: 2, ActiveWorkers: 2}
	if stats != want {
		t.Fatalf("Stats = %+v, want %+v", stats, want)
	}
}

func TestJobFailsWhenAnyTaskFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	register(t, eng, "W1")
	submit(t, eng, "J1", "T1", "T2")

	for range 2 {
		tk, err := eng.GetNextTask(ctx, "W1")
		if err != nil {
			t.Fatalf("GetNextTask: %v", err)
		}
		if tk.ID == "T1" {
			err = eng.FailTask(ctx, tk.ID, "plugin crashed")
		} else {
			err = eng.CompleteTask(ctx, tk.ID, "ok")
		}
		if err != nil {
			t.Fatalf("report %s: %v", tk.ID, err)
		}
	}

	j := mustJob(t, eng, "J1")
	if j.Status != job.StatusFailed || j.Metadata[job.FieldFailedTasks] != "1" {
		t.Fatalf("job = %s failed_tasks=%s, want failed/1", j.Status, j.Metadata[job.FieldFailedTasks])
	}
	if tk := mustTask(t, eng, "T1"); tk.Status != task.StatusFailed || tk.Error != "plugin crashed" {
		t.Fatalf("T1 = %+v", tk)
	}
}

// ──────────────────────────────────────────────────
// Submission and sealing
// ──────────────────────────────────────────────────

func TestJobWaitsForSeal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)

	if err := eng.SubmitJob(ctx, "J1", nil); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := eng.AddTask(ctx, "J1", "T1", "x"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if err := eng.CompleteTask(ctx, "T1", "done"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if j := mustJob(t, eng, "J1"); j.Status != job.StatusRunning {
		t.Fatalf("unsealed job status = %s, want running", j.Status)
	}

	if err := eng.SealJob(ctx, "J1"); err != nil {
		t.Fatalf("SealJob: %v", err)
	}
	if j := mustJob(t, eng, "J1"); j.Status != job.StatusCompleted {
		t.Fatalf("sealed job status = %s, want completed", j.Status)
	}
}

func TestSealJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)

	submit(t, eng, "empty")
	if j := mustJob(t, eng, "empty"); j.Status != job.StatusCompleted {
		t.Fatalf("empty job status = %s, want completed", j.Status)
	}
	if err := eng.SealJob(ctx, "empty"); !errors.Is(err, coord.ErrInvalidState) {
		t.Fatalf("second SealJob: expected ErrInvalidState, got %v", err)
	}
	if err := eng.SealJob(ctx, "missing"); !errors.Is(err, coord.ErrJobNotFound) {
		t.Fatalf("SealJob(missing): expected ErrJobNotFound, got %v", err)
	}
}

func TestSubmitAndAddErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)

	if err := eng.SubmitJob(ctx, "J1", nil); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := eng.AddTask(ctx, "J1", "T1", "x"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"duplicate job", func() error { return eng.SubmitJob(ctx, "J1", nil) }, coord.ErrAlreadyExists},
		{"empty job id", func() error { return eng.SubmitJob(ctx, "", nil) }, coord.ErrInvalidArgument},
		{"duplicate task", func() error { return eng.AddTask(ctx, "J1", "T1", "y") }, coord.ErrAlreadyExists},
		{"unknown job", func() error { return eng.AddTask(ctx, "J9", "T9", "y") }, coord.ErrJobNotFound},
		{"empty task id", func() error { return eng.AddTask(ctx, "J1", "", "y") }, coord.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if n, _ := eng.QueueSize(ctx, ""); n != 1 {
		t.Fatalf("queue size = %d, want 1", n)
	}
	if tk := mustTask(t, eng, "T1"); tk.Data != "x" {
		t.Fatalf("duplicate AddTask overwrote data: %q", tk.Data)
	}
}

func TestAddTaskToFinishedJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	eng := h.engine(t)
	submit(t, eng, "J1")

	err := eng.AddTask(context.Background(), "J1", "late", "x")
	if !errors.Is(err, coord.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAddTaskOptions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)

	if err := eng.SubmitJob(ctx, "J1", nil); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	err := eng.AddTask(ctx, "J1", "T1", "x",
		engine.WithPlugin("sort"),
		engine.WithTaskTimeout(90*time.Second),
		engine.WithTaskQueue("reduce"),
		engine.WithTaskMetadata(map[string]string{"partition": "3", task.FieldStatus: "bogus"}),
	)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	tk := mustTask(t, eng, "T1")
	if tk.Status != task.StatusQueued || tk.Plugin != "sort" || tk.Timeout != 90*time.Second || tk.Queue != "reduce" {
		t.Fatalf("task = %+v", tk)
	}
	if tk.Metadata["partition"] != "3" {
		t.Fatalf("extra metadata lost: %v", tk.Metadata)
	}
	if n, _ := eng.QueueSize(ctx, "reduce"); n != 1 {
		t.Fatalf("reduce queue size = %d, want 1", n)
	}
	if n, _ := eng.QueueSize(ctx, ""); n != 0 {
		t.Fatalf("default queue size = %d, want 0", n)
	}
}

func TestAddTaskDropsReservedMetadata(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)

	if err := eng.SubmitJob(ctx, "J1", nil); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	extra := map[string]string{
		"partition":             "3",
		task.FieldTimeout:       "5",
		task.FieldAttempts:      "many",
		task.FieldQueue:         "elsewhere",
		task.FieldWorkerID:      "W9",
		task.FieldAssignedAt:    "yesterday",
		task.FieldRecoveredFrom: "W9",
	}
	if err := eng.AddTask(ctx, "J1", "T1", "x", engine.WithPlugin("wordcount"), engine.WithTaskMetadata(extra)); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := eng.SealJob(ctx, "J1"); err != nil {
		t.Fatalf("SealJob: %v", err)
	}

	tk := mustTask(t, eng, "T1")
	if tk.Timeout != 0 || tk.Attempts != 0 || tk.Queue != "tasks" || tk.WorkerID != "" || tk.AssignedAt != nil {
		t.Fatalf("task = %+v", tk)
	}
	if _, ok := tk.Metadata[task.FieldRecoveredFrom]; ok {
		t.Fatalf("recovered_from survived: %v", tk.Metadata)
	}
	if tk.Metadata["partition"] != "3" {
		t.Fatalf("extra metadata lost: %v", tk.Metadata)
	}

	got, err := eng.GetNextTask(ctx, "W1")
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if got.ID != "T1" || got.Attempts != 1 {
		t.Fatalf("claimed %+v", got)
	}
	if err := eng.CompleteTask(ctx, "T1", "r"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if j := mustJob(t, eng, "J1"); j.Status != job.StatusCompleted {
		t.Fatalf("job status = %s, want completed", j.Status)
	}
}

func TestAddTaskRollbackSettlesJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	s := eng.Store()
	submit(t, eng, "J1", "T1")

	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	// T1's report is counted while T2 is being added, which leaves T2's
	// unit as the last one holding the job open.
	if _, err := s.TransitionTask(ctx, "T1", task.StatusCompleted, map[string]string{task.FieldResult: "r"}, task.StatusAssigned); err != nil {
		t.Fatalf("TransitionTask: %v", err)
	}
	if n, err := s.AddJobRemaining(ctx, "J1", -1); err != nil || n != 0 {
		t.Fatalf("AddJobRemaining = %d, %v", n, err)
	}

	h.mr.Set("broken", "not a list")
	if err := eng.AddTask(ctx, "J1", "T2", "x", engine.WithTaskQueue("broken")); err == nil {
		t.Fatal("AddTask on a broken queue succeeded")
	}
	if _, err := s.GetTaskMetadata(ctx, "T2"); !errors.Is(err, coord.ErrTaskNotFound) {
		t.Fatalf("T2 metadata after rollback: %v", err)
	}
	if j := mustJob(t, eng, "J1"); j.Status != job.StatusCompleted {
		t.Fatalf("job status = %s, want completed", j.Status)
	}
}

func TestNextTaskID(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	eng := h.engine(t)

	for i, want := range []string{"J1_task_0", "J1_task_1", "J1_task_2"} {
		got, err := eng.NextTaskID(context.Background(), "J1")
		if err != nil {
			t.Fatalf("NextTaskID: %v", err)
		}
		if got != want {
			t.Fatalf("call %d: got %s, want %s", i, got, want)
		}
	}
}

// ──────────────────────────────────────────────────
// Pulling and reporting
// ──────────────────────────────────────────────────

func TestGetNextTaskTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	eng := h.engine(t)

	start := time.Now()
	_, err := eng.GetNextTask(context.Background(), "W1")
	if !errors.Is(err, coord.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("GetNextTask took %v, want about 1s", elapsed)
	}
}

func TestGetNextTaskDropsUnusableDescriptors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	s := eng.Store()

	// A malformed entry, a task that was never written and a task that
	// already finished all precede the real one.
	for _, p := range []string{"{broken", `{"task_id":"ghost"}`, `{"task_id":"done"}`} {
		if err := s.Enqueue(ctx, "tasks", p); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := s.StoreTaskMetadata(ctx, "done", map[string]string{task.FieldStatus: string(task.StatusCompleted)}); err != nil {
		t.Fatalf("StoreTaskMetadata: %v", err)
	}
	if err := eng.SubmitJob(ctx, "J1", nil); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := eng.AddTask(ctx, "J1", "T1", "x"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	tk, err := eng.GetNextTask(ctx, "W1")
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if tk.ID != "T1" {
		t.Fatalf("got %s, want T1", tk.ID)
	}
	held, err := s.InflightTaskIDs(ctx, "W1")
	if err != nil {
		t.Fatalf("InflightTaskIDs: %v", err)
	}
	if !slices.Equal(held, []string{"T1"}) {
		t.Fatalf("in-flight = %v, want [T1]", held)
	}
}

func TestGetNextTaskFailsMalformedTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	s := eng.Store()

	if err := eng.SubmitJob(ctx, "J1", nil); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := eng.AddTask(ctx, "J1", "T1", "x"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	// Another writer leaves a timeout no worker can parse.
	m, err := s.GetTaskMetadata(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTaskMetadata: %v", err)
	}
	m[task.FieldTimeout] = "5"
	if err := s.StoreTaskMetadata(ctx, "T1", m); err != nil {
		t.Fatalf("StoreTaskMetadata: %v", err)
	}
	if err := eng.SealJob(ctx, "J1"); err != nil {
		t.Fatalf("SealJob: %v", err)
	}

	if _, err := eng.GetNextTask(ctx, "W1"); !errors.Is(err, coord.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	m, err = s.GetTaskMetadata(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTaskMetadata: %v", err)
	}
	if task.Status(m[task.FieldStatus]) != task.StatusFailed || !strings.HasPrefix(m[task.FieldError], "malformed task metadata") {
		t.Fatalf("task fields = %v", m)
	}
	if m[task.FieldWorkerID] != "" {
		t.Fatalf("malformed task was assigned to %s", m[task.FieldWorkerID])
	}
	if held, _ := s.InflightTaskIDs(ctx, "W1"); len(held) != 0 {
		t.Fatalf("in-flight = %v, want none", held)
	}
	if j := mustJob(t, eng, "J1"); j.Status != job.StatusFailed || j.Metadata[job.FieldFailedTasks] != "1" {
		t.Fatalf("job = %+v, want failed with 1 failed task", j)
	}
}

func TestFinishSettlesMalformedTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	s := eng.Store()
	submit(t, eng, "J1", "T1")

	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	m, err := s.GetTaskMetadata(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTaskMetadata: %v", err)
	}
	m[task.FieldAttempts] = "one"
	if err := s.StoreTaskMetadata(ctx, "T1", m); err != nil {
		t.Fatalf("StoreTaskMetadata: %v", err)
	}

	if err := eng.CompleteTask(ctx, "T1", "r"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if j := mustJob(t, eng, "J1"); j.Status != job.StatusCompleted {
		t.Fatalf("job status = %s, want completed", j.Status)
	}
	if held, _ := s.InflightTaskIDs(ctx, "W1"); len(held) != 0 {
		t.Fatalf("in-flight = %v, want none", held)
	}
}

func TestDuplicateDescriptorKeepsHold(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	s := eng.Store()
	submit(t, eng, "J1", "T1")

	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if err := s.Enqueue(ctx, "tasks", `{"task_id":"T1","job_id":"J1"}`); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := eng.GetNextTask(ctx, "W1"); !errors.Is(err, coord.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	held, err := s.InflightTaskIDs(ctx, "W1")
	if err != nil {
		t.Fatalf("InflightTaskIDs: %v", err)
	}
	if !slices.Equal(held, []string{"T1"}) {
		t.Fatalf("in-flight = %v, want [T1]", held)
	}
	if tk := mustTask(t, eng, "T1"); tk.Status != task.StatusAssigned || tk.WorkerID != "W1" {
		t.Fatalf("task = %+v", tk)
	}
}

func TestReportTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	submit(t, eng, "J1", "T1", "T2")

	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if err := eng.CompleteTask(ctx, "T1", "r"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if err := eng.CompleteTask(ctx, "T1", "r2"); !errors.Is(err, coord.ErrInvalidState) {
		t.Fatalf("second CompleteTask: expected ErrInvalidState, got %v", err)
	}
	if err := eng.FailTask(ctx, "T1", "late"); !errors.Is(err, coord.ErrInvalidState) {
		t.Fatalf("FailTask after complete: expected ErrInvalidState, got %v", err)
	}
	if err := eng.CompleteTask(ctx, "nope", "r"); !errors.Is(err, coord.ErrTaskNotFound) {
		t.Fatalf("CompleteTask(unknown): expected ErrTaskNotFound, got %v", err)
	}

	stats, _ := eng.Stats(ctx)
	if stats.TasksCompleted != 1 || stats.TasksFailed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if j := mustJob(t, eng, "J1"); j.Status != job.StatusRunning {
		t.Fatalf("job status = %s, want running", j.Status)
	}
	held, _ := eng.Store().InflightTaskIDs(ctx, "W1")
	if len(held) != 0 {
		t.Fatalf("in-flight after report = %v", held)
	}
}

func TestReleaseTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	submit(t, eng, "J1", "T1")

	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if err := eng.ReleaseTask(ctx, "T1"); err != nil {
		t.Fatalf("ReleaseTask: %v", err)
	}
	tk := mustTask(t, eng, "T1")
	if tk.Status != task.StatusQueued || tk.WorkerID != "" {
		t.Fatalf("released task = %+v", tk)
	}
	if held, _ := eng.Store().InflightTaskIDs(ctx, "W1"); len(held) != 0 {
		t.Fatalf("in-flight after release = %v", held)
	}
	if err := eng.ReleaseTask(ctx, "T1"); !errors.Is(err, coord.ErrInvalidState) {
		t.Fatalf("second ReleaseTask: expected ErrInvalidState, got %v", err)
	}

	again, err := eng.GetNextTask(ctx, "W2")
	if err != nil {
		t.Fatalf("GetNextTask after release: %v", err)
	}
	if again.ID != "T1" || again.WorkerID != "W2" || again.Attempts != 2 {
		t.Fatalf("reassigned task = %+v", again)
	}
}

// ──────────────────────────────────────────────────
// Recovery
// ──────────────────────────────────────────────────

func TestRecoverOrphans(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	coordinator := h.engine(t)
	dead, live := h.engine(t), h.engine(t)

	register(t, dead, "W1")
	submit(t, coordinator, "J1", "T1")
	if _, err := dead.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}

	if n, err := coordinator.RecoverOrphans(ctx); err != nil || n != 0 {
		t.Fatalf("RecoverOrphans with live holder = %d, %v; want 0", n, err)
	}

	h.clk.Add(31 * time.Second)
	register(t, live, "W2")

	n, err := coordinator.RecoverOrphans(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d, want 1", n)
	}
	tk := mustTask(t, coordinator, "T1")
	if tk.Status != task.StatusQueued || tk.WorkerID != "" || tk.Metadata[task.FieldRecoveredFrom] != "W1" {
		t.Fatalf("recovered task = %+v", tk)
	}
	if n, _ := coordinator.RecoverOrphans(ctx); n != 0 {
		t.Fatalf("second pass recovered %d, want 0", n)
	}

	got, err := live.GetNextTask(ctx, "W2")
	if err != nil {
		t.Fatalf("W2 GetNextTask: %v", err)
	}
	if got.ID != "T1" || got.Attempts != 2 {
		t.Fatalf("W2 got %+v", got)
	}
	if err := live.CompleteTask(ctx, "T1", "ok"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if j := mustJob(t, coordinator, "J1"); j.Status != job.StatusCompleted {
		t.Fatalf("job status = %s, want completed", j.Status)
	}
	if stats, _ := coordinator.Stats(ctx); stats.TasksRecovered != 1 {
		t.Fatalf("tasks_recovered = %d, want 1", stats.TasksRecovered)
	}
}

func TestRecoverOrphansConcurrentRecoverers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	coordinator := h.engine(t)

	submit(t, coordinator, "J1", "T1", "T2", "T3")
	for range 3 {
		if _, err := coordinator.GetNextTask(ctx, "W1"); err != nil {
			t.Fatalf("GetNextTask: %v", err)
		}
	}

	// W1 never registered, so it is not active.
	var total atomic.Int64
	var wg sync.WaitGroup
	for range 4 {
		eng := h.engine(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := eng.RecoverOrphans(ctx)
			if err != nil {
				t.Errorf("RecoverOrphans: %v", err)
			}
			total.Add(int64(n))
		}()
	}
	wg.Wait()

	if total.Load() != 3 {
		t.Fatalf("recovered %d in total, want 3", total.Load())
	}
	if n, _ := coordinator.QueueSize(ctx, ""); n != 3 {
		t.Fatalf("queue size = %d, want 3", n)
	}
}

func TestMonitorRecovers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	coordinator := h.engine(t)

	submit(t, coordinator, "J1", "T1")
	if _, err := coordinator.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- engine.NewMonitor(h.engine(t), 20*time.Millisecond).Run(runCtx) }()

	for mustTask(t, coordinator, "T1").Status != task.StatusQueued {
		if runCtx.Err() != nil {
			t.Fatal("monitor did not recover the task")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestMonitorRejectsBadInterval(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	err := engine.NewMonitor(h.engine(t), 0).Run(context.Background())
	if !errors.Is(err, coord.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMonitorReconnects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := kv.New()
	if err := c.ConnectAddr(context.Background(), h.mr.Addr()); err != nil {
		t.Fatalf("ConnectAddr: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	eng, err := engine.New(redisstore.New(c))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var calls atomic.Int32
	m := engine.NewMonitor(eng, time.Second,
		engine.WithBackoff(backoff.NewConstant(10*time.Millisecond)),
		engine.WithReconnect(func(ctx context.Context) error {
			calls.Add(1)
			return c.Reconnect(ctx)
		}),
	)

	h.mr.Close()
	restarted := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		restarted <- h.mr.Restart()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Tick(ctx)
	if err := <-restarted; err != nil {
		t.Fatalf("Restart: %v", err)
	}

	if calls.Load() == 0 {
		t.Fatal("reconnect was never called")
	}
	if !c.IsConnected() {
		t.Fatal("client still disconnected after reconnect")
	}
}

// ──────────────────────────────────────────────────
// Cancel, cleanup and retention
// ──────────────────────────────────────────────────

func TestCancelJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	submit(t, eng, "J1", "T1", "T2")

	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if err := eng.CancelJob(ctx, "J1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if j := mustJob(t, eng, "J1"); j.Status != job.StatusCancelled || j.CompletedAt == nil {
		t.Fatalf("job = %+v", j)
	}
	if tk := mustTask(t, eng, "T2"); tk.Status != task.StatusFailed || tk.Error != "job cancelled" {
		t.Fatalf("queued task after cancel = %+v", tk)
	}

	// The held task still reports; the job stays cancelled.
	if err := eng.CompleteTask(ctx, "T1", "late"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if j := mustJob(t, eng, "J1"); j.Status != job.StatusCancelled {
		t.Fatalf("job status = %s, want cancelled", j.Status)
	}
	// T2's descriptor is still queued but no longer claimable.
	if _, err := eng.GetNextTask(ctx, "W1"); !errors.Is(err, coord.ErrTimeout) {
		t.Fatalf("GetNextTask after cancel: expected ErrTimeout, got %v", err)
	}
	if err := eng.CancelJob(ctx, "J1"); !errors.Is(err, coord.ErrInvalidState) {
		t.Fatalf("second CancelJob: expected ErrInvalidState, got %v", err)
	}
}

func TestCleanupJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t)
	submit(t, eng, "J1", "T1", "T2")

	tasks, err := eng.JobTasks(ctx, "J1")
	if err != nil || len(tasks) != 2 || tasks[0].ID != "T1" || tasks[1].ID != "T2" {
		t.Fatalf("JobTasks = %v, %v", tasks, err)
	}

	for range 2 {
		if err := eng.CleanupJob(ctx, "J1"); err != nil {
			t.Fatalf("CleanupJob: %v", err)
		}
	}
	if _, err := eng.JobStatus(ctx, "J1"); !errors.Is(err, coord.ErrJobNotFound) {
		t.Fatalf("JobStatus after cleanup: expected ErrJobNotFound, got %v", err)
	}
	if _, err := eng.GetTask(ctx, "T1"); !errors.Is(err, coord.ErrTaskNotFound) {
		t.Fatalf("GetTask after cleanup: expected ErrTaskNotFound, got %v", err)
	}
	if tasks, _ := eng.JobTasks(ctx, "J1"); len(tasks) != 0 {
		t.Fatalf("JobTasks after cleanup = %v", tasks)
	}
}

func TestRetention(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	eng := h.engine(t, engine.WithRetention(time.Hour))
	submit(t, eng, "J1", "T1")

	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if ttl := h.mr.TTL("job:J1"); ttl != 0 {
		t.Fatalf("running job has TTL %v", ttl)
	}
	if err := eng.CompleteTask(ctx, "T1", "ok"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	for _, key := range []string{"job:J1", "task:T1"} {
		if ttl := h.mr.TTL(key); ttl <= 0 || ttl > time.Hour {
			t.Errorf("TTL(%s) = %v, want within 1h", key, ttl)
		}
	}
}

// ──────────────────────────────────────────────────
// Events, extensions and instrumentation
// ──────────────────────────────────────────────────

func TestWatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := h.engine(t).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	eng := h.engine(t)
	submit(t, eng, "J1", "T1")
	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if err := eng.CompleteTask(ctx, "T1", "ok"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	var got []task.EventType
	for len(got) < 3 {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed after %v", got)
			}
			if ev.TaskID != "T1" || ev.JobID != "J1" {
				t.Fatalf("event = %+v", ev)
			}
			got = append(got, ev.Type)
		case <-ctx.Done():
			t.Fatalf("timed out with events %v", got)
		}
	}
	want := []task.EventType{task.EventEnqueued, task.EventAssigned, task.EventCompleted}
	if !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

type finishedRecorder struct {
	mu       sync.Mutex
	finished []string
}

func (r *finishedRecorder) Name() string { return "finished-recorder" }

func (r *finishedRecorder) OnJobFinished(_ context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, j.ID+"="+string(j.Status))
	return nil
}

func TestExtensionsSeeJobFinished(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	rec := &finishedRecorder{}
	eng := h.engine(t, engine.WithExtension(rec), engine.WithoutEvents())

	submit(t, eng, "J1")
	submit(t, eng, "J2", "T1")
	if err := eng.CancelJob(context.Background(), "J2"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !slices.Equal(rec.finished, []string{"J1=completed", "J2=cancelled"}) {
		t.Fatalf("finished = %v", rec.finished)
	}
}

func TestInstrumentation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	eng := h.engine(t, engine.WithTracerProvider(tp), engine.WithMeterProvider(mp))

	submit(t, eng, "J1", "T1")
	if _, err := eng.GetNextTask(ctx, "W1"); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}

	names := map[string]bool{}
	for _, s := range spans.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{"coord.engine.SubmitJob", "coord.engine.AddTask", "coord.engine.SealJob", "coord.engine.GetNextTask"} {
		if !names[want] {
			t.Errorf("missing span %s", want)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	metrics := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			metrics[m.Name] = true
		}
	}
	for _, want := range []string{"coord.queue.dequeue_wait", "coord.tasks.enqueued", "coord.tasks.assigned", "coord.jobs.submitted"} {
		if !metrics[want] {
			t.Errorf("missing metric %s", want)
		}
	}
}
