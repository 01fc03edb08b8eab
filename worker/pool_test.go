package worker_test

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/xraph/coord"
	"github.com/xraph/coord/backoff"
	"github.com/xraph/coord/engine"
	"github.com/xraph/coord/job"
	"github.com/xraph/coord/kv"
	"github.com/xraph/coord/plugin"
	redisstore "github.com/xraph/coord/store/redis"
	"github.com/xraph/coord/task"
	"github.com/xraph/coord/worker"
)

func testConfig(t *testing.T, mr *miniredis.Miniredis) coord.Config {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	cfg := coord.DefaultConfig()
	cfg.RedisHost = mr.Host()
	cfg.RedisPort = port
	cfg.Queue = "tasks"
	cfg.DequeueTimeout = coord.Duration{Duration: time.Second}
	cfg.HeartbeatInterval = coord.Duration{Duration: 100 * time.Millisecond}
	cfg.Concurrency = 2
	return cfg
}

func coordinator(t *testing.T, mr *miniredis.Miniredis, cfg coord.Config) *engine.Engine {
	t.Helper()
	c := kv.New()
	if err := c.ConnectAddr(context.Background(), mr.Addr()); err != nil {
		t.Fatalf("ConnectAddr: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	eng, err := engine.New(redisstore.New(c), engine.WithConfig(cfg))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func submit(t *testing.T, eng *engine.Engine, jobID, pluginName string, data ...string) {
	t.Helper()
	ctx := context.Background()
	if err := eng.SubmitJob(ctx, jobID, nil); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	for _, d := range data {
		taskID, err := eng.NextTaskID(ctx, jobID)
		if err != nil {
			t.Fatalf("NextTaskID: %v", err)
		}
		if err := eng.AddTask(ctx, jobID, taskID, d, engine.WithPlugin(pluginName)); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}
	if err := eng.SealJob(ctx, jobID); err != nil {
		t.Fatalf("SealJob: %v", err)
	}
}

// waitJob polls until jobID reaches a terminal status.
func waitJob(t *testing.T, eng *engine.Engine, jobID string) *job.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		j, err := eng.JobStatus(context.Background(), jobID)
		if err != nil {
			t.Fatalf("JobStatus: %v", err)
		}
		if j.Status.IsTerminal() {
			return j
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return nil
}

// runPool runs p until the test ends and reports Run's error.
func runPool(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
}

func TestNewPoolValidates(t *testing.T) {
	t.Parallel()
	cfg := coord.DefaultConfig()
	cfg.Concurrency = 0
	if _, err := worker.NewPool(cfg, plugin.NewRegistry()); !errors.Is(err, coord.ErrInvalidArgument) {
		t.Fatalf("zero concurrency: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := worker.NewPool(coord.DefaultConfig(), nil); !errors.Is(err, coord.ErrInvalidArgument) {
		t.Fatalf("nil registry: expected ErrInvalidArgument, got %v", err)
	}
}

func TestPoolStartStop(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	eng := coordinator(t, mr, cfg)

	p, err := worker.NewPool(cfg, plugin.NewRegistry(),
		worker.WithWorkerID("worker-a"),
		worker.WithHost("node-1"),
		worker.WithAttributes(map[string]string{"zone": "eu"}),
	)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Double start should be no-op.
	if err := p.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	active, err := eng.GetActiveWorkers(ctx)
	if err != nil || !slices.Equal(active, []string{"worker-a"}) {
		t.Fatalf("active workers = %v, %v", active, err)
	}
	workers, _ := eng.ListWorkers(ctx)
	if len(workers) != 1 || workers[0].Host != "node-1" || workers[0].Port != cfg.WorkerPort || workers[0].Attributes["zone"] != "eu" {
		t.Fatalf("registered worker = %+v", workers)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Double stop should be no-op.
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if workers, _ := eng.ListWorkers(ctx); len(workers) != 0 {
		t.Fatalf("worker still registered after Stop: %+v", workers)
	}
}

func TestPoolProcessesJob(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	eng := coordinator(t, mr, cfg)

	reg := plugin.NewRegistry()
	reg.MustRegister(plugin.NewFunc("upper", func(_ context.Context, tk *task.Task) (string, error) {
		return strings.ToUpper(tk.Data), nil
	}))
	p, err := worker.NewPool(cfg, reg, worker.WithShutdownTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	runPool(t, p)

	submit(t, eng, "J1", "upper", "alpha", "beta", "gamma")
	j := waitJob(t, eng, "J1")
	if j.Status != job.StatusCompleted {
		t.Fatalf("job status = %s, want completed", j.Status)
	}

	tasks, err := eng.JobTasks(context.Background(), "J1")
	if err != nil {
		t.Fatalf("JobTasks: %v", err)
	}
	var results []string
	for _, tk := range tasks {
		if tk.WorkerID != p.WorkerID() {
			t.Errorf("task %s ran on %q, want %q", tk.ID, tk.WorkerID, p.WorkerID())
		}
		results = append(results, tk.Result)
	}
	if !slices.Equal(results, []string{"ALPHA", "BETA", "GAMMA"}) {
		t.Fatalf("results = %v", results)
	}
	if p.Processed() != 3 {
		t.Fatalf("Processed = %d, want 3", p.Processed())
	}
}

func TestPoolFailsTaskAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	eng := coordinator(t, mr, cfg)

	var calls atomic.Int32
	reg := plugin.NewRegistry()
	reg.MustRegister(plugin.NewFunc("flaky", func(context.Context, *task.Task) (string, error) {
		calls.Add(1)
		return "", errors.New("upstream unavailable")
	}))
	p, err := worker.NewPool(cfg, reg,
		worker.WithMaxAttempts(2),
		worker.WithBackoff(backoff.NewConstant(10*time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	runPool(t, p)

	submit(t, eng, "J1", "flaky", "x")
	j := waitJob(t, eng, "J1")
	if j.Status != job.StatusFailed {
		t.Fatalf("job status = %s, want failed", j.Status)
	}
	tk, err := eng.GetTask(context.Background(), "J1_task_0")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if tk.Status != task.StatusFailed || tk.Attempts != 2 || tk.Error != "upstream unavailable" {
		t.Fatalf("task = %+v", tk)
	}
	if calls.Load() != 2 {
		t.Fatalf("plugin ran %d times, want 2", calls.Load())
	}
}

func TestPoolFailsUnknownPlugin(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.Concurrency = 1
	eng := coordinator(t, mr, cfg)

	p, err := worker.NewPool(cfg, plugin.NewRegistry())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	runPool(t, p)

	submit(t, eng, "J1", "missing", "x")
	if j := waitJob(t, eng, "J1"); j.Status != job.StatusFailed {
		t.Fatalf("job status = %s, want failed", j.Status)
	}
	tk, _ := eng.GetTask(context.Background(), "J1_task_0")
	if !strings.Contains(tk.Error, "no plugin registered") {
		t.Fatalf("task error = %q", tk.Error)
	}
}
