package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/coord"
	"github.com/xraph/coord/backoff"
	"github.com/xraph/coord/counter"
	"github.com/xraph/coord/queue"
	"github.com/xraph/coord/task"
)

// RecoverOrphans re-enqueues tasks held by workers that are no longer
// active and returns how many were recovered. Each in-flight entry is
// claimed atomically, so concurrent recoverers never re-enqueue the same
// hold twice.
func (e *Engine) RecoverOrphans(ctx context.Context) (n int, err error) {
	ctx, span := e.startSpan(ctx, "RecoverOrphans")
	defer func() { endSpan(span, err) }()

	active, err := e.store.GetActiveWorkers(ctx, e.livenessTimeout)
	if err != nil {
		return 0, fmt.Errorf("coord/engine: recover orphans: %w", err)
	}
	live := make(map[string]struct{}, len(active))
	for _, id := range active {
		live[id] = struct{}{}
	}

	holders, err := e.store.InflightWorkerIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("coord/engine: recover orphans: %w", err)
	}
	for _, wid := range holders {
		if _, ok := live[wid]; ok {
			continue
		}
		ids, err := e.store.InflightTaskIDs(ctx, wid)
		if err != nil {
			return n, fmt.Errorf("coord/engine: recover orphans: %w", err)
		}
		for _, id := range ids {
			claimed, err := e.store.ClaimInflight(ctx, wid, id)
			if err != nil {
				return n, fmt.Errorf("coord/engine: recover orphans: %w", err)
			}
			if !claimed {
				continue
			}
			ok, err := e.recoverTask(ctx, wid, id)
			if err != nil {
				return n, fmt.Errorf("coord/engine: recover orphans: %w", err)
			}
			if ok {
				n++
			}
		}
	}
	return n, nil
}

// recoverTask puts a claimed task back on its queue. An assigned task is
// reset to queued only if deadWorkerID still holds it. A task that is
// still queued lost its descriptor between dequeue and assignment and is
// enqueued again.
func (e *Engine) recoverTask(ctx context.Context, deadWorkerID, taskID string) (bool, error) {
	m, err := e.store.GetTaskMetadata(ctx, taskID)
	if errors.Is(err, coord.ErrNotFound) || errors.Is(err, coord.ErrDecode) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch task.Status(m[task.FieldStatus]) {
	case task.StatusAssigned:
		if m[task.FieldWorkerID] != deadWorkerID {
			return false, nil
		}
		fields := map[string]string{
			task.FieldWorkerID:      "",
			task.FieldRecoveredFrom: deadWorkerID,
		}
		if _, err := e.store.TransitionTask(ctx, taskID, task.StatusQueued, fields, task.StatusAssigned); err != nil {
			if ignorable(err) {
				return false, nil
			}
			return false, err
		}
		m[task.FieldWorkerID] = ""
		m[task.FieldRecoveredFrom] = deadWorkerID
		m[task.FieldStatus] = string(task.StatusQueued)
	case task.StatusQueued:
	default:
		return false, nil
	}

	d := queue.Descriptor{TaskID: taskID, JobID: m[task.FieldJobID], Plugin: m[task.FieldPlugin]}
	if err := e.enqueue(ctx, m[task.FieldQueue], d); err != nil {
		return false, err
	}

	e.bump(ctx, counter.TasksRecovered)
	e.logger.Info("task recovered",
		slog.String("task_id", taskID),
		slog.String("dead_worker_id", deadWorkerID),
	)
	if t, terr := task.FromMetadata(taskID, m); terr == nil {
		e.extensions.EmitTaskRecovered(ctx, t, deadWorkerID)
	}
	return true, nil
}

// ──────────────────────────────────────────────────
// Monitor
// ──────────────────────────────────────────────────

// Monitor runs RecoverOrphans on a fixed interval.
type Monitor struct {
	eng       *Engine
	interval  time.Duration
	reconnect func(ctx context.Context) error
	backoff   backoff.Strategy
	logger    *slog.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithReconnect sets the function called after a connection failure, such
// as kv.Client.Reconnect. Without it the monitor just waits for the next
// tick.
func WithReconnect(fn func(ctx context.Context) error) MonitorOption {
	return func(m *Monitor) { m.reconnect = fn }
}

// WithBackoff sets the delay strategy between reconnect attempts.
func WithBackoff(s backoff.Strategy) MonitorOption {
	return func(m *Monitor) { m.backoff = s }
}

// WithMonitorLogger sets a custom logger.
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a Monitor for eng.
func NewMonitor(eng *Engine, interval time.Duration, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		eng:      eng,
		interval: interval,
		backoff:  backoff.DefaultStrategy(),
		logger:   eng.logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks until ctx ends. It returns nil on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		return fmt.Errorf("coord/engine: monitor: %w: interval %s", coord.ErrInvalidArgument, m.interval)
	}

	m.logger.Info("recovery monitor started", slog.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("recovery monitor stopped")
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one recovery pass, reconnecting first if the pass lost the
// connection.
func (m *Monitor) Tick(ctx context.Context) {
	n, err := m.eng.RecoverOrphans(ctx)
	if n > 0 {
		m.logger.Info("recovered orphaned tasks", slog.Int("count", n))
	}
	if err == nil || ctx.Err() != nil {
		return
	}

	m.logger.Warn("recovery pass failed", slog.String("error", err.Error()))
	if m.reconnect == nil || !errors.Is(err, coord.ErrConnection) {
		return
	}
	if rerr := backoff.Retry(ctx, m.backoff, 0, m.reconnect); rerr != nil && ctx.Err() == nil {
		m.logger.Error("reconnect failed", slog.String("error", rerr.Error()))
	}
}
