// Package worker is the worker runtime: an Executor that runs a task
// through middleware and its plugin, and a Pool of goroutines that pull
// tasks, execute them and report the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/coord/backoff"
	"github.com/xraph/coord/middleware"
	"github.com/xraph/coord/plugin"
	"github.com/xraph/coord/task"
)

// Reporter records task outcomes. *engine.Engine satisfies it.
type Reporter interface {
	CompleteTask(ctx context.Context, taskID, result string) error
	FailTask(ctx context.Context, taskID, errMsg string) error
	ReleaseTask(ctx context.Context, taskID string) error
}

// Executor runs a single task through middleware and its plugin, then
// reports completion, failure or a retry.
type Executor struct {
	plugins     *plugin.Registry
	backoff     backoff.Strategy
	maxAttempts int
	mw          middleware.Middleware
	logger      *slog.Logger
}

// NewExecutor creates an Executor. A task that fails before its
// maxAttempts-th attempt is handed back to its queue after a backoff delay
// instead of being failed; maxAttempts below one means a single attempt.
func NewExecutor(
	plugins *plugin.Registry,
	bo backoff.Strategy,
	maxAttempts int,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{
		plugins:     plugins,
		backoff:     bo,
		maxAttempts: maxAttempts,
		mw:          middleware.Chain(mws...),
		logger:      logger,
	}
}

// Execute runs t and reports the outcome through r.
// On success: CompleteTask with the plugin's result.
// On failure with attempts remaining: ReleaseTask after a backoff delay.
// On failure otherwise: FailTask with the error text.
// If ctx is cancelled mid-run the task is released for another worker.
func (x *Executor) Execute(ctx context.Context, r Reporter, t *task.Task) error {
	// Reports must land even when the run was cut short.
	rctx := context.WithoutCancel(ctx)

	p, err := x.plugins.Lookup(t.Plugin)
	if err != nil {
		return x.fail(rctx, r, t, fmt.Errorf("no plugin registered for task %s: %w", t.ID, err))
	}
	if t.Timeout <= 0 {
		t.Timeout = plugin.OptionsOf(p).Timeout
	}

	start := time.Now()
	var result string
	terminal := func(ctx context.Context) error {
		var err error
		result, err = p.Execute(ctx, t)
		return err
	}
	err = x.mw(ctx, t, terminal)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return x.release(rctx, r, t, err)
		}
		return x.handleFailure(ctx, rctx, r, t, err)
	}
	return x.handleSuccess(rctx, r, t, result, elapsed)
}

// handleSuccess reports the result.
func (x *Executor) handleSuccess(ctx context.Context, r Reporter, t *task.Task, result string, elapsed time.Duration) error {
	if err := r.CompleteTask(ctx, t.ID, result); err != nil {
		x.logger.Error("failed to report task completion",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	x.logger.Debug("task completed",
		slog.String("task_id", t.ID),
		slog.String("plugin", t.Plugin),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// handleFailure either schedules another attempt or fails the task.
func (x *Executor) handleFailure(ctx, rctx context.Context, r Reporter, t *task.Task, runErr error) error {
	if t.Attempts < x.maxAttempts {
		return x.scheduleRetry(ctx, rctx, r, t, runErr)
	}
	return x.fail(rctx, r, t, runErr)
}

// scheduleRetry waits out the backoff delay and hands the task back to its
// queue. The next pull counts as a new attempt.
func (x *Executor) scheduleRetry(ctx, rctx context.Context, r Reporter, t *task.Task, runErr error) error {
	delay := x.backoff.Delay(t.Attempts)
	// A cancelled wait releases immediately.
	_ = backoff.Sleep(ctx, delay) //nolint:errcheck // cancellation only shortens the wait

	if err := r.ReleaseTask(rctx, t.ID); err != nil {
		x.logger.Error("failed to release task for retry",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	x.logger.Info("task released for retry",
		slog.String("task_id", t.ID),
		slog.String("plugin", t.Plugin),
		slog.Int("attempt", t.Attempts),
		slog.Int("max_attempts", x.maxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", runErr.Error()),
	)
	return fmt.Errorf("task %s attempt %d/%d: %w", t.ID, t.Attempts, x.maxAttempts, runErr)
}

// fail reports runErr as the task's final error.
func (x *Executor) fail(ctx context.Context, r Reporter, t *task.Task, runErr error) error {
	if err := r.FailTask(ctx, t.ID, runErr.Error()); err != nil {
		x.logger.Error("failed to report task failure",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		return errors.Join(runErr, err)
	}
	x.logger.Warn("task failed",
		slog.String("task_id", t.ID),
		slog.String("plugin", t.Plugin),
		slog.Int("attempts", t.Attempts),
		slog.String("error", runErr.Error()),
	)
	return runErr
}

// release hands an interrupted task back without counting it as failed.
func (x *Executor) release(ctx context.Context, r Reporter, t *task.Task, runErr error) error {
	if err := r.ReleaseTask(ctx, t.ID); err != nil {
		x.logger.Error("failed to release interrupted task",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		return errors.Join(runErr, err)
	}
	x.logger.Info("interrupted task released", slog.String("task_id", t.ID))
	return runErr
}
