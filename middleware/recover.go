package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/coord/task"
)

// PanicError is returned by Recover when a plugin panics. Its text becomes
// the task's recorded error.
type PanicError struct {
	TaskID string
	Plugin string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in plugin %s for task %s: %v", e.Plugin, e.TaskID, e.Value)
}

// Recover returns middleware that turns a panic below it into a
// *PanicError. Place it inside Tracing and Metrics so they see the failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				pe := &PanicError{TaskID: t.ID, Plugin: t.Plugin, Value: r, Stack: debug.Stack()}
				logger.Error("plugin panicked",
					slog.String("task_id", t.ID),
					slog.String("job_id", t.JobID),
					slog.String("plugin", t.Plugin),
					slog.Int("attempt", t.Attempts),
					slog.Any("panic", r),
					slog.String("stack", string(pe.Stack)),
				)
				retErr = pe
			}
		}()
		return next(ctx)
	}
}
