package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/coord/task"
)

// Timeout returns middleware that enforces a per-task execution deadline.
// The task's own Timeout wins; otherwise fallback applies. When both are
// zero the handler runs without a deadline.
func Timeout(logger *slog.Logger, fallback time.Duration) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		d := t.Timeout
		if d <= 0 {
			d = fallback
		}
		if d > 0 {
			logger.Debug("task timeout set",
				slog.String("task_id", t.ID),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
