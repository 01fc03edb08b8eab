package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xraph/coord/task"
)

// Watch streams task events published on task.EventsChannel by any engine
// sharing the store. The channel closes when ctx ends. Payloads that are not
// events are skipped.
func (e *Engine) Watch(ctx context.Context) (<-chan task.Event, error) {
	msgs, stop, err := e.store.Subscribe(ctx, task.EventsChannel)
	if err != nil {
		return nil, fmt.Errorf("coord/engine: watch: %w", err)
	}

	out := make(chan task.Event, 16)
	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-msgs:
				if !ok {
					return
				}
				var ev task.Event
				if err := json.Unmarshal([]byte(p), &ev); err != nil {
					e.logger.Debug("skipping malformed task event", slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
