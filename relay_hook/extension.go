package relayhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/coord/ext"
	"github.com/xraph/coord/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.TaskEnqueued  = (*Extension)(nil)
	_ ext.TaskAssigned  = (*Extension)(nil)
	_ ext.TaskCompleted = (*Extension)(nil)
	_ ext.TaskFailed    = (*Extension)(nil)
	_ ext.TaskRecovered = (*Extension)(nil)
	_ ext.TaskReleased  = (*Extension)(nil)
)

// Publisher sends a payload on a pub/sub channel. store.Store satisfies
// it.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// Extension publishes task lifecycle events through a Publisher.
type Extension struct {
	pub     Publisher
	channel string
	enabled map[task.EventType]bool // nil = all enabled
	now     func() time.Time
}

// New creates an Extension that publishes on task.EventsChannel.
func New(p Publisher, opts ...Option) *Extension {
	h := &Extension{
		pub:     p,
		channel: task.EventsChannel,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "relay-hook" }

// OnTaskEnqueued implements ext.TaskEnqueued.
func (h *Extension) OnTaskEnqueued(ctx context.Context, t *task.Task) error {
	return h.send(ctx, task.EventEnqueued, t, "", "")
}

// OnTaskAssigned implements ext.TaskAssigned.
func (h *Extension) OnTaskAssigned(ctx context.Context, t *task.Task) error {
	return h.send(ctx, task.EventAssigned, t, t.WorkerID, "")
}

// OnTaskCompleted implements ext.TaskCompleted.
func (h *Extension) OnTaskCompleted(ctx context.Context, t *task.Task, _ time.Duration) error {
	return h.send(ctx, task.EventCompleted, t, t.WorkerID, "")
}

// OnTaskFailed implements ext.TaskFailed.
func (h *Extension) OnTaskFailed(ctx context.Context, t *task.Task, errMsg string) error {
	return h.send(ctx, task.EventFailed, t, t.WorkerID, errMsg)
}

// OnTaskRecovered implements ext.TaskRecovered. The event carries the dead
// worker's id.
func (h *Extension) OnTaskRecovered(ctx context.Context, t *task.Task, deadWorkerID string) error {
	return h.send(ctx, task.EventRecovered, t, deadWorkerID, "")
}

// OnTaskReleased implements ext.TaskReleased.
func (h *Extension) OnTaskReleased(ctx context.Context, t *task.Task) error {
	return h.send(ctx, task.EventReleased, t, t.WorkerID, "")
}

// send publishes an event if its type is enabled.
func (h *Extension) send(ctx context.Context, typ task.EventType, t *task.Task, workerID, errMsg string) error {
	if h.enabled != nil && !h.enabled[typ] {
		return nil
	}
	payload, err := json.Marshal(task.Event{
		Type:     typ,
		TaskID:   t.ID,
		JobID:    t.JobID,
		WorkerID: workerID,
		Status:   t.Status,
		Error:    errMsg,
		At:       h.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("coord/relayhook: encode %s: %w", typ, err)
	}
	if err := h.pub.Publish(ctx, h.channel, string(payload)); err != nil {
		return fmt.Errorf("coord/relayhook: publish %s: %w", typ, err)
	}
	return nil
}
