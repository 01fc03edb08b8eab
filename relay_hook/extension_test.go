package relayhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/coord/ext"
	rh "github.com/xraph/coord/relay_hook"
	"github.com/xraph/coord/task"
)

// ── Helpers ─────────────────────────────────────────

type published struct {
	channel string
	event   task.Event
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, channel, payload string) error {
	if p.err != nil {
		return p.err
	}
	var ev task.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{channel, ev})
	return nil
}

func (p *recordingPublisher) last(t *testing.T) published {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		t.Fatal("nothing published")
	}
	return p.sent[len(p.sent)-1]
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHook(p rh.Publisher, opts ...rh.Option) *rh.Extension {
	opts = append([]rh.Option{rh.WithClock(func() time.Time { return fixedNow })}, opts...)
	return rh.New(p, opts...)
}

func newTestTask() *task.Task {
	return &task.Task{ID: "t1", JobID: "j1", WorkerID: "w1", Status: task.StatusAssigned, Plugin: "render"}
}

// ── Tests ───────────────────────────────────────────

func TestRelayHookExtension_Name(t *testing.T) {
	h := rh.New(&recordingPublisher{})
	if h.Name() != "relay-hook" {
		t.Errorf("expected name %q, got %q", "relay-hook", h.Name())
	}
}

func TestRelayHookExtension_Events(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		typ        task.EventType
		fire       func(*rh.Extension, *task.Task) error
		wantWorker string
		wantErr    string
	}{
		{task.EventEnqueued, func(h *rh.Extension, tk *task.Task) error { return h.OnTaskEnqueued(ctx, tk) }, "", ""},
		{task.EventAssigned, func(h *rh.Extension, tk *task.Task) error { return h.OnTaskAssigned(ctx, tk) }, "w1", ""},
		{task.EventCompleted, func(h *rh.Extension, tk *task.Task) error { return h.OnTaskCompleted(ctx, tk, time.Second) }, "w1", ""},
		{task.EventFailed, func(h *rh.Extension, tk *task.Task) error { return h.OnTaskFailed(ctx, tk, "boom") }, "w1", "boom"},
		{task.EventRecovered, func(h *rh.Extension, tk *task.Task) error { return h.OnTaskRecovered(ctx, tk, "w-dead") }, "w-dead", ""},
		{task.EventReleased, func(h *rh.Extension, tk *task.Task) error { return h.OnTaskReleased(ctx, tk) }, "w1", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			t.Parallel()
			p := &recordingPublisher{}
			if err := tt.fire(newTestHook(p), newTestTask()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := p.last(t)
			if got.channel != task.EventsChannel {
				t.Errorf("channel = %q, want %q", got.channel, task.EventsChannel)
			}
			want := task.Event{
				Type:     tt.typ,
				TaskID:   "t1",
				JobID:    "j1",
				WorkerID: tt.wantWorker,
				Status:   task.StatusAssigned,
				Error:    tt.wantErr,
				At:       fixedNow,
			}
			if got.event != want {
				t.Errorf("event = %+v, want %+v", got.event, want)
			}
		})
	}
}

func TestRelayHookExtension_WithEventsFilters(t *testing.T) {
	p := &recordingPublisher{}
	h := newTestHook(p, rh.WithEvents(task.EventFailed))
	ctx := context.Background()

	_ = h.OnTaskEnqueued(ctx, newTestTask())
	_ = h.OnTaskCompleted(ctx, newTestTask(), 0)
	_ = h.OnTaskFailed(ctx, newTestTask(), "boom")

	if len(p.sent) != 1 || p.sent[0].event.Type != task.EventFailed {
		t.Fatalf("published %+v, want only task.failed", p.sent)
	}
}

func TestRelayHookExtension_WithChannel(t *testing.T) {
	p := &recordingPublisher{}
	h := newTestHook(p, rh.WithChannel("events:render"))
	_ = h.OnTaskEnqueued(context.Background(), newTestTask())
	if got := p.last(t).channel; got != "events:render" {
		t.Errorf("channel = %q", got)
	}
}

func TestRelayHookExtension_PublishErrorReturned(t *testing.T) {
	boom := errors.New("publish failed")
	h := newTestHook(&recordingPublisher{err: boom})
	if err := h.OnTaskEnqueued(context.Background(), newTestTask()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestRelayHookExtension_RegistryAbsorbsErrors(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(newTestHook(&recordingPublisher{err: errors.New("down")}))
	r.EmitTaskCompleted(context.Background(), newTestTask(), time.Second)
}

func TestAllEvents(t *testing.T) {
	if got := len(rh.AllEvents()); got != 6 {
		t.Fatalf("AllEvents() has %d entries, want 6", got)
	}
}
