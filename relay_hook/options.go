package relayhook

import (
	"time"

	"github.com/xraph/coord/task"
)

// Option configures an Extension.
type Option func(*Extension)

// WithEvents restricts the extension to publish only the listed event
// types. By default every type in AllEvents is published.
func WithEvents(events ...task.EventType) Option {
	return func(h *Extension) {
		h.enabled = make(map[task.EventType]bool, len(events))
		for _, e := range events {
			h.enabled[e] = true
		}
	}
}

// WithChannel publishes on channel instead of task.EventsChannel.
func WithChannel(channel string) Option {
	return func(h *Extension) { h.channel = channel }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Extension) { h.now = now }
}
