package task

import "time"

// EventsChannel is the pub/sub channel task events are published on.
const EventsChannel = "events:tasks"

// EventType identifies a task lifecycle transition.
type EventType string

const (
	EventEnqueued  EventType = "task.enqueued"
	EventAssigned  EventType = "task.assigned"
	EventCompleted EventType = "task.completed"
	EventFailed    EventType = "task.failed"
	EventRecovered EventType = "task.recovered"
	EventReleased  EventType = "task.released"
)

// Event is published on EventsChannel as JSON.
type Event struct {
	Type     EventType `json:"type"`
	TaskID   string    `json:"task_id"`
	JobID    string    `json:"job_id,omitempty"`
	WorkerID string    `json:"worker_id,omitempty"`
	Status   Status    `json:"status"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
