package relayhook

import "github.com/xraph/coord/task"

// AllEvents returns every event type this extension can publish.
func AllEvents() []task.EventType {
	return []task.EventType{
		task.EventEnqueued,
		task.EventAssigned,
		task.EventCompleted,
		task.EventFailed,
		task.EventRecovered,
		task.EventReleased,
	}
}
