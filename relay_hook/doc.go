// Package relayhook relays task lifecycle events onto a pub/sub channel.
// When registered as an extension, it publishes a JSON task.Event
// (task.enqueued, task.completed, etc.) at every task lifecycle point so
// that dashboards and coordinators can follow progress without polling.
//
// The engine registers one with every event enabled. To restrict which
// events are published, replace it:
//
//	hook := relayhook.New(store,
//	    relayhook.WithEvents(
//	        task.EventCompleted,
//	        task.EventFailed,
//	    ),
//	)
//	eng, _ := engine.New(store, engine.WithoutEvents(), engine.WithExtension(hook))
//
// Publishing is best effort: a failed publish is logged by the extension
// registry and never fails the task operation that triggered it.
package relayhook
