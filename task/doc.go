// Package task defines the task entity, its status lifecycle, lifecycle
// events, and the persistence contract for task metadata and the indexes
// the engine keeps alongside it.
//
// A task is one JSON object of string fields under "task:<id>". Reserved
// fields: job_id, status, worker_id, data, plugin, result, error,
// assigned_at, completed_at, attempts, timeout. Status moves through:
//
//	queued → assigned → completed
//	queued → assigned → failed
//	assigned → queued           (recovered from a dead worker)
package task
