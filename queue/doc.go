// Package queue defines the durable FIFO hand-off between coordinators and
// workers, the descriptor carried on it, and local pull limits.
//
// # Store
//
// [Store] is a named list per queue. Producers append with [Store.Enqueue]
// (tail), consumers block in [Store.Dequeue] (head) for at most the given
// timeout. An elapsed dequeue returns coord.ErrTimeout, which is never a
// connection failure. Ordering is strict FIFO within one queue name and
// unspecified across names.
//
// # Descriptor
//
// Entries are opaque strings. The engine writes a JSON [Descriptor]:
//
//	{"task_id":"task_...","job_id":"job_...","plugin":"render"}
//
// [DecodeDescriptor] also accepts a bare task id so producers outside this
// module can push plain ids.
//
// # Manager
//
// [Manager] throttles how fast a process pulls from each queue and caps how
// many tasks per queue and per plugin run at once. It uses a token-bucket
// limiter (golang.org/x/time/rate):
//
//	m := queue.NewManager(queue.Config{Name: "tasks:pending", RateLimit: 20, RateBurst: 5})
//	m.SetPluginConfig(queue.PluginConfig{QueueName: "tasks:pending", Plugin: "nerf", MaxConcurrency: 1})
//
//	if err := m.Wait(ctx, "tasks:pending"); err != nil { ... }
//	if m.Acquire("tasks:pending", t.Plugin) {
//	    defer m.Release("tasks:pending", t.Plugin)
//	    // run the task
//	}
package queue
