// Package engine implements the coordinator-facing and worker-facing
// operations on top of a store.Store.
//
// A coordinator submits a job, adds its tasks and seals it:
//
//	eng, _ := engine.New(s, engine.WithConfig(cfg))
//	_ = eng.SubmitJob(ctx, "J1", map[string]string{"input": "s3://bucket/in"})
//	_ = eng.AddTask(ctx, "J1", "J1_task_0", `{"split":0}`, engine.WithPlugin("wordcount"))
//	_ = eng.SealJob(ctx, "J1")
//
// A worker pulls, executes and reports:
//
//	t, err := eng.GetNextTask(ctx, workerID)
//	if errors.Is(err, coord.ErrTimeout) { ... poll again ... }
//	_ = eng.CompleteTask(ctx, t.ID, result)
//
// Task metadata is always written before the task's descriptor is enqueued,
// so a worker never dequeues a task it cannot read. A dequeued task is
// recorded in its worker's in-flight set; RecoverOrphans, usually driven by
// a Monitor, re-enqueues tasks held by workers that stopped heartbeating.
//
// Each job carries a remaining-task counter. SubmitJob holds it at one until
// SealJob; every task adds one and every terminal task report removes one.
// Whichever call brings it to zero marks the job completed, or failed when
// any task failed, and applies the retention TTL.
//
// An Engine is safe for concurrent use only if its store is. The Redis store
// is backed by a single connection, and GetNextTask holds it for the whole
// dequeue timeout, so workers give each goroutine its own store and engine.
package engine
