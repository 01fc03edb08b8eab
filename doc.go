// Package coord is the coordination layer of a distributed map/reduce
// framework. It tracks job and task lifecycle, derives worker liveness from
// heartbeat timestamps, and hands work to workers through a durable FIFO
// queue kept in Redis.
//
// # Architecture
//
// Each subsystem (job, task, cluster, queue, counter) defines its own
// entity types and store interface. The store/redis package implements all
// of them on top of a single-connection kv.Client. The engine package
// composes the stores into the coordinator-facing and worker-facing APIs:
//
//	c := kv.New(kv.WithLogger(logger))
//	if err := c.Connect(ctx, "localhost", 6379); err != nil { ... }
//	eng, err := engine.New(redisstore.New(c), engine.WithQueue("tasks:pending"))
//
//	_ = eng.SubmitJob(ctx, "j1", map[string]string{"input": "corpus/"})
//	_ = eng.AddTask(ctx, "j1", "j1-1", `{"path":"shard-0"}`, engine.WithPlugin("wordcount"))
//	_ = eng.SealJob(ctx, "j1")
//
//	t, err := eng.GetNextTask(ctx, workerID)
//	if errors.Is(err, coord.ErrTimeout) { ... }
//
// # Liveness
//
// A worker is alive while its last_heartbeat is no older than the caller's
// timeout. There is no stored "dead" flag; a crashed worker simply ages out
// and the coordinator re-enqueues the tasks it held.
//
// # Connections
//
// A kv.Client owns one logical connection and must not be shared between
// goroutines that issue blocking calls. Reconnecting is always explicit.
package coord
