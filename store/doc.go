// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, task, cluster, queue, counter) defines its own store
// interface. The composite [Store] composes them and adds the pub/sub and
// lifecycle calls the engine needs, so one backend serves the whole
// coordination layer.
//
// # Available Backends
//
//   - store/redis: Redis backend over a single kv.Client
//
// # Usage
//
//	c := kv.New()
//	if err := c.Connect(ctx, "localhost", 6379); err != nil {
//	    log.Fatal(err)
//	}
//	s := redis.New(c)
//	defer s.Close()
//
//	eng, err := engine.New(s, engine.WithQueue("tasks"))
package store
