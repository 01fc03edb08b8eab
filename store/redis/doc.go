// Package redis implements store.Store on top of a kv.Client.
//
// Layout:
//
//	job:<id>           JSON object of string fields
//	task:<id>          JSON object of string fields
//	worker:<id>        hash (host, port, registered_at, last_heartbeat, ...)
//	jobtasks:<job>     set of task ids
//	jobremaining:<job> integer, unfinished tasks plus the submission hold
//	jobsealed:<job>    string, set once no more tasks will be added
//	inflight:<worker>  set of task ids the worker holds
//	counter:<name>     integer
//	<queue name>       list, RPUSH in / BLPOP out
//
// Status and field updates on JSON records run as one Lua script, so they
// never lose concurrent writes and keep any retention TTL.
//
// The caller owns the kv.Client. Give each goroutine its own Store over its
// own client:
//
//	c := kv.New()
//	if err := c.Connect(ctx, "localhost", 6379); err != nil { ... }
//	s := redis.New(c)
package redis
