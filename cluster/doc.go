// Package cluster defines the worker registry: the worker entity, its hash
// encoding, and the persistence contract for registration, heartbeats and
// liveness queries.
//
// Liveness is derived, never stored. A worker is active iff
//
//	last_heartbeat >= now - timeout
//
// with the boundary inclusive. There is no "dead" flag. A crashed worker
// simply drops out of [Store.GetActiveWorkers] once its heartbeat ages past
// the caller's timeout, and that survives coordinator restarts. Workers
// should heartbeat on an interval strictly shorter than the timeout used by
// coordinators.
package cluster
