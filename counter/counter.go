// Package counter defines atomic int64 counters shared by every process on
// one backing store.
package counter

import "context"

// Well-known counter names maintained by the engine.
const (
	JobsSubmitted  = "stats:jobs_submitted"
	TasksEnqueued  = "stats:tasks_enqueued"
	TasksCompleted = "stats:tasks_completed"
	TasksFailed    = "stats:tasks_failed"
	TasksRecovered = "stats:tasks_recovered"
)

// TaskSequence names the per-job counter used to mint task ids.
func TaskSequence(jobID string) string {
	return "taskseq:" + jobID
}

// Store defines the persistence contract for counters. Every operation is a
// single atomic round trip; there is no read-modify-write.
type Store interface {
	// Increment adds delta and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// Decrement subtracts delta and returns the new value.
	Decrement(ctx context.Context, key string, delta int64) (int64, error)

	// Get reads the value. An absent counter reads as zero; a non-integer
	// value is coord.ErrDecode.
	Get(ctx context.Context, key string) (int64, error)
}
