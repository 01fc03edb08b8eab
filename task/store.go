package task

import (
	"context"
	"time"
)

// Store defines the persistence contract for task metadata, the per-job
// task index, and per-worker in-flight sets.
type Store interface {
	// StoreTaskMetadata writes m as the task's metadata, replacing any
	// prior value.
	StoreTaskMetadata(ctx context.Context, taskID string, m map[string]string) error

	// CreateTaskMetadata writes m only if the task does not exist yet.
	// Returns coord.ErrAlreadyExists otherwise.
	CreateTaskMetadata(ctx context.Context, taskID string, m map[string]string) error

	// GetTaskMetadata reads the task's metadata. Returns
	// coord.ErrTaskNotFound for an absent key and coord.ErrDecode for a
	// malformed value.
	GetTaskMetadata(ctx context.Context, taskID string) (map[string]string, error)

	// UpdateTaskStatus sets the status field without touching other fields.
	UpdateTaskStatus(ctx context.Context, taskID string, status Status) error

	// UpdateTaskFields merges fields into the stored metadata atomically.
	UpdateTaskFields(ctx context.Context, taskID string, fields map[string]string) error

	// TransitionTask sets status to `to` and merges fields, but only if the
	// current status is one of from. It returns the previous status, or
	// coord.ErrInvalidState (with the previous status) when the guard fails.
	TransitionTask(ctx context.Context, taskID string, to Status, fields map[string]string, from ...Status) (Status, error)

	// DeleteTaskMetadata removes the task. Deleting an absent task returns
	// false and no error.
	DeleteTaskMetadata(ctx context.Context, taskID string) (bool, error)

	// ExpireTask schedules the task's metadata for removal after ttl.
	ExpireTask(ctx context.Context, taskID string, ttl time.Duration) error

	// IndexJobTask records taskID under jobID.
	IndexJobTask(ctx context.Context, jobID, taskID string) error

	// JobTaskIDs lists the tasks recorded under jobID.
	JobTaskIDs(ctx context.Context, jobID string) ([]string, error)

	// DropJobIndex removes the job's task index.
	DropJobIndex(ctx context.Context, jobID string) error

	// ExpireJobIndex schedules the job's task index for removal after ttl.
	ExpireJobIndex(ctx context.Context, jobID string, ttl time.Duration) error

	// MarkInflight records that workerID holds taskID. It reports false when
	// the pair was already recorded.
	MarkInflight(ctx context.Context, workerID, taskID string) (bool, error)

	// ClaimInflight removes taskID from workerID's in-flight set. Exactly one
	// concurrent caller observes true.
	ClaimInflight(ctx context.Context, workerID, taskID string) (bool, error)

	// InflightTaskIDs lists the tasks workerID holds.
	InflightTaskIDs(ctx context.Context, workerID string) ([]string, error)

	// InflightWorkerIDs lists workers with a non-empty in-flight set.
	InflightWorkerIDs(ctx context.Context) ([]string, error)
}
