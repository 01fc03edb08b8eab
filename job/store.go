package job

import (
	"context"
	"time"
)

// Store defines the persistence contract for job metadata.
type Store interface {
	// StoreJobMetadata writes m as the job's metadata, replacing any prior
	// value.
	StoreJobMetadata(ctx context.Context, jobID string, m map[string]string) error

	// CreateJobMetadata writes m only if the job does not exist yet.
	// Returns coord.ErrAlreadyExists otherwise.
	CreateJobMetadata(ctx context.Context, jobID string, m map[string]string) error

	// GetJobMetadata reads the job's metadata. Returns coord.ErrJobNotFound
	// for an absent key and coord.ErrDecode for a malformed value.
	GetJobMetadata(ctx context.Context, jobID string) (map[string]string, error)

	// UpdateJobStatus sets the status field without touching other fields.
	UpdateJobStatus(ctx context.Context, jobID string, status Status) error

	// UpdateJobFields merges fields into the stored metadata atomically.
	UpdateJobFields(ctx context.Context, jobID string, fields map[string]string) error

	// TransitionJob sets status to `to` and merges fields, but only if the
	// current status is one of from. It returns the previous status, or
	// coord.ErrInvalidState (with the previous status) when the guard fails.
	TransitionJob(ctx context.Context, jobID string, to Status, fields map[string]string, from ...Status) (Status, error)

	// DeleteJobMetadata removes the job, its remaining-task counter and its
	// seal marker.
	// Deleting an absent job returns false and no error.
	DeleteJobMetadata(ctx context.Context, jobID string) (bool, error)

	// AddJobRemaining adjusts the job's count of unfinished tasks by delta
	// and returns the new value. A missing counter starts at zero.
	AddJobRemaining(ctx context.Context, jobID string, delta int64) (int64, error)

	// SealJob records that no more tasks will be added to the job. Exactly
	// one caller observes true.
	SealJob(ctx context.Context, jobID string) (bool, error)

	// ExpireJob schedules the job's metadata, remaining-task counter and seal
	// marker for removal after ttl.
	ExpireJob(ctx context.Context, jobID string, ttl time.Duration) error
}
