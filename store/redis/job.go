package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/coord"
	"github.com/xraph/coord/job"
)

// StoreJobMetadata writes the job record, replacing any prior value.
func (s *Store) StoreJobMetadata(ctx context.Context, jobID string, m map[string]string) error {
	return s.putRecord(ctx, "store job", jobKey(jobID), m)
}

// CreateJobMetadata writes the job record only if absent.
func (s *Store) CreateJobMetadata(ctx context.Context, jobID string, m map[string]string) error {
	return s.createRecord(ctx, "create job", jobKey(jobID), m)
}

// GetJobMetadata reads the job record.
func (s *Store) GetJobMetadata(ctx context.Context, jobID string) (map[string]string, error) {
	return s.getRecord(ctx, "get job", jobKey(jobID), coord.ErrJobNotFound)
}

// UpdateJobStatus sets the status field in place.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status job.Status) error {
	_, err := s.updateRecord(ctx, "update job status", jobKey(jobID), coord.ErrJobNotFound,
		map[string]string{job.FieldStatus: string(status)}, nil)
	return err
}

// UpdateJobFields merges fields into the job record.
func (s *Store) UpdateJobFields(ctx context.Context, jobID string, fields map[string]string) error {
	_, err := s.updateRecord(ctx, "update job fields", jobKey(jobID), coord.ErrJobNotFound, fields, nil)
	return err
}

// TransitionJob is a compare-and-set on the job status.
func (s *Store) TransitionJob(ctx context.Context, jobID string, to job.Status, fields map[string]string, from ...job.Status) (job.Status, error) {
	merged := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged[job.FieldStatus] = string(to)

	prev, err := s.updateRecord(ctx, "transition job", jobKey(jobID), coord.ErrJobNotFound, merged, statusStrings(from))
	return job.Status(prev), err
}

// DeleteJobMetadata removes the job record, its remaining-task counter and
// its seal marker.
func (s *Store) DeleteJobMetadata(ctx context.Context, jobID string) (bool, error) {
	return s.deleteRecord(ctx, "delete job", jobKey(jobID), remainingKey(jobID), sealedKey(jobID))
}

// AddJobRemaining adjusts the unfinished-task counter.
func (s *Store) AddJobRemaining(ctx context.Context, jobID string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, remainingKey(jobID), delta)
	if err != nil {
		return 0, fmt.Errorf("coord/redis: job remaining: %w", err)
	}
	return n, nil
}

// SealJob sets the seal marker with SETNX.
func (s *Store) SealJob(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, sealedKey(jobID), job.FormatTime(s.now()), 0)
	if err != nil {
		return false, fmt.Errorf("coord/redis: seal job: %w", err)
	}
	return ok, nil
}

// ExpireJob sets a TTL on the job record and its companion keys.
func (s *Store) ExpireJob(ctx context.Context, jobID string, ttl time.Duration) error {
	return s.expireKeys(ctx, "expire job", coord.ErrJobNotFound, ttl, jobKey(jobID), remainingKey(jobID), sealedKey(jobID))
}
