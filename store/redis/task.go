package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/coord"
	"github.com/xraph/coord/codec"
	"github.com/xraph/coord/task"
)

// StoreTaskMetadata writes the task record, replacing any prior value.
func (s *Store) StoreTaskMetadata(ctx context.Context, taskID string, m map[string]string) error {
	return s.putRecord(ctx, "store task", taskKey(taskID), m)
}

// CreateTaskMetadata writes the task record only if absent.
func (s *Store) CreateTaskMetadata(ctx context.Context, taskID string, m map[string]string) error {
	return s.createRecord(ctx, "create task", taskKey(taskID), m)
}

// GetTaskMetadata reads the task record.
func (s *Store) GetTaskMetadata(ctx context.Context, taskID string) (map[string]string, error) {
	return s.getRecord(ctx, "get task", taskKey(taskID), coord.ErrTaskNotFound)
}

// UpdateTaskStatus sets the status field in place.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status task.Status) error {
	_, err := s.updateRecord(ctx, "update task status", taskKey(taskID), coord.ErrTaskNotFound,
		map[string]string{task.FieldStatus: string(status)}, nil)
	return err
}

// UpdateTaskFields merges fields into the task record.
func (s *Store) UpdateTaskFields(ctx context.Context, taskID string, fields map[string]string) error {
	_, err := s.updateRecord(ctx, "update task fields", taskKey(taskID), coord.ErrTaskNotFound, fields, nil)
	return err
}

// TransitionTask is a compare-and-set on the task status.
func (s *Store) TransitionTask(ctx context.Context, taskID string, to task.Status, fields map[string]string, from ...task.Status) (task.Status, error) {
	merged := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged[task.FieldStatus] = string(to)

	prev, err := s.updateRecord(ctx, "transition task", taskKey(taskID), coord.ErrTaskNotFound, merged, statusStrings(from))
	return task.Status(prev), err
}

// DeleteTaskMetadata removes the task record.
func (s *Store) DeleteTaskMetadata(ctx context.Context, taskID string) (bool, error) {
	return s.deleteRecord(ctx, "delete task", taskKey(taskID))
}

// ExpireTask sets a TTL on the task record.
func (s *Store) ExpireTask(ctx context.Context, taskID string, ttl time.Duration) error {
	return s.expireKeys(ctx, "expire task", coord.ErrTaskNotFound, ttl, taskKey(taskID))
}

// ── job index ──

// IndexJobTask adds taskID to the job's task set.
func (s *Store) IndexJobTask(ctx context.Context, jobID, taskID string) error {
	if _, err := s.client.SAdd(ctx, jobTasksKey(jobID), taskID); err != nil {
		return fmt.Errorf("coord/redis: index job task: %w", err)
	}
	return nil
}

// JobTaskIDs lists the job's tasks.
func (s *Store) JobTaskIDs(ctx context.Context, jobID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, jobTasksKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("coord/redis: job tasks: %w", err)
	}
	return ids, nil
}

// DropJobIndex deletes the job's task set.
func (s *Store) DropJobIndex(ctx context.Context, jobID string) error {
	if _, err := s.client.Delete(ctx, jobTasksKey(jobID)); err != nil {
		return fmt.Errorf("coord/redis: drop job index: %w", err)
	}
	return nil
}

// ExpireJobIndex sets a TTL on the job's task set.
func (s *Store) ExpireJobIndex(ctx context.Context, jobID string, ttl time.Duration) error {
	if _, err := s.client.Expire(ctx, jobTasksKey(jobID), ttl); err != nil {
		return fmt.Errorf("coord/redis: expire job index: %w", err)
	}
	return nil
}

// ── in-flight sets ──

// MarkInflight records that workerID holds taskID. It reports whether the
// member was new to the set.
func (s *Store) MarkInflight(ctx context.Context, workerID, taskID string) (bool, error) {
	n, err := s.client.SAdd(ctx, inflightKey(workerID), taskID)
	if err != nil {
		return false, fmt.Errorf("coord/redis: mark inflight: %w", err)
	}
	return n == 1, nil
}

// ClaimInflight removes taskID from workerID's set. SREM is atomic, so only
// one caller sees the member removed.
func (s *Store) ClaimInflight(ctx context.Context, workerID, taskID string) (bool, error) {
	n, err := s.client.SRem(ctx, inflightKey(workerID), taskID)
	if err != nil {
		return false, fmt.Errorf("coord/redis: claim inflight: %w", err)
	}
	return n == 1, nil
}

// InflightTaskIDs lists the tasks workerID holds.
func (s *Store) InflightTaskIDs(ctx context.Context, workerID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, inflightKey(workerID))
	if err != nil {
		return nil, fmt.Errorf("coord/redis: inflight tasks: %w", err)
	}
	return ids, nil
}

// InflightWorkerIDs scans for in-flight sets. Redis drops empty sets, so
// every key found holds at least one task.
func (s *Store) InflightWorkerIDs(ctx context.Context) ([]string, error) {
	keys, err := s.client.Scan(ctx, codec.Pattern(codec.KindInflight))
	if err != nil {
		return nil, fmt.Errorf("coord/redis: inflight workers: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		_, workerID, err := codec.ParseKey(k)
		if err != nil {
			continue
		}
		ids = append(ids, workerID)
	}
	return ids, nil
}
