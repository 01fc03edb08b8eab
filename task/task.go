package task

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/xraph/coord"
	"github.com/xraph/coord/job"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusQueued means the task is waiting on a queue.
	StatusQueued Status = "queued"
	// StatusAssigned means a worker dequeued the task and holds it.
	StatusAssigned Status = "assigned"
	// StatusCompleted means the worker reported a result.
	StatusCompleted Status = "completed"
	// StatusFailed means the worker reported an error.
	StatusFailed Status = "failed"
)

// Reserved metadata fields.
const (
	FieldJobID       = "job_id"
	FieldStatus      = "status"
	FieldWorkerID    = "worker_id"
	FieldData        = "data"
	FieldPlugin      = "plugin"
	FieldResult      = "result"
	FieldError       = "error"
	FieldAssignedAt  = "assigned_at"
	FieldCompletedAt = "completed_at"
	FieldAttempts    = "attempts"
	FieldTimeout     = "timeout"
	FieldQueue       = "queue"

	// FieldRecoveredFrom names the dead worker a task was taken back from.
	FieldRecoveredFrom = "recovered_from"
)

var reserved = []string{
	FieldJobID, FieldStatus, FieldWorkerID, FieldData, FieldPlugin,
	FieldResult, FieldError, FieldAssignedAt, FieldCompletedAt,
	FieldAttempts, FieldTimeout, FieldQueue, FieldRecoveredFrom,
}

// IsReserved reports whether field is managed by the coordinator rather
// than by the submitter.
func IsReserved(field string) bool {
	return slices.Contains(reserved, field)
}

// IsTerminal reports whether the task finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusAssigned, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Task is a typed view of a task's metadata.
type Task struct {
	ID          string            `json:"id"`
	JobID       string            `json:"job_id"`
	Status      Status            `json:"status"`
	WorkerID    string            `json:"worker_id,omitempty"`
	Plugin      string            `json:"plugin,omitempty"`
	Queue       string            `json:"queue,omitempty"`
	Data        string            `json:"data,omitempty"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	Attempts    int               `json:"attempts"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	AssignedAt  *time.Time        `json:"assigned_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

// FromMetadata builds a Task from its stored fields.
func FromMetadata(id string, m map[string]string) (*Task, error) {
	t := &Task{
		ID:       id,
		JobID:    m[FieldJobID],
		Status:   Status(m[FieldStatus]),
		WorkerID: m[FieldWorkerID],
		Plugin:   m[FieldPlugin],
		Queue:    m[FieldQueue],
		Data:     m[FieldData],
		Result:   m[FieldResult],
		Error:    m[FieldError],
		Metadata: maps.Clone(m),
	}
	if !t.Status.Valid() {
		return nil, fmt.Errorf("coord/task: %s: %w: status %q", id, coord.ErrDecode, m[FieldStatus])
	}
	if v := m[FieldAttempts]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("coord/task: %s: %w: attempts %q", id, coord.ErrDecode, v)
		}
		t.Attempts = n
	}
	if v := m[FieldTimeout]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("coord/task: %s: %w: timeout %q", id, coord.ErrDecode, v)
		}
		t.Timeout = d
	}
	var err error
	if t.AssignedAt, err = optionalTime(m[FieldAssignedAt]); err != nil {
		return nil, fmt.Errorf("coord/task: %s: assigned_at: %w", id, err)
	}
	if t.CompletedAt, err = optionalTime(m[FieldCompletedAt]); err != nil {
		return nil, fmt.Errorf("coord/task: %s: completed_at: %w", id, err)
	}
	return t, nil
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	at, err := job.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &at, nil
}
