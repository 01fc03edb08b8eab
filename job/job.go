package job

import (
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/xraph/coord"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job was submitted and no task has started.
	StatusPending Status = "pending"
	// StatusRunning means at least one task was handed to a worker.
	StatusRunning Status = "running"
	// StatusCompleted means every task completed.
	StatusCompleted Status = "completed"
	// StatusFailed means every task finished and at least one failed.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Reserved metadata fields.
const (
	FieldStatus      = "status"
	FieldCreatedAt   = "created_at"
	FieldCompletedAt = "completed_at"
	FieldFailedTasks = "failed_tasks"
)

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is a typed view of a job's metadata.
type Job struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

// FromMetadata builds a Job from its stored fields. Metadata keeps every
// field, reserved ones included.
func FromMetadata(id string, m map[string]string) (*Job, error) {
	j := &Job{
		ID:       id,
		Status:   Status(m[FieldStatus]),
		Metadata: maps.Clone(m),
	}
	if !j.Status.Valid() {
		return nil, fmt.Errorf("coord/job: %s: %w: status %q", id, coord.ErrDecode, m[FieldStatus])
	}
	var err error
	if j.CreatedAt, err = ParseTime(m[FieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("coord/job: %s: created_at: %w", id, err)
	}
	if v := m[FieldCompletedAt]; v != "" {
		at, err := ParseTime(v)
		if err != nil {
			return nil, fmt.Errorf("coord/job: %s: completed_at: %w", id, err)
		}
		j.CompletedAt = &at
	}
	return j, nil
}

// FormatTime renders t as Unix milliseconds, the timestamp encoding used in
// every stored record.
func FormatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseTime parses a FormatTime value. An empty string is the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", coord.ErrDecode, s)
	}
	return time.UnixMilli(ms).UTC(), nil
}
