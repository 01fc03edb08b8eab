package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xraph/coord"
)

// Descriptor is the queue entry the engine enqueues for each task.
type Descriptor struct {
	TaskID string `json:"task_id"`
	JobID  string `json:"job_id,omitempty"`
	Plugin string `json:"plugin,omitempty"`
}

// Encode renders d as JSON.
func (d Descriptor) Encode() (string, error) {
	if d.TaskID == "" {
		return "", fmt.Errorf("coord/queue: encode descriptor: %w: empty task id", coord.ErrInvalidArgument)
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("coord/queue: encode descriptor: %w", err)
	}
	return string(b), nil
}

// DecodeDescriptor parses a queue entry. Entries that are not JSON objects
// are taken as a bare task id.
func DecodeDescriptor(payload string) (Descriptor, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return Descriptor{}, fmt.Errorf("coord/queue: decode descriptor: %w: empty entry", coord.ErrDecode)
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Descriptor{TaskID: trimmed}, nil
	}
	var d Descriptor
	if err := json.Unmarshal([]byte(trimmed), &d); err != nil {
		return Descriptor{}, fmt.Errorf("coord/queue: decode descriptor: %w: %w", coord.ErrDecode, err)
	}
	if d.TaskID == "" {
		return Descriptor{}, fmt.Errorf("coord/queue: decode descriptor: %w: missing task_id", coord.ErrDecode)
	}
	return d, nil
}
