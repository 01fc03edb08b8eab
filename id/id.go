// Package id mints prefix-qualified identifiers for coordination entities.
//
// IDs have the form "prefix_suffix" where the suffix is a UUIDv7 rendered
// without dashes, so IDs generated by one process sort roughly by creation
// time. Callers may supply their own IDs to the registries; this package is
// only a convenience for processes that need to mint one.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for coordination entities.
const (
	PrefixJob    Prefix = "job"
	PrefixTask   Prefix = "task"
	PrefixWorker Prefix = "wkr"
)

// New generates a new globally unique ID with the given prefix.
// It panics if the random source fails (programming or platform error).
func New(prefix Prefix) string {
	u, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return string(prefix) + "_" + strings.ReplaceAll(u.String(), "-", "")
}

// Parse splits an ID into its prefix and validates the UUID suffix.
func Parse(s string) (Prefix, error) {
	prefix, suffix, ok := strings.Cut(s, "_")
	if !ok || prefix == "" {
		return "", fmt.Errorf("id: parse %q: missing prefix", s)
	}
	if _, err := uuid.Parse(suffix); err != nil {
		return "", fmt.Errorf("id: parse %q: %w", s, err)
	}
	return Prefix(prefix), nil
}

// ParseWithPrefix parses an ID and validates that its prefix matches.
func ParseWithPrefix(s string, expected Prefix) error {
	p, err := Parse(s)
	if err != nil {
		return err
	}
	if p != expected {
		return fmt.Errorf("id: expected prefix %q, got %q", expected, p)
	}
	return nil
}

// NewJobID generates a new unique job ID.
func NewJobID() string { return New(PrefixJob) }

// NewTaskID generates a new unique task ID.
func NewTaskID() string { return New(PrefixTask) }

// NewWorkerID generates a new unique worker ID.
func NewWorkerID() string { return New(PrefixWorker) }
