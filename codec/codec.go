// Package codec maps logical entities to backing store keys and serializes
// flat string metadata to and from JSON object notation.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xraph/coord"
)

// Kind is the entity prefix of a key.
type Kind string

// Public kinds. Worker keys are scanned with "worker:*", so every other kind
// must use a distinct prefix.
const (
	KindJob    Kind = "job"
	KindTask   Kind = "task"
	KindWorker Kind = "worker"
)

// Internal kinds used for indexes and bookkeeping.
const (
	KindJobTasks     Kind = "jobtasks"
	KindInflight     Kind = "inflight"
	KindJobRemaining Kind = "jobremaining"
	KindJobSealed    Kind = "jobsealed"
	KindCounter      Kind = "counter"
)

const sep = ":"

func (k Kind) valid() bool {
	switch k {
	case KindJob, KindTask, KindWorker, KindJobTasks, KindInflight, KindJobRemaining, KindJobSealed, KindCounter:
		return true
	}
	return false
}

// Key returns "<kind>:<id>".
func Key(kind Kind, id string) string {
	return string(kind) + sep + id
}

// Pattern returns a SCAN match pattern for every key of kind.
func Pattern(kind Kind) string {
	return string(kind) + sep + "*"
}

// ParseKey splits a key produced by Key. The id may itself contain colons.
func ParseKey(key string) (Kind, string, error) {
	prefix, id, ok := strings.Cut(key, sep)
	if !ok || id == "" {
		return "", "", fmt.Errorf("coord/codec: parse key %q: %w", key, coord.ErrInvalidArgument)
	}
	kind := Kind(prefix)
	if !kind.valid() {
		return "", "", fmt.Errorf("coord/codec: parse key %q: unknown kind %q: %w", key, prefix, coord.ErrInvalidArgument)
	}
	return kind, id, nil
}

// EncodeMetadata renders m as a JSON object. A nil map encodes as "{}".
func EncodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("coord/codec: encode metadata: %w", err)
	}
	return string(b), nil
}

// DecodeMetadata parses a JSON object of string values. Anything else,
// including numbers, nulls and nested objects, is a decode error.
func DecodeMetadata(s string) (map[string]string, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("coord/codec: decode metadata: %w: %w", coord.ErrDecode, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("coord/codec: decode metadata: %w: not an object", coord.ErrDecode)
	}
	m := make(map[string]string, len(raw))
	for k, v := range raw {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("coord/codec: decode metadata: %w: field %q is %T, not a string", coord.ErrDecode, k, v)
		}
		m[k] = str
	}
	return m, nil
}
