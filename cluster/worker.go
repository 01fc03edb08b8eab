package cluster

import (
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/xraph/coord"
	"github.com/xraph/coord/job"
)

// Reserved hash fields.
const (
	FieldHost          = "host"
	FieldPort          = "port"
	FieldRegisteredAt  = "registered_at"
	FieldLastHeartbeat = "last_heartbeat"
)

// Worker is a registered worker process.
type Worker struct {
	ID            string            `json:"id"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// IsActive reports whether the worker's heartbeat is within timeout of now.
func (w *Worker) IsActive(now time.Time, timeout time.Duration) bool {
	return IsActive(w.LastHeartbeat, now, timeout)
}

// IsActive is the liveness rule: last >= now - timeout. A zero heartbeat is
// never active.
func IsActive(last, now time.Time, timeout time.Duration) bool {
	if last.IsZero() {
		return false
	}
	return !last.Before(now.Add(-timeout))
}

// Fields renders the worker's attributes and host/port as hash fields.
// Timestamps are written by the store, not here.
func (w *Worker) Fields() map[string]string {
	f := make(map[string]string, len(w.Attributes)+2)
	maps.Copy(f, w.Attributes)
	f[FieldHost] = w.Host
	f[FieldPort] = strconv.Itoa(w.Port)
	return f
}

// FromHash builds a Worker from its stored hash. Unknown fields land in
// Attributes.
func FromHash(id string, h map[string]string) (*Worker, error) {
	w := &Worker{ID: id, Host: h[FieldHost], Attributes: map[string]string{}}
	if v := h[FieldPort]; v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("coord/cluster: worker %s: %w: port %q", id, coord.ErrDecode, v)
		}
		w.Port = p
	}
	var err error
	if w.RegisteredAt, err = job.ParseTime(h[FieldRegisteredAt]); err != nil {
		return nil, fmt.Errorf("coord/cluster: worker %s: registered_at: %w", id, err)
	}
	if w.LastHeartbeat, err = job.ParseTime(h[FieldLastHeartbeat]); err != nil {
		return nil, fmt.Errorf("coord/cluster: worker %s: last_heartbeat: %w", id, err)
	}
	for k, v := range h {
		switch k {
		case FieldHost, FieldPort, FieldRegisteredAt, FieldLastHeartbeat:
		default:
			w.Attributes[k] = v
		}
	}
	return w, nil
}
