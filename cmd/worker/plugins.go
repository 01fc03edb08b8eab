package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/coord/plugin"
	"github.com/xraph/coord/task"
)

// registry returns the plugins this binary serves.
func registry() *plugin.Registry {
	r := plugin.NewRegistry()
	r.MustRegister(
		plugin.NewFunc("wordcount", wordCount, plugin.WithTimeout(time.Minute)),
		plugin.NewFunc("upper", upper),
		plugin.NewDefinition("sleep", sleep, plugin.WithMaxConcurrency(1)),
	)
	return r
}

// wordCount counts the words in the task data and returns the counts as a
// JSON object.
func wordCount(ctx context.Context, t *task.Task) (string, error) {
	counts := make(map[string]int)
	for _, w := range strings.Fields(t.Data) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		counts[strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))]++
	}
	delete(counts, "")
	out, err := json.Marshal(counts)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func upper(_ context.Context, t *task.Task) (string, error) {
	return strings.ToUpper(t.Data), nil
}

type sleepPayload struct {
	Duration string `json:"duration"`
}

// sleep waits for the requested duration. It exists to exercise timeouts,
// cancellation and recovery.
func sleep(ctx context.Context, p sleepPayload) (string, error) {
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return "", fmt.Errorf("sleep: duration %q: %w", p.Duration, err)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "slept " + d.String(), nil
	}
}
