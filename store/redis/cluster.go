package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/coord"
	"github.com/xraph/coord/cluster"
	"github.com/xraph/coord/codec"
	"github.com/xraph/coord/kv"
)

// heartbeatScript stamps last_heartbeat only on a registered worker, so a
// late heartbeat cannot resurrect an unregistered one.
var heartbeatScript = kv.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'last_heartbeat', ARGV[1])
return 1
`)

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// RegisterWorker upserts the worker hash in one MULTI/EXEC.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker, opts ...cluster.RegisterOption) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("coord/redis: register worker: %w: empty id", coord.ErrInvalidArgument)
	}
	o := cluster.ApplyRegisterOptions(opts...)
	key := workerKey(w.ID)
	now := millis(s.now())

	fields := w.Fields()
	fields[cluster.FieldLastHeartbeat] = now

	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key, fields)
		if o.Restamp {
			p.HSet(ctx, key, cluster.FieldRegisteredAt, now)
		} else {
			p.HSetNX(ctx, key, cluster.FieldRegisteredAt, now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("coord/redis: register worker: %w", err)
	}
	s.logger.Debug("worker registered",
		slog.String("worker_id", w.ID),
		slog.String("host", w.Host),
		slog.Int("port", w.Port),
	)
	return nil
}

// UpdateHeartbeat writes last_heartbeat for a registered worker.
func (s *Store) UpdateHeartbeat(ctx context.Context, workerID string, at time.Time) error {
	res, err := s.client.Eval(ctx, heartbeatScript, []string{workerKey(workerID)}, millis(at))
	if err != nil {
		return fmt.Errorf("coord/redis: heartbeat: %w", err)
	}
	n, ok := res.(int64)
	if !ok {
		return fmt.Errorf("coord/redis: heartbeat: %w: reply %T", coord.ErrInvalidReply, res)
	}
	if n == 0 {
		return fmt.Errorf("coord/redis: heartbeat %s: %w", workerID, coord.ErrWorkerNotFound)
	}
	return nil
}

// GetActiveWorkers scans worker keys and reads every last_heartbeat in one
// pipeline. Comparison is in whole milliseconds, the stored resolution.
func (s *Store) GetActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error) {
	if timeout < 0 {
		return nil, fmt.Errorf("coord/redis: active workers: %w: timeout %s", coord.ErrInvalidArgument, timeout)
	}
	keys, err := s.client.Scan(ctx, codec.Pattern(codec.KindWorker))
	if err != nil {
		return nil, fmt.Errorf("coord/redis: active workers: %w", err)
	}
	if len(keys) == 0 {
		return []string{}, nil
	}

	cmds, err := s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, k := range keys {
			p.HGet(ctx, k, cluster.FieldLastHeartbeat)
		}
		return nil
	})
	// A missing field fails its own command with Nil; only transport and
	// server errors abort the query.
	if err != nil && !errors.Is(err, coord.ErrNotFound) && !errors.Is(err, coord.ErrInvalidReply) {
		return nil, fmt.Errorf("coord/redis: active workers: %w", err)
	}

	cutoff := s.now().UnixMilli() - timeout.Milliseconds()
	active := make([]string, 0, len(keys))
	for i, cmd := range cmds {
		sc, ok := cmd.(*goredis.StringCmd)
		if !ok {
			continue
		}
		raw, cmdErr := sc.Result()
		if cmdErr != nil {
			continue
		}
		last, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			continue
		}
		if last >= cutoff {
			_, id, keyErr := codec.ParseKey(keys[i])
			if keyErr != nil {
				continue
			}
			active = append(active, id)
		}
	}
	slices.Sort(active)
	return active, nil
}

// UnregisterWorker deletes the worker hash. Its in-flight set is left for
// orphan recovery.
func (s *Store) UnregisterWorker(ctx context.Context, workerID string) (bool, error) {
	n, err := s.client.Delete(ctx, workerKey(workerID))
	if err != nil {
		return false, fmt.Errorf("coord/redis: unregister worker: %w", err)
	}
	return n > 0, nil
}

// GetWorker reads one worker hash.
func (s *Store) GetWorker(ctx context.Context, workerID string) (*cluster.Worker, error) {
	h, err := s.client.HGetAll(ctx, workerKey(workerID))
	if err != nil {
		return nil, fmt.Errorf("coord/redis: get worker: %w", err)
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("coord/redis: get worker %s: %w", workerID, coord.ErrWorkerNotFound)
	}
	return cluster.FromHash(workerID, h)
}

// ListWorkers returns every registered worker sorted by id. Hashes that do
// not decode are logged and skipped.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	keys, err := s.client.Scan(ctx, codec.Pattern(codec.KindWorker))
	if err != nil {
		return nil, fmt.Errorf("coord/redis: list workers: %w", err)
	}
	if len(keys) == 0 {
		return []*cluster.Worker{}, nil
	}

	cmds, err := s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, k := range keys {
			p.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("coord/redis: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(keys))
	for i, cmd := range cmds {
		mc, ok := cmd.(*goredis.MapStringStringCmd)
		if !ok {
			continue
		}
		h, cmdErr := mc.Result()
		if cmdErr != nil || len(h) == 0 {
			continue
		}
		_, id, keyErr := codec.ParseKey(keys[i])
		if keyErr != nil {
			continue
		}
		w, convErr := cluster.FromHash(id, h)
		if convErr != nil {
			s.logger.Warn("skipping undecodable worker",
				slog.String("worker_id", id),
				slog.String("error", convErr.Error()),
			)
			continue
		}
		workers = append(workers, w)
	}
	slices.SortFunc(workers, func(a, b *cluster.Worker) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return workers, nil
}
