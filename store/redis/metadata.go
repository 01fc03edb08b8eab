package redis

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/xraph/coord"
	"github.com/xraph/coord/codec"
	"github.com/xraph/coord/kv"
)

// updateScript merges fields into a JSON record, optionally guarded by the
// current status.
//
// KEYS[1]  record key
// ARGV[1]  n, the number of allowed current statuses (0 = unguarded)
// ARGV[2..n+1]  allowed statuses
// ARGV[n+2..]   field, value pairs
//
// Returns {1, prev} on success, {0, prev} when the guard fails, {-1, ""}
// for a missing key and {-2, ""} for an undecodable record.
var updateScript = kv.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {-1, ''}
end
local ok, doc = pcall(cjson.decode, raw)
if not ok or type(doc) ~= 'table' then
  return {-2, ''}
end
local prev = doc['status']
if type(prev) ~= 'string' then
  prev = ''
end
local n = tonumber(ARGV[1])
if n > 0 then
  local allowed = false
  for i = 2, n + 1 do
    if ARGV[i] == prev then
      allowed = true
      break
    end
  end
  if not allowed then
    return {0, prev}
  end
end
for i = n + 2, #ARGV, 2 do
  doc[ARGV[i]] = ARGV[i + 1]
end
local out = cjson.encode(doc)
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], out, 'PX', ttl)
else
  redis.call('SET', KEYS[1], out)
end
return {1, prev}
`)

const (
	updateOK       = 1
	updateRejected = 0
	updateMissing  = -1
	updateCorrupt  = -2
)

func (s *Store) putRecord(ctx context.Context, op, key string, m map[string]string) error {
	raw, err := codec.EncodeMetadata(m)
	if err != nil {
		return fmt.Errorf("coord/redis: %s: %w", op, err)
	}
	if err := s.client.Set(ctx, key, raw, 0); err != nil {
		return fmt.Errorf("coord/redis: %s: %w", op, err)
	}
	return nil
}

func (s *Store) createRecord(ctx context.Context, op, key string, m map[string]string) error {
	raw, err := codec.EncodeMetadata(m)
	if err != nil {
		return fmt.Errorf("coord/redis: %s: %w", op, err)
	}
	ok, err := s.client.SetNX(ctx, key, raw, 0)
	if err != nil {
		return fmt.Errorf("coord/redis: %s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("coord/redis: %s %s: %w", op, key, coord.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) getRecord(ctx context.Context, op, key string, notFound error) (map[string]string, error) {
	raw, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, coord.ErrNotFound) {
			return nil, fmt.Errorf("coord/redis: %s %s: %w", op, key, notFound)
		}
		return nil, fmt.Errorf("coord/redis: %s: %w", op, err)
	}
	m, err := codec.DecodeMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("coord/redis: %s %s: %w", op, key, err)
	}
	return m, nil
}

// updateRecord runs updateScript. from lists the allowed current statuses;
// empty means unguarded. It returns the status the record had before.
func (s *Store) updateRecord(ctx context.Context, op, key string, notFound error, fields map[string]string, from []string) (string, error) {
	args := make([]any, 0, 1+len(from)+2*len(fields))
	args = append(args, len(from))
	for _, f := range from {
		args = append(args, f)
	}
	// Sorted for a deterministic script argument order.
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, k, fields[k])
	}

	res, err := s.client.Eval(ctx, updateScript, []string{key}, args...)
	if err != nil {
		return "", fmt.Errorf("coord/redis: %s: %w", op, err)
	}
	code, prev, err := parseUpdateReply(res)
	if err != nil {
		return "", fmt.Errorf("coord/redis: %s: %w", op, err)
	}
	switch code {
	case updateOK:
		return prev, nil
	case updateRejected:
		return prev, fmt.Errorf("coord/redis: %s %s: status %q: %w", op, key, prev, coord.ErrInvalidState)
	case updateMissing:
		return "", fmt.Errorf("coord/redis: %s %s: %w", op, key, notFound)
	case updateCorrupt:
		return "", fmt.Errorf("coord/redis: %s %s: %w", op, key, coord.ErrDecode)
	}
	return "", fmt.Errorf("coord/redis: %s: %w: code %d", op, coord.ErrInvalidReply, code)
}

func parseUpdateReply(res any) (int64, string, error) {
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return 0, "", fmt.Errorf("%w: script reply %T", coord.ErrInvalidReply, res)
	}
	code, ok := arr[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("%w: script code %T", coord.ErrInvalidReply, arr[0])
	}
	prev, ok := arr[1].(string)
	if !ok {
		return 0, "", fmt.Errorf("%w: script status %T", coord.ErrInvalidReply, arr[1])
	}
	return code, prev, nil
}

// deleteRecord deletes key plus any companion keys and reports whether key
// itself existed.
func (s *Store) deleteRecord(ctx context.Context, op, key string, companions ...string) (bool, error) {
	n, err := s.client.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("coord/redis: %s: %w", op, err)
	}
	if len(companions) > 0 {
		if _, err := s.client.Delete(ctx, companions...); err != nil {
			return n > 0, fmt.Errorf("coord/redis: %s: %w", op, err)
		}
	}
	return n > 0, nil
}

// expireKeys applies ttl to every key. Missing keys are skipped; the first
// key must exist.
func (s *Store) expireKeys(ctx context.Context, op string, notFound error, ttl time.Duration, key string, companions ...string) error {
	if ttl <= 0 {
		return fmt.Errorf("coord/redis: %s: %w: ttl %s", op, coord.ErrInvalidArgument, ttl)
	}
	ok, err := s.client.Expire(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("coord/redis: %s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("coord/redis: %s %s: %w", op, key, notFound)
	}
	for _, k := range companions {
		if _, err := s.client.Expire(ctx, k, ttl); err != nil {
			return fmt.Errorf("coord/redis: %s: %w", op, err)
		}
	}
	return nil
}

func statusStrings[S ~string](ss []S) []string {
	out := make([]string, len(ss))
	for i, v := range ss {
		out[i] = string(v)
	}
	return out
}
