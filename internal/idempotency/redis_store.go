/**
 * @description
 * Redis-backed implementation of the idempotency Store. The begin operation
 * must be an atomic compare-and-set across service instances, so it runs as
 * a single Lua script: claim the key if absent, otherwise report conflict,
 * in-flight, or the completed result. Redis TTLs give records their bounded
 * lifetime without a separate reaper.
 */

package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var beginScript = redis.NewScript(`
local fp = redis.call("HGET", KEYS[1], "fingerprint")
if not fp then
  redis.call("HSET", KEYS[1], "fingerprint", ARGV[1], "status", "in_flight")
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {"new", ""}
end
if fp ~= ARGV[1] then
  return {"conflict", ""}
end
local status = redis.call("HGET", KEYS[1], "status")
if status == "completed" then
  return {"completed", redis.call("HGET", KEYS[1], "result") or ""}
end
return {"in_flight", ""}
`)

// RedisStore implements Store on a shared Redis, so idempotency holds across
// service instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. The prefix namespaces keys the
// same way the rest of transfa-backend namespaces Redis state.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "transfa:payments:idempotency"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")
	return &RedisStore{client: client, prefix: trimmed, ttl: ttl}
}

func (s *RedisStore) key(caller, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, caller, key)
}

func (s *RedisStore) Begin(ctx context.Context, caller, key, fingerprint string) (BeginResult, error) {
	raw, err := beginScript.Run(ctx, s.client, []string{s.key(caller, key)}, fingerprint, s.ttl.Milliseconds()).Result()
	if err != nil {
		return BeginResult{}, fmt.Errorf("idempotency begin failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return BeginResult{}, fmt.Errorf("unexpected idempotency script response shape: %T", raw)
	}
	state, ok := values[0].(string)
	if !ok {
		return BeginResult{}, fmt.Errorf("unexpected idempotency state type: %T", values[0])
	}
	result, _ := values[1].(string)

	switch State(state) {
	case StateNew, StateInFlight, StateConflict:
		return BeginResult{State: State(state)}, nil
	case StateCompleted:
		return BeginResult{State: StateCompleted, Result: []byte(result)}, nil
	default:
		return BeginResult{}, fmt.Errorf("unexpected idempotency state %q", state)
	}
}

func (s *RedisStore) Complete(ctx context.Context, caller, key string, result []byte) error {
	pipe := s.client.TxPipeline()
	k := s.key(caller, key)
	pipe.HSet(ctx, k, "status", "completed", "result", string(result))
	pipe.PExpire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("idempotency complete failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Fail(ctx context.Context, caller, key string) error {
	if err := s.client.Del(ctx, s.key(caller, key)).Err(); err != nil {
		return fmt.Errorf("idempotency fail-clear failed: %w", err)
	}
	return nil
}
