// Package store defines the counter-store contract the rate limit
// primitives run against.
//
// The primary implementation is the Redis store (in store/redis), which
// wraps redis.UniversalClient and therefore supports standalone Redis,
// Redis Cluster, and Redis Sentinel. A mutex-guarded in-memory store
// (store/memory) exists for tests and single-process use; it does not
// support scripting, and primitives fall back to their plain-command
// paths when Eval reports ErrScriptNotSupported.
package store

import (
	"context"
	"fmt"
	"time"
)

// Store abstracts the shared counter backend. Implementations must be
// safe for concurrent use; every mutation must be atomic per key.
type Store interface {
	// Eval executes a Lua script atomically with the given keys and args.
	// Implementations without scripting return ErrScriptNotSupported.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)

	// Get returns the string value for key, or ("", ErrKeyNotFound).
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with optional TTL (0 = no expiry).
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error

	// IncrBy atomically increments key by n, returning the new value.
	// A missing key is created holding n.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// DecrBy atomically decrements key by n, returning the new value.
	DecrBy(ctx context.Context, key string, n int64) (int64, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining TTL for a key.
	// Returns -1s if the key has no TTL, -2s if the key doesn't exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// HGetAll returns all fields of the hash at key (empty map if absent).
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HSet sets fields in the hash at key. Values are field-value pairs.
	HSet(ctx context.Context, key string, values ...interface{}) error

	// ZAdd adds a member with score to the sorted set at key.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZCard returns the number of members in the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// ZRemRangeByScore removes sorted set members with scores in [min, max].
	ZRemRangeByScore(ctx context.Context, key, min, max string) error

	// ZRangeWithScores returns members with scores in the index range
	// [start, stop], lowest score first.
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZEntry, error)

	// Pipeline returns a Pipeline for batching multiple commands.
	Pipeline() Pipeline

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// ZEntry represents a sorted set member with its score.
type ZEntry struct {
	Score  float64
	Member string
}

// Pipeline batches multiple commands for a single round-trip.
type Pipeline interface {
	ZAdd(ctx context.Context, key string, score float64, member string)
	Expire(ctx context.Context, key string, ttl time.Duration)
	Exec(ctx context.Context) error
}

// ErrKeyNotFound is returned by Get when the key doesn't exist.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "store: key not found: " + e.Key
}

// ErrScriptNotSupported is returned by Eval when the store doesn't
// support server-side scripting.
type ErrScriptNotSupported struct{}

func (e *ErrScriptNotSupported) Error() string {
	return "store: scripting not supported by this backend"
}

// Int64s coerces a script result into a slice of int64, as returned by
// Lua scripts that reply with a table of integers.
func Int64s(v interface{}) ([]int64, error) {
	vals, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("store: unexpected script result type %T", v)
	}
	out := make([]int64, len(vals))
	for i, raw := range vals {
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("store: unexpected script result element %T", raw)
		}
		out[i] = n
	}
	return out, nil
}

// Int64 coerces a script result into a single int64.
func Int64(v interface{}) (int64, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("store: unexpected script result type %T", v)
	}
	return n, nil
}
