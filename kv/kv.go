// Package kv defines the key-value primitives the model engine is built on.
//
// A Store exposes strings, counters, hashes and score-ordered sets under
// flat string keys, plus glob enumeration of keys. Implementations live in
// the memory, redisstore and dynamo sub-packages.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrNil is returned by Get when the key does not exist.
	ErrNil = errors.New("kvmodel: key does not exist")

	// ErrUnavailable wraps transport or backend failures. It is never retried locally.
	ErrUnavailable = errors.New("kvmodel: store unavailable")

	// ErrWrongType is returned when an operation targets a key holding another kind of value.
	ErrWrongType = errors.New("kvmodel: operation against a key holding the wrong kind of value")

	// ErrNotInteger is returned by Incr when the stored value is not an integer.
	ErrNotInteger = errors.New("kvmodel: value is not an integer")
)

// Store is the set of primitives consumed by the model engine.
// Implementations must be safe for concurrent use. Incr is the only
// primitive required to be atomic across concurrent callers.
type Store interface {
	// Exists reports whether key holds any value.
	Exists(ctx context.Context, key string) (bool, error)

	// Set stores a string value, replacing whatever key held.
	Set(ctx context.Context, key, value string) error

	// Get returns the string value of key, or ErrNil.
	Get(ctx context.Context, key string) (string, error)

	// Del removes keys of any kind and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Incr atomically increments the integer at key and returns the new value.
	// A missing key counts as 0.
	Incr(ctx context.Context, key string) (int64, error)

	// HSet writes the given fields into the hash at key.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HGetAll returns every field of the hash at key, or an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// ZAdd adds or re-scores member in the sorted set at key.
	ZAdd(ctx context.Context, key, member string, score float64) error

	// ZRem removes members from the sorted set at key.
	ZRem(ctx context.Context, key string, members ...string) error

	// ZRange returns members ordered by score (then member), honouring opts.
	ZRange(ctx context.Context, key string, opts RangeOptions) ([]string, error)

	// ZCard returns the number of members in the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// Keys returns every key matching a glob pattern ('*' and '?').
	// Order is not guaranteed.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}

// RangeOptions configures a ZRange call.
type RangeOptions struct {
	// Offset is the number of members to skip.
	Offset int64

	// Limit is the maximum number of members to return (<= 0 = no limit).
	Limit int64

	// Reverse orders by descending score.
	Reverse bool
}

// Window applies Offset and Limit to n ordered members and returns the
// half-open index range to keep.
func (o RangeOptions) Window(n int) (start, end int) {
	start = int(o.Offset)
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end = n
	if o.Limit > 0 && start+int(o.Limit) < n {
		end = start + int(o.Limit)
	}
	return start, end
}
