// Package redisstore implements kv.Store on top of a Redis server.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/kvmodel/kv"
)

// Config holds connection settings for a Redis backend.
type Config struct {
	// Addr is the host:port of the server.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password is optional.
	Password string `yaml:"password"`

	// DB is the logical database number.
	DB int `yaml:"db"`
}

func (c *Config) validate() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
}

// Store implements kv.Store with a go-redis client.
type Store struct {
	client redis.UniversalClient
}

var _ kv.Store = (*Store)(nil)

// New wraps an existing client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Open creates a client from cfg. The connection is established lazily.
func Open(cfg Config) *Store {
	cfg.validate()
	return New(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))
}

// Client returns the underlying client.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Exists reports whether key holds any value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, mapError(err)
	}
	return n > 0, nil
}

// Set stores a string value without expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return mapError(s.client.Set(ctx, key, value, 0).Err())
}

// Get returns the string value at key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", mapError(err)
	}
	return v, nil
}

// Del removes keys.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// Incr increments the integer at key.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// HSet writes fields into the hash at key with a single HSET.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return mapError(s.client.HSet(ctx, key, args...).Err())
}

// HGetAll returns every field of the hash at key.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

// ZAdd adds member to the sorted set at key.
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	return mapError(s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

// ZRem removes members from the sorted set at key.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return mapError(s.client.ZRem(ctx, key, args...).Err())
}

// ZRange returns members by score using ZRANGEBYSCORE / ZREVRANGEBYSCORE.
func (s *Store) ZRange(ctx context.Context, key string, opts kv.RangeOptions) ([]string, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if opts.Offset > 0 || opts.Limit > 0 {
		by.Offset = opts.Offset
		by.Count = opts.Limit
		if by.Count <= 0 {
			by.Count = -1
		}
	}

	var (
		members []string
		err     error
	)
	if opts.Reverse {
		members, err = s.client.ZRevRangeByScore(ctx, key, by).Result()
	} else {
		members, err = s.client.ZRangeByScore(ctx, key, by).Result()
	}
	if err != nil {
		return nil, mapError(err)
	}
	return members, nil
}

// ZCard returns the number of members of the sorted set at key.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// Keys returns keys matching pattern with the KEYS command.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, mapError(err)
	}
	return keys, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// mapError translates go-redis errors into kv errors.
// Server replies keep their message; anything else is a transport failure.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return kv.ErrNil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var reply redis.Error
	if errors.As(err, &reply) {
		msg := reply.Error()
		switch {
		case strings.HasPrefix(msg, "WRONGTYPE"):
			return fmt.Errorf("%w: %s", kv.ErrWrongType, msg)
		case strings.Contains(msg, "not an integer"):
			return fmt.Errorf("%w: %s", kv.ErrNotInteger, msg)
		}
		return err
	}

	return fmt.Errorf("%w: %w", kv.ErrUnavailable, err)
}
