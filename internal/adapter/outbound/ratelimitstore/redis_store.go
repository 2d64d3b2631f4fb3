// Package ratelimitstore provides Redis- and memory-backed implementations
// of ratelimit.Store.
package ratelimitstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelgate/gateway/internal/domain/ratelimit"
)

// RedisStore implements ratelimit.Store against a shared Redis instance
// using an atomic INCR+TTL pipeline per counter, so a window is shared
// correctly across every gateway instance behind the same Redis.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// Config holds connection parameters for RedisStore.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// New creates a RedisStore and verifies connectivity with a Ping.
func New(cfg Config, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     orDefault(cfg.PoolSize, 25),
		MinIdleConns: orDefault(cfg.MinIdleConns, 5),

		DialTimeout:  orDefaultDuration(cfg.DialTimeout, 5*time.Second),
		ReadTimeout:  orDefaultDuration(cfg.ReadTimeout, 3*time.Second),
		WriteTimeout: orDefaultDuration(cfg.WriteTimeout, 3*time.Second),

		MaxRetries:      orDefault(cfg.MaxRetries, 3),
		MinRetryBackoff: orDefaultDuration(cfg.MinRetryBackoff, 8*time.Millisecond),
		MaxRetryBackoff: orDefaultDuration(cfg.MaxRetryBackoff, 512*time.Millisecond),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimitstore: ping redis: %w", err)
	}

	return &RedisStore{client: client, logger: logger}, nil
}

var _ ratelimit.Store = (*RedisStore)(nil)

// Incr increments key and returns its post-increment value and TTL. The
// increment and the TTL read are pipelined into a single round trip; the
// TTL is only set (via a separate EXPIRE call after the pipeline) when the
// key has just been created in Redis, identified by the post-increment
// count being 1 — this avoids resetting an in-progress window on every
// request.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("ratelimitstore: incr pipeline for %s: %w", key, err)
	}

	count, err := incrCmd.Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimitstore: read incr result for %s: %w", key, err)
	}
	ttl, err := ttlCmd.Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimitstore: read ttl result for %s: %w", key, err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			s.logger.Warn("ratelimitstore: failed to set expiry on new key", "key", key, "error", err)
		}
		return count, window, nil
	}

	// ttl == -1 means the key exists with no expiry (a concurrent Incr
	// created it before the Expire call above landed); the caller repairs
	// this via SetExpire.
	return count, ttl, nil
}

// SetExpire sets the TTL of key to window. Used to repair a counter left
// without an expiry by a racing Incr.
func (s *RedisStore) SetExpire(ctx context.Context, key string, window time.Duration) error {
	if err := s.client.Expire(ctx, key, window).Err(); err != nil {
		return fmt.Errorf("ratelimitstore: expire %s: %w", key, err)
	}
	return nil
}

// Peek reports key's current count and TTL without incrementing it. A
// missing key reports count 0 and ttl 0 rather than an error.
func (s *RedisStore) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("ratelimitstore: get %s: %w", key, err)
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimitstore: ttl %s: %w", key, err)
	}
	return count, ttl, nil
}

// Reset deletes key, clearing its counter immediately.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ratelimitstore: del %s: %w", key, err)
	}
	return nil
}

// KeysMatching returns all keys matching pattern via a non-blocking SCAN
// cursor walk.
func (s *RedisStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ratelimitstore: scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
