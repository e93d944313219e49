package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "stockpile:session:"

// RedisBackend keeps a profile's record in a single redis hash, so several
// hosts can share one session. Writes replace the hash in a MULTI/EXEC.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisBackend creates a redis backend for the named profile. A ttl of
// zero keeps the hash until it is cleared.
func NewRedisBackend(client redis.UniversalClient, profile string, ttl time.Duration) *RedisBackend {
	return NewRedisBackendWithPrefix(client, defaultRedisPrefix, profile, ttl)
}

// NewRedisBackendWithPrefix creates a redis backend with a custom key prefix.
func NewRedisBackendWithPrefix(client redis.UniversalClient, prefix, profile string, ttl time.Duration) *RedisBackend {
	if profile == "" {
		profile = "default"
	}
	return &RedisBackend{
		client: client,
		key:    prefix + profile,
		ttl:    ttl,
	}
}

func (r *RedisBackend) Load(ctx context.Context) (Record, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	rec := Record{}
	for k, v := range values {
		rec[Key(k)] = v
	}
	return rec, nil
}

func (r *RedisBackend) Save(ctx context.Context, rec Record) error {
	fields := make(map[string]any, len(rec))
	for k, v := range rec {
		if v != "" {
			fields[string(k)] = v
		}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(fields) == 0 {
			return nil
		}
		pipe.HSet(ctx, r.key, fields)
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}
