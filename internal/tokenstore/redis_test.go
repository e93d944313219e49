package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupTestRedis starts a Redis container and returns a client for it.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(pingCtx).Err())

	return client
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	prefix := "stockpile-test:" + uuid.NewString() + ":"
	store := New(NewRedisBackendWithPrefix(client, prefix, "default", time.Minute))
	t.Cleanup(func() { client.Del(context.Background(), prefix+"default") })

	require.NoError(t, store.SetTokens(ctx, Tokens{Access: "T1", Refresh: "R1"}))
	assert.Equal(t, Tokens{Access: "T1", Refresh: "R1"}, store.Tokens(ctx))

	ttl, err := client.TTL(ctx, prefix+"default").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.ClearAll(ctx))
	_, err = store.Get(ctx, AccessToken)
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := client.Exists(ctx, prefix+"default").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestRedisBackend_SharedAcrossStores(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	prefix := "stockpile-test:" + uuid.NewString() + ":"
	t.Cleanup(func() { client.Del(context.Background(), prefix+"ops") })

	writer := New(NewRedisBackendWithPrefix(client, prefix, "ops", 0))
	reader := New(NewRedisBackendWithPrefix(client, prefix, "ops", 0))

	require.NoError(t, writer.SetTokens(ctx, Tokens{Access: "T2", Refresh: "R2"}))
	assert.Equal(t, Tokens{Access: "T2", Refresh: "R2"}, reader.Tokens(ctx))
}
