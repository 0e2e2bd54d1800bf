package store_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scipunch/updatesbot/store"
)

func newRedis(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := store.NewRedisFromClient(client, "")
	t.Cleanup(func() { kv.Close() })
	return kv, mr
}

func TestRedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, mr := newRedis(t)

	_, found, err := kv.Get(ctx, "workspace_updates")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set(ctx, "workspace_updates", `["1"]`))
	value, found, err := kv.Get(ctx, "workspace_updates")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `["1"]`, value)

	// Everything lives in a single hash
	assert.Equal(t, `["1"]`, mr.HGet(store.DefaultRedisKey, "workspace_updates"))
}

func TestRedisAllAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	kv, mr := newRedis(t)

	require.NoError(t, kv.Set(ctx, "a", "[]"))
	require.NoError(t, kv.Set(ctx, "b", `["x"]`))

	props, err := kv.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "[]", "b": `["x"]`}, props)

	require.NoError(t, kv.DeleteAll(ctx))
	assert.False(t, mr.Exists(store.DefaultRedisKey))

	props, err = kv.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	kv, err := store.Open(context.Background(), store.Options{
		Backend:   store.RedisBackend,
		RedisAddr: mr.Addr(),
		RedisKey:  "custom",
	})
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set(context.Background(), "feed", "[]"))
	assert.Equal(t, "[]", mr.HGet("custom", "feed"))
}

func TestOpenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := store.Open(context.Background(), store.Options{
		Backend:   store.RedisBackend,
		RedisAddr: addr,
	})
	assert.Error(t, err)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := store.Open(context.Background(), store.Options{Backend: "etcd"})
	assert.ErrorContains(t, err, "unknown store backend")
}
