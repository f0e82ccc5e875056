package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSessionStoreTest(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionStore(client, time.Minute), mr
}

func TestRedisSessionStore_Lifecycle(t *testing.T) {
	store, mr := setupSessionStoreTest(t)
	ctx := context.Background()

	sid, err := store.Create(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, sid)
	assert.True(t, mr.Exists("session:"+sid))
	assert.Equal(t, time.Minute, mr.TTL("session:"+sid))

	require.NoError(t, store.Validate(ctx, sid, "u1"))
	assert.ErrorIs(t, store.Validate(ctx, sid, "u2"), ErrSessionNotFound)

	require.NoError(t, store.Revoke(ctx, sid))
	assert.ErrorIs(t, store.Validate(ctx, sid, "u1"), ErrSessionNotFound)
	assert.NoError(t, store.Revoke(ctx, sid))
}

func TestRedisSessionStore_Expiry(t *testing.T) {
	store, mr := setupSessionStoreTest(t)
	ctx := context.Background()

	sid, err := store.Create(ctx, "u1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, store.Validate(ctx, sid, "u1"), ErrSessionNotFound)
}

func TestRedisSessionStore_RedisDown(t *testing.T) {
	store, mr := setupSessionStoreTest(t)
	mr.Close()

	err := store.Validate(context.Background(), "sid", "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}
