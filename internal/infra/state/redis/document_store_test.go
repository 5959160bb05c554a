package redisstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-presence/internal/domain"
	"collab-presence/internal/repository"
)

func newTestDocumentStore(t *testing.T, ttl time.Duration) (*RedisDocumentStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDocumentStore(client, "test:", ttl), mr
}

func TestRedisDocumentStore_UpdateGet(t *testing.T) {
	store, mr := newTestDocumentStore(t, time.Hour)
	ctx := context.Background()

	_, err := store.Get(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	snap := domain.DocumentSnapshot{Code: "print(1)", Language: "python", UpdatedBy: "alice", UpdatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	require.NoError(t, store.Update(ctx, "r1", snap))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, snap.Code, got.Code)
	assert.Equal(t, snap.Language, got.Language)
	assert.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))
	assert.Equal(t, time.Hour, mr.TTL("test:room:r1:document"))
}

func TestRedisDocumentStore_ReleaseReturnsFinalSnapshot(t *testing.T) {
	store, mr := newTestDocumentStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "r1", domain.DocumentSnapshot{Code: "v1"}))
	require.NoError(t, store.Update(ctx, "r1", domain.DocumentSnapshot{Code: "v2"}))

	final, err := store.Release(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, "v2", final.Code)
	assert.False(t, mr.Exists("test:room:r1:document"))

	again, err := store.Release(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, again, "second release finds nothing")
}

func TestRedisDocumentStore_ExpiredDocument(t *testing.T) {
	store, mr := newTestDocumentStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "r1", domain.DocumentSnapshot{Code: "x"}))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
