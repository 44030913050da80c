package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newStore(t *testing.T) *RedisIdempotencyStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb, err := NewRedisClient(ctx, endpoint, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisIdempotencyStore(rdb, time.Minute)
}

func TestRedisIdempotencyStore(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, ok, err := s.Recall(ctx, "checkout:u1", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	locked, err := s.TryLock(ctx, "checkout:u1", "k1")
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = s.TryLock(ctx, "checkout:u1", "k1")
	require.NoError(t, err)
	assert.False(t, locked, "second lock on the same key must fail")

	require.NoError(t, s.Remember(ctx, "checkout:u1", "k1", "order-1"))
	require.NoError(t, s.Unlock(ctx, "checkout:u1", "k1"))

	v, ok, err := s.Recall(ctx, "checkout:u1", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "order-1", v)

	// scopes do not collide
	_, ok, err = s.Recall(ctx, "checkout:u2", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	locked, err = s.TryLock(ctx, "checkout:u1", "k1")
	require.NoError(t, err)
	assert.True(t, locked, "unlock frees the key")
}
