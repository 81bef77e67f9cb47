package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-service/internal/client"
)

func newTestCache(t *testing.T) (*AttemptCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })
	return NewAttemptCache(rc), mr
}

func TestIncrementAttemptsCounts(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := cache.IncrementAttempts(ctx, "10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAttemptsExpireWithWindow(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	_, err := cache.IncrementAttempts(ctx, "10.0.0.1", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	got, err := cache.IncrementAttempts(ctx, "10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got, "counter should restart after the window")
}

func TestResetAttempts(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.IncrementAttempts(ctx, "10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, cache.ResetAttempts(ctx, "10.0.0.1"))

	got, err := cache.IncrementAttempts(ctx, "10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestTemporaryLockRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	locked, err := cache.IsLocked(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, cache.SetTemporaryLock(ctx, "10.0.0.1", time.Minute))

	locked, err = cache.IsLocked(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, locked)

	mr.FastForward(2 * time.Minute)

	locked, err = cache.IsLocked(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, locked)
}
