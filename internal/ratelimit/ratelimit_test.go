package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clubpay/internal/clock"
	"github.com/smallbiznis/clubpay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockerExclusiveUntilRelease(t *testing.T) {
	_, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "daily_snapshot", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "daily_snapshot", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "daily_snapshot", "someone-else"))
	_, ok, err = locker.TryLock(ctx, "daily_snapshot", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a foreign token must not release the lock")

	require.NoError(t, locker.Release(ctx, "daily_snapshot", token))
	_, ok, err = locker.TryLock(ctx, "daily_snapshot", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerRejectsBadInput(t *testing.T) {
	var nilLocker *Locker
	_, _, err := nilLocker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.Nil(t, NewLocker(nil))

	_, client := newRedis(t)
	locker := NewLocker(client)
	_, _, err = locker.TryLock(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrLockKeyEmpty)
	_, _, err = locker.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrLockTTL)
}

func TestRedisMarkerSuppressesWithinWindow(t *testing.T) {
	mr, client := newRedis(t)
	marker := NewMarker(client, nil)
	ctx := context.Background()

	ok, err := marker.Mark(ctx, "alert:100:high_churn", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = marker.Mark(ctx, "alert:100:high_churn", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = marker.Mark(ctx, "alert:200:high_churn", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "markers are scoped per key")

	mr.FastForward(time.Hour + time.Second)
	ok, err = marker.Mark(ctx, "alert:100:high_churn", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryMarkerExpires(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	marker := NewMarker(nil, clk)
	ctx := context.Background()

	ok, err := marker.Mark(ctx, "k", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(9 * time.Minute)
	ok, _ = marker.Mark(ctx, "k", 10*time.Minute)
	assert.False(t, ok)

	clk.Advance(time.Minute)
	ok, _ = marker.Mark(ctx, "k", 10*time.Minute)
	assert.True(t, ok)

	_, err = marker.Mark(ctx, "", time.Minute)
	assert.ErrorIs(t, err, ErrLockKeyEmpty)
}

func TestTenantLimiterBurstPerTenant(t *testing.T) {
	limiter, err := NewTenantLimiter(config.Config{Webhook: config.WebhookConfig{TenantRatePerSec: 0.001, TenantBurst: 2}})
	require.NoError(t, err)

	assert.True(t, limiter.Allow(1))
	assert.True(t, limiter.Allow(1))
	assert.False(t, limiter.Allow(1))
	assert.True(t, limiter.Allow(2), "other tenants keep their own budget")

	unlimited, err := NewTenantLimiter(config.Config{})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow(1))
	}
}
