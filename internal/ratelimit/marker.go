package ratelimit

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clubpay/internal/clock"
)

const markerKeyPrefix = "clubpay:mark:"

// Marker records that something happened within a window. Mark reports false
// when a live marker for key already exists.
type Marker interface {
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// NewMarker prefers Redis so replicas share markers, and falls back to a
// process-local map when Redis is not configured.
func NewMarker(client *redis.Client, clk clock.Clock) Marker {
	if client == nil {
		return NewMemoryMarker(clk)
	}
	return &RedisMarker{client: client}
}

type RedisMarker struct {
	client *redis.Client
}

func (m *RedisMarker) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrLockKeyEmpty
	}
	if ttl <= 0 {
		return false, ErrLockTTL
	}
	return m.client.SetNX(ctx, markerKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

type MemoryMarker struct {
	mu    sync.Mutex
	clock clock.Clock
	until map[string]time.Time
}

func NewMemoryMarker(clk clock.Clock) *MemoryMarker {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryMarker{clock: clk, until: map[string]time.Time{}}
}

func (m *MemoryMarker) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrLockKeyEmpty
	}
	if ttl <= 0 {
		return false, ErrLockTTL
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.until[key]; ok && now.Before(exp) {
		return false, nil
	}
	for k, exp := range m.until {
		if !now.Before(exp) {
			delete(m.until, k)
		}
	}
	m.until[key] = now.Add(ttl)
	return true, nil
}
