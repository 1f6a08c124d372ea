package ratelimit

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/smallbiznis/clubpay/internal/config"
	"golang.org/x/time/rate"
)

const maxTrackedTenants = 4096

// TenantLimiter throttles inbound webhook deliveries per tenant route.
type TenantLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[snowflake.ID, *rate.Limiter]
}

func NewTenantLimiter(cfg config.Config) (*TenantLimiter, error) {
	cache, err := lru.New[snowflake.ID, *rate.Limiter](maxTrackedTenants)
	if err != nil {
		return nil, err
	}
	burst := cfg.Webhook.TenantBurst
	if burst <= 0 {
		burst = 1
	}
	return &TenantLimiter{
		limit:    rate.Limit(cfg.Webhook.TenantRatePerSec),
		burst:    burst,
		limiters: cache,
	}, nil
}

// Allow reports whether tenantID may deliver another event now. A
// non-positive rate disables limiting.
func (l *TenantLimiter) Allow(tenantID snowflake.ID) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters.Get(tenantID)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(tenantID, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}
