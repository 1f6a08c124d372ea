package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/clubpay/internal/config"
	"github.com/stretchr/testify/assert"
)

func newCache() *ReportCache {
	return NewReportCache(config.Config{Analytics: config.AnalyticsConfig{CacheSize: 16, CacheTTL: time.Minute}})
}

func TestReportCacheIsTenantScoped(t *testing.T) {
	c := newCache()
	c.Set(1, c.Generation(1), "mrr", 250)

	v, ok := c.Get(1, "mrr")
	assert.True(t, ok)
	assert.Equal(t, 250, v)

	_, ok = c.Get(2, "mrr")
	assert.False(t, ok)
}

func TestReportCacheInvalidateDropsOnlyThatTenant(t *testing.T) {
	c := newCache()
	c.Set(1, c.Generation(1), "mrr", 250)
	c.Set(2, c.Generation(2), "mrr", 90)

	c.Invalidate(1)

	_, ok := c.Get(1, "mrr")
	assert.False(t, ok)
	v, ok := c.Get(2, "mrr")
	assert.True(t, ok)
	assert.Equal(t, 90, v)
}

func TestReportCacheRejectsStaleGeneration(t *testing.T) {
	c := newCache()
	gen := c.Generation(1)
	c.Invalidate(1)
	c.Set(1, gen, "mrr", 250)

	_, ok := c.Get(1, "mrr")
	assert.False(t, ok)
}
