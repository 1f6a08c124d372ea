// Package cache holds computed per-tenant reports in memory.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/smallbiznis/clubpay/internal/config"
)

const (
	defaultReportEntries = 4096
	defaultReportTTL     = 15 * time.Minute
)

// ReportCache stores reports under a per-tenant generation. Invalidating a
// tenant bumps its generation, so a report computed before the bump can
// never be served after it, even if it is stored late.
type ReportCache struct {
	mu      sync.Mutex
	entries *lru.LRU[string, any]
	gens    map[snowflake.ID]uint64
}

func NewReportCache(cfg config.Config) *ReportCache {
	size := cfg.Analytics.CacheSize
	if size <= 0 {
		size = defaultReportEntries
	}
	ttl := cfg.Analytics.CacheTTL
	if ttl <= 0 {
		ttl = defaultReportTTL
	}
	return &ReportCache{
		entries: lru.NewLRU[string, any](size, nil, ttl),
		gens:    map[snowflake.ID]uint64{},
	}
}

// Generation returns the tenant's current generation. Read it before
// computing a report and hand it back to Set.
func (c *ReportCache) Generation(tenantID snowflake.ID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[tenantID]
}

func (c *ReportCache) Get(tenantID snowflake.ID, name string) (any, bool) {
	return c.entries.Get(key(tenantID, c.Generation(tenantID), name))
}

func (c *ReportCache) Set(tenantID snowflake.ID, gen uint64, name string, value any) {
	if gen != c.Generation(tenantID) {
		return
	}
	c.entries.Add(key(tenantID, gen, name), value)
}

// Invalidate drops every report cached for tenantID.
func (c *ReportCache) Invalidate(tenantID snowflake.ID) {
	c.mu.Lock()
	c.gens[tenantID]++
	c.mu.Unlock()
}

func (c *ReportCache) Len() int {
	return c.entries.Len()
}

func key(tenantID snowflake.ID, gen uint64, name string) string {
	return fmt.Sprintf("%d:%d:%s", tenantID, gen, name)
}
