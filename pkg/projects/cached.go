package projects

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	DefaultTTL     = 30 * time.Second
	cleanupPeriod  = 5 * time.Minute
	projectKeyPref = "project:"
	tenantKeyPref  = "tenant:"
)

// Cached memoizes answers of another Oracle for a TTL. Errors are never cached.
type Cached struct {
	next  Oracle
	cache *gocache.Cache
}

// NewCached wraps next. A non-positive ttl uses DefaultTTL.
func NewCached(next Oracle, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cached{
		next:  next,
		cache: gocache.New(ttl, cleanupPeriod),
	}
}

// ProjectExists consults the cache before the wrapped oracle.
func (c *Cached) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	return c.lookup(projectKeyPref+projectID, func() (bool, error) {
		return c.next.ProjectExists(ctx, projectID)
	})
}

// TenantExists consults the cache before the wrapped oracle.
func (c *Cached) TenantExists(ctx context.Context, tenantCode string) (bool, error) {
	return c.lookup(tenantKeyPref+tenantCode, func() (bool, error) {
		return c.next.TenantExists(ctx, tenantCode)
	})
}

// Flush drops every cached answer.
func (c *Cached) Flush() {
	c.cache.Flush()
}

func (c *Cached) lookup(key string, load func() (bool, error)) (bool, error) {
	if cached, found := c.cache.Get(key); found {
		if exists, ok := cached.(bool); ok {
			return exists, nil
		}
	}

	exists, err := load()
	if err != nil {
		return false, err
	}

	c.cache.SetDefault(key, exists)

	return exists, nil
}
