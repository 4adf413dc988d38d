// pkg/connections/cache.go
package connections

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pageKeyPrefix = "captiochat:page_tenant:"
	pageKeyTTL    = 10 * time.Minute
)

// cachedStore wraps a Store with a Redis read-through cache on the
// page→tenant lookup, which sits on the webhook hot path and must resolve
// inside the provider's delivery deadline. Cache failures fall back to the
// inner store; the cache is never authoritative.
type cachedStore struct {
	inner Store
	rdb   *redis.Client
	log   *zap.SugaredLogger
}

// NewCachedStore decorates inner with Redis caching. A nil client returns
// inner unchanged.
func NewCachedStore(inner Store, rdb *redis.Client, log *zap.SugaredLogger) Store {
	if rdb == nil {
		return inner
	}
	return &cachedStore{inner: inner, rdb: rdb, log: log}
}

func (c *cachedStore) Upsert(ctx context.Context, conn TenantConnection) error {
	if err := c.inner.Upsert(ctx, conn); err != nil {
		return err
	}
	// Reconnects may rebind the page; drop any stale mapping for it.
	if conn.PageID != "" {
		if err := c.rdb.Del(ctx, pageKeyPrefix+conn.PageID).Err(); err != nil {
			c.log.Warnw("page cache invalidate", "page_id", conn.PageID, "err", err)
		}
	}
	return nil
}

func (c *cachedStore) Get(ctx context.Context, tenantID string) (TenantConnection, error) {
	return c.inner.Get(ctx, tenantID)
}

func (c *cachedStore) FindTenantByPage(ctx context.Context, pageID string) (string, error) {
	key := pageKeyPrefix + pageID
	if tenantID, err := c.rdb.Get(ctx, key).Result(); err == nil && tenantID != "" {
		return tenantID, nil
	}
	tenantID, err := c.inner.FindTenantByPage(ctx, pageID)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, tenantID, pageKeyTTL).Err(); err != nil {
		c.log.Warnw("page cache set", "page_id", pageID, "err", err)
	}
	return tenantID, nil
}
