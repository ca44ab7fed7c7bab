package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantleap/polyrunner/internal/domain"
)

// DedupCache implements domain.DedupCache with Redis string keys and native
// TTL expiry. It lets multiple scanner instances share one seen-set.
type DedupCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDedupCache creates a DedupCache with the given entry TTL.
func NewDedupCache(c *Client, ttl time.Duration) *DedupCache {
	return &DedupCache{rdb: c.Underlying(), ttl: ttl}
}

func dedupKey(marketID, tokenID string) string {
	return "dedup:" + marketID + "|" + tokenID
}

// Seen reports whether the market/token pair was marked within the TTL.
func (dc *DedupCache) Seen(ctx context.Context, marketID, tokenID string) (bool, error) {
	n, err := dc.rdb.Exists(ctx, dedupKey(marketID, tokenID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis: dedup seen %s/%s: %w", marketID, tokenID, err)
	}
	return n > 0, nil
}

// Mark records the pair as seen, refreshing its TTL.
func (dc *DedupCache) Mark(ctx context.Context, marketID, tokenID string) error {
	if err := dc.rdb.Set(ctx, dedupKey(marketID, tokenID), "1", dc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: dedup mark %s/%s: %w", marketID, tokenID, err)
	}
	return nil
}

// Prune is a no-op: Redis expires entries itself.
func (dc *DedupCache) Prune(ctx context.Context) error {
	return nil
}

// Compile-time interface check.
var _ domain.DedupCache = (*DedupCache)(nil)
