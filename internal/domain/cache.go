package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest observed prices. The monitor
// writes every feed update into it; maintenance reads use it to avoid
// re-polling the exchange.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}

// DedupCache suppresses re-emission of a candidate key within a TTL window.
// For any key, at most one enqueue occurs per window.
type DedupCache interface {
	// Seen reports whether the key was marked within the TTL window.
	Seen(ctx context.Context, marketID, tokenID string) (bool, error)
	// Mark records the key at the current time.
	Mark(ctx context.Context, marketID, tokenID string) error
	// Prune discards expired entries. Called once per scanner round, not on
	// every lookup, to bound cost. Backends with native expiry may no-op.
	Prune(ctx context.Context) error
}

// RateLimiter bounds calls against an external API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
