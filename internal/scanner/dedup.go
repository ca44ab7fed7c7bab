package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
)

// Dedup is the in-memory dedup cache: key → last-enqueued time, suppressed
// for a TTL. The clock is injectable for tests.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup creates a Dedup with the given suppression TTL.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// WithClock overrides the time source.
func (d *Dedup) WithClock(now func() time.Time) *Dedup {
	d.now = now
	return d
}

func dedupKey(marketID, tokenID string) string {
	return marketID + "|" + tokenID
}

// Seen reports whether the pair was marked within the TTL.
func (d *Dedup) Seen(ctx context.Context, marketID, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, ok := d.seen[dedupKey(marketID, tokenID)]
	if !ok {
		return false, nil
	}
	return d.now().Sub(at) < d.ttl, nil
}

// Mark records the pair as seen now.
func (d *Dedup) Mark(ctx context.Context, marketID, tokenID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen[dedupKey(marketID, tokenID)] = d.now()
	return nil
}

// Prune drops expired entries. Called once per producer round to keep the
// map bounded over long runs.
func (d *Dedup) Prune(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, k)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.DedupCache = (*Dedup)(nil)
