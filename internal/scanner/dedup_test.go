package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupSuppressesWithinTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := NewDedup(5 * time.Minute).WithClock(func() time.Time { return now })

	seen, err := d.Seen(ctx, "m1", "t1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "m1", "t1"))

	seen, _ = d.Seen(ctx, "m1", "t1")
	assert.True(t, seen)

	// One second before expiry: still suppressed.
	now = now.Add(5*time.Minute - time.Second)
	seen, _ = d.Seen(ctx, "m1", "t1")
	assert.True(t, seen)

	// At the TTL boundary the suppression lapses.
	now = now.Add(time.Second)
	seen, _ = d.Seen(ctx, "m1", "t1")
	assert.False(t, seen)
}

func TestDedupKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	d := NewDedup(5 * time.Minute)

	require.NoError(t, d.Mark(ctx, "m1", "t1"))

	seen, _ := d.Seen(ctx, "m1", "t2")
	assert.False(t, seen)
	seen, _ = d.Seen(ctx, "m2", "t1")
	assert.False(t, seen)
}

func TestDedupPruneDropsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := NewDedup(5 * time.Minute).WithClock(func() time.Time { return now })

	require.NoError(t, d.Mark(ctx, "m1", "t1"))
	now = now.Add(time.Minute)
	require.NoError(t, d.Mark(ctx, "m2", "t2"))

	now = now.Add(4 * time.Minute) // m1 expired, m2 has a minute left
	require.NoError(t, d.Prune(ctx))

	assert.Len(t, d.seen, 1)
	seen, _ := d.Seen(ctx, "m2", "t2")
	assert.True(t, seen)
}
