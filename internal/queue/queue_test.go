package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/polyrunner/internal/domain"
)

func TestTryPutDropsWhenFull(t *testing.T) {
	q := New(3)

	assert.True(t, q.TryPut(domain.Candidate{TokenID: "a"}))
	assert.True(t, q.TryPut(domain.Candidate{TokenID: "b"}))
	assert.True(t, q.TryPut(domain.Candidate{TokenID: "c"}))
	assert.Equal(t, 3, q.Len())

	// The fourth candidate is dropped, not blocked on.
	assert.False(t, q.TryPut(domain.Candidate{TokenID: "d"}))
	assert.Equal(t, 3, q.Len())
}

func TestGetPreservesFIFO(t *testing.T) {
	q := New(3)
	q.TryPut(domain.Candidate{TokenID: "a"})
	q.TryPut(domain.Candidate{TokenID: "b"})

	ctx := context.Background()
	first, ok := q.Get(ctx, time.Second)
	require.True(t, ok)
	second, ok := q.Get(ctx, time.Second)
	require.True(t, ok)

	assert.Equal(t, "a", first.TokenID)
	assert.Equal(t, "b", second.TokenID)
}

func TestGetTimesOutEmpty(t *testing.T) {
	q := New(1)

	start := time.Now()
	_, ok := q.Get(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestGetHonorsCancellation(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Get(ctx, time.Minute)
	assert.False(t, ok)
}

func TestLenAndCap(t *testing.T) {
	q := New(5)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 5, q.Cap())
}
