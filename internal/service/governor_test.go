package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/polyrunner/internal/domain"
)

type memHistory struct {
	samples []domain.BalanceSample
	peak    float64
}

func (h *memHistory) Append(ctx context.Context, s domain.BalanceSample) error {
	h.samples = append(h.samples, s)
	return nil
}

func (h *memHistory) LastPeak(ctx context.Context) (float64, error) {
	return h.peak, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGovernor(t *testing.T, history domain.BalanceHistory) *PortfolioGovernor {
	t.Helper()
	g, err := NewPortfolioGovernor(context.Background(), history, 30.0, 3, time.Minute, discardLogger())
	require.NoError(t, err)
	return g
}

func TestCheckDrawdownThreshold(t *testing.T) {
	g := newTestGovernor(t, &memHistory{})

	// First observation seeds the peak and never pauses.
	pause, dd := g.CheckDrawdown(100)
	assert.False(t, pause)
	assert.Zero(t, dd)

	pause, dd = g.CheckDrawdown(90)
	assert.False(t, pause)
	assert.InDelta(t, 10.0, dd, 1e-9)

	pause, dd = g.CheckDrawdown(69)
	assert.True(t, pause)
	assert.InDelta(t, 31.0, dd, 1e-9)
}

func TestCheckDrawdownNewHighRaisesPeak(t *testing.T) {
	g := newTestGovernor(t, &memHistory{})

	g.CheckDrawdown(100)
	pause, _ := g.CheckDrawdown(120)
	assert.False(t, pause)
	assert.InDelta(t, 120.0, g.Peak(), 1e-9)

	// 31% under the old peak is only ~27.5% under the new one.
	pause, dd := g.CheckDrawdown(87)
	assert.False(t, pause)
	assert.Less(t, dd, 30.0)
}

func TestPeakRestoredFromHistory(t *testing.T) {
	g := newTestGovernor(t, &memHistory{peak: 250})
	assert.InDelta(t, 250.0, g.Peak(), 1e-9)

	pause, _ := g.CheckDrawdown(100)
	assert.True(t, pause)
}

func TestLogBalanceThrottlesAppends(t *testing.T) {
	h := &memHistory{}
	g := newTestGovernor(t, h)

	require.NoError(t, g.LogBalance(context.Background(), 100))
	require.NoError(t, g.LogBalance(context.Background(), 110))
	require.NoError(t, g.LogBalance(context.Background(), 120))

	// Only the first call within the interval persists, but the peak still
	// tracks every observation.
	assert.Len(t, h.samples, 1)
	assert.InDelta(t, 120.0, g.Peak(), 1e-9)
}

func TestCheckCorrelationBlocksAtCap(t *testing.T) {
	g := newTestGovernor(t, &memHistory{})

	open := []domain.Position{
		{Category: domain.CategoryCrypto, Question: "Will Bitcoin reach $100k by December?"},
		{Category: domain.CategoryCrypto, Question: "Will Bitcoin close above $95k in December?"},
		{Category: domain.CategoryCrypto, Question: "Bitcoin to hit new December high?"},
	}
	title := "Will Bitcoin set a December record?"

	assert.True(t, g.CheckCorrelation(open, title, domain.CategoryCrypto))

	// Two correlated positions sit under the cap of three.
	assert.False(t, g.CheckCorrelation(open[:2], title, domain.CategoryCrypto))

	// Same words in a different category never count.
	assert.False(t, g.CheckCorrelation(open, title, domain.CategoryPolitics))
}
