package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantleap/polyrunner/internal/domain"
)

type stubFeed struct {
	watched   []string
	unwatched []string
	handler   func(tokenID string, price float64, ts time.Time)
}

func (f *stubFeed) Watch(tokenIDs ...string) error {
	f.watched = append(f.watched, tokenIDs...)
	return nil
}

func (f *stubFeed) Unwatch(tokenIDs ...string) error {
	f.unwatched = append(f.unwatched, tokenIDs...)
	return nil
}

func (f *stubFeed) OnPrice(h func(tokenID string, price float64, ts time.Time)) {
	f.handler = h
}

type stubPrices struct {
	prices map[string]float64
}

func (p *stubPrices) SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error {
	return nil
}

func (p *stubPrices) GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error) {
	return 0, time.Time{}, domain.ErrNotFound
}

func (p *stubPrices) GetPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range tokenIDs {
		if v, ok := p.prices[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type stubSeller struct{}

func (stubSeller) PlaceSell(ctx context.Context, marketID, tokenID string, size, price float64) (bool, error) {
	return true, nil
}

func testConfig() Config {
	return Config{
		TargetCooldown:   45 * time.Second,
		StopLossCooldown: 60 * time.Second,
		TrailingCooldown: 45 * time.Second,
		BreakEvenArmPct:  0.08,
		TrailingBandPct:  0.03,
		StopLossPct:      0.20,
		MinHold:          2 * time.Hour,
		MinSellValueUSDC: 5.0,
		TickSize:         0.001,
		SyncInterval:     5 * time.Minute,
	}
}

func newTestMonitor() *Monitor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(testConfig(), &stubFeed{}, stubSeller{}, nil, nil, logger)
}

func newEntry(buy, target float64, openedAt time.Time) *watchEntry {
	return &watchEntry{
		marketID: "m1",
		buyPrice: buy,
		target:   target,
		shares:   50,
		openedAt: openedAt,
		hwm:      buy,
		lastFire: make(map[domain.ExitKind]time.Time),
	}
}

func TestChooseBranchTargetWinsOverTrailing(t *testing.T) {
	m := newTestMonitor()

	e := newEntry(0.30, 0.34, time.Now().Add(-3*time.Hour))
	e.armed = true

	// Price at target and inside the trailing band near entry is impossible
	// at once, but a price at target with the entry armed must pick target.
	kind, price, fire := m.chooseBranch(e, 0.34)
	assert.True(t, fire)
	assert.Equal(t, domain.ExitTarget, kind)
	assert.InDelta(t, 0.34, price, 1e-9)
}

func TestChooseBranchTargetRequiresMinValue(t *testing.T) {
	m := newTestMonitor()

	e := newEntry(0.30, 0.34, time.Now().Add(-3*time.Hour))
	e.shares = 10 // 10 * 0.34 = $3.40 below the $5 minimum

	_, _, fire := m.chooseBranch(e, 0.34)
	assert.False(t, fire)
}

func TestChooseBranchStopLossNeedsMinHold(t *testing.T) {
	m := newTestMonitor()

	fresh := newEntry(0.30, 0.40, time.Now().Add(-time.Hour))
	_, _, fire := m.chooseBranch(fresh, 0.20)
	assert.False(t, fire)

	held := newEntry(0.30, 0.40, time.Now().Add(-3*time.Hour))
	kind, price, fire := m.chooseBranch(held, 0.20)
	assert.True(t, fire)
	assert.Equal(t, domain.ExitStopLoss, kind)
	assert.InDelta(t, 0.24, price, 1e-9) // buy * (1 - 0.20)
}

func TestChooseBranchTrailingOnlyWhenArmed(t *testing.T) {
	m := newTestMonitor()

	e := newEntry(0.30, 0.50, time.Now().Add(-3*time.Hour))

	// Retraced to entry but never armed: no exit (and no stop-loss, price
	// is above the stop threshold).
	_, _, fire := m.chooseBranch(e, 0.305)
	assert.False(t, fire)

	e.armed = true
	kind, price, fire := m.chooseBranch(e, 0.305)
	assert.True(t, fire)
	assert.Equal(t, domain.ExitTrailing, kind)
	assert.InDelta(t, 0.303, price, 1e-9) // buy * 1.01
}

func TestChooseBranchCooldownSuppressesRefire(t *testing.T) {
	m := newTestMonitor()

	e := newEntry(0.30, 0.34, time.Now().Add(-3*time.Hour))
	e.lastFire[domain.ExitTarget] = time.Now().Add(-10 * time.Second)

	_, _, fire := m.chooseBranch(e, 0.34)
	assert.False(t, fire)

	e.lastFire[domain.ExitTarget] = time.Now().Add(-time.Minute)
	_, _, fire = m.chooseBranch(e, 0.34)
	assert.True(t, fire)
}

func TestChooseBranchAtMostOneFires(t *testing.T) {
	m := newTestMonitor()

	// A price that satisfies stop-loss while the entry is armed must fire
	// stop-loss only; the trailing branch is never reached.
	e := newEntry(0.30, 0.50, time.Now().Add(-3*time.Hour))
	e.armed = true

	kind, _, fire := m.chooseBranch(e, 0.20)
	assert.True(t, fire)
	assert.Equal(t, domain.ExitStopLoss, kind)
}

func TestWatchIsIdempotent(t *testing.T) {
	feed := &stubFeed{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(testConfig(), feed, stubSeller{}, nil, nil, logger)

	pos := domain.Position{TokenID: "tok", MarketID: "m1", BuyPrice: 0.30, Shares: 50, TargetPrice: 0.34, CreatedAt: time.Now()}
	assert.NoError(t, m.Watch(pos))
	assert.NoError(t, m.Watch(pos))

	// Only one feed subscription for repeated watches.
	assert.Len(t, feed.watched, 1)
}

func TestUnwatchUnknownTokenIsNoop(t *testing.T) {
	feed := &stubFeed{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(testConfig(), feed, stubSeller{}, nil, nil, logger)

	m.Unwatch("missing")
	assert.Empty(t, feed.unwatched)
}

func TestSeedPricesFromCachePrimesFreshEntries(t *testing.T) {
	prices := &stubPrices{prices: map[string]float64{"tok": 0.36}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(testConfig(), &stubFeed{}, stubSeller{}, nil, prices, logger)

	pos := domain.Position{TokenID: "tok", MarketID: "m1", BuyPrice: 0.30, Shares: 50, TargetPrice: 0.40, CreatedAt: time.Now()}
	assert.NoError(t, m.Watch(pos))

	m.seedPricesFromCache(context.Background())

	m.mu.Lock()
	e := m.watch["tok"]
	m.mu.Unlock()
	assert.InDelta(t, 0.36, e.lastPrice, 1e-9)
	// Above entry, so the high-water mark moves with it.
	assert.InDelta(t, 0.36, e.hwm, 1e-9)
}

func TestSeedPricesFromCacheNeverOverwritesLiveTicks(t *testing.T) {
	prices := &stubPrices{prices: map[string]float64{"tok": 0.10}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(testConfig(), &stubFeed{}, stubSeller{}, nil, prices, logger)

	pos := domain.Position{TokenID: "tok", MarketID: "m1", BuyPrice: 0.30, Shares: 50, TargetPrice: 0.40, CreatedAt: time.Now()}
	assert.NoError(t, m.Watch(pos))

	m.mu.Lock()
	m.watch["tok"].lastPrice = 0.33
	m.mu.Unlock()

	m.seedPricesFromCache(context.Background())

	m.mu.Lock()
	e := m.watch["tok"]
	m.mu.Unlock()
	assert.InDelta(t, 0.33, e.lastPrice, 1e-9)
}
