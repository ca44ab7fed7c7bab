// Package monitor is the position observer: it watches a streaming price
// feed for every open position and runs the exit state machine, publishing
// outcomes to the trade consumer over a channel.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
	"github.com/quantleap/polyrunner/internal/service"
)

// PriceFeed is the streaming subscription surface the monitor drives.
// Implemented by feed.Feed.
type PriceFeed interface {
	Watch(tokenIDs ...string) error
	Unwatch(tokenIDs ...string) error
	OnPrice(h func(tokenID string, price float64, ts time.Time))
}

// SellPlacer places exit orders. Implemented by service.OrderService.
type SellPlacer interface {
	PlaceSell(ctx context.Context, marketID, tokenID string, size, price float64) (bool, error)
}

// Config holds the exit state machine's thresholds and cooldowns.
type Config struct {
	TargetCooldown   time.Duration
	StopLossCooldown time.Duration
	TrailingCooldown time.Duration

	BreakEvenArmPct float64 // rise over entry that arms the trailing exit
	TrailingBandPct float64 // retrace band over entry that fires it
	StopLossPct     float64
	MinHold         time.Duration

	MinSellValueUSDC float64
	TickSize         float64
	SyncInterval     time.Duration
}

// watchEntry is the in-memory shadow of one open position. It exists iff
// the corresponding position is OPEN and synced; the store stays the
// system of record.
type watchEntry struct {
	marketID  string
	buyPrice  float64
	target    float64
	shares    float64
	openedAt  time.Time
	lastPrice float64
	hwm       float64
	armed     bool // break-even exit armed
	selling   bool // an exit attempt is in flight
	lastFire  map[domain.ExitKind]time.Time
}

// Monitor runs the exit state machine over a live watchlist.
type Monitor struct {
	cfg       Config
	feed      PriceFeed
	orders    SellPlacer
	positions *service.PositionService
	prices    domain.PriceCache
	logger    *slog.Logger

	events chan domain.ExitEvent

	mu    sync.Mutex
	watch map[string]*watchEntry
}

// New creates a Monitor and hooks it into the feed.
func New(cfg Config, feed PriceFeed, orders SellPlacer, positions *service.PositionService, prices domain.PriceCache, logger *slog.Logger) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		feed:      feed,
		orders:    orders,
		positions: positions,
		prices:    prices,
		logger:    logger.With(slog.String("component", "monitor")),
		events:    make(chan domain.ExitEvent, 64),
		watch:     make(map[string]*watchEntry),
	}
	feed.OnPrice(m.handlePrice)
	return m
}

// Events is the stream of exit outcomes. The consumer persists them.
func (m *Monitor) Events() <-chan domain.ExitEvent {
	return m.events
}

// Run syncs once at startup and then periodically until cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Sync(ctx); err != nil {
		m.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil {
				m.logger.Warn("sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Watch adds an open position to the watchlist and subscribes its token.
func (m *Monitor) Watch(pos domain.Position) error {
	m.mu.Lock()
	_, exists := m.watch[pos.TokenID]
	if !exists {
		m.watch[pos.TokenID] = &watchEntry{
			marketID: pos.MarketID,
			buyPrice: pos.BuyPrice,
			target:   pos.TargetPrice,
			shares:   pos.Shares,
			openedAt: pos.CreatedAt,
			hwm:      pos.BuyPrice,
			lastFire: make(map[domain.ExitKind]time.Time),
		}
	}
	m.mu.Unlock()

	if exists {
		return nil
	}
	if err := m.feed.Watch(pos.TokenID); err != nil {
		return fmt.Errorf("monitor: watch %s: %w", pos.TokenID, err)
	}
	m.logger.Info("watching position",
		slog.String("token", pos.TokenID),
		slog.Float64("buy_price", pos.BuyPrice),
		slog.Float64("target", pos.TargetPrice),
	)
	return nil
}

// Unwatch removes a token from the watchlist and unsubscribes it.
func (m *Monitor) Unwatch(tokenID string) {
	m.mu.Lock()
	_, exists := m.watch[tokenID]
	delete(m.watch, tokenID)
	m.mu.Unlock()

	if !exists {
		return
	}
	if err := m.feed.Unwatch(tokenID); err != nil {
		m.logger.Warn("unwatch failed",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
	}
}

// Sync reconciles the watchlist against the store: open positions not yet
// watched are added, watched tokens no longer open are removed, and every
// open position's token balance is verified, closing empties.
func (m *Monitor) Sync(ctx context.Context) error {
	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("monitor: sync: %w", err)
	}

	openSet := make(map[string]struct{}, len(open))
	for _, pos := range open {
		openSet[pos.TokenID] = struct{}{}

		closed, err := m.positions.CloseIfEmpty(ctx, pos)
		if err != nil {
			m.logger.Warn("balance verify failed",
				slog.String("token", pos.TokenID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if closed {
			m.Unwatch(pos.TokenID)
			delete(openSet, pos.TokenID)
			m.publish(domain.ExitEvent{
				TokenID:   pos.TokenID,
				Kind:      domain.ExitZeroBalance,
				Closed:    true,
				Status:    pos.CloseStatus(),
				Note:      "closed during monitor sync",
				Timestamp: time.Now().UTC(),
			})
			continue
		}
		if err := m.Watch(pos); err != nil {
			m.logger.Warn("watch during sync failed",
				slog.String("token", pos.TokenID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Drop entries whose positions are gone.
	m.mu.Lock()
	var stale []string
	for tokenID := range m.watch {
		if _, ok := openSet[tokenID]; !ok {
			stale = append(stale, tokenID)
		}
	}
	m.mu.Unlock()
	for _, tokenID := range stale {
		m.Unwatch(tokenID)
	}

	m.seedPricesFromCache(ctx)
	return nil
}

// seedPricesFromCache primes entries that have not yet received a live tick
// with the last cached observation, so the exit state machine has a current
// price immediately after a restart instead of waiting for the next trade.
func (m *Monitor) seedPricesFromCache(ctx context.Context) {
	if m.prices == nil {
		return
	}

	m.mu.Lock()
	var unseeded []string
	for tokenID, e := range m.watch {
		if e.lastPrice == 0 {
			unseeded = append(unseeded, tokenID)
		}
	}
	m.mu.Unlock()
	if len(unseeded) == 0 {
		return
	}

	cached, err := m.prices.GetPrices(ctx, unseeded)
	if err != nil {
		m.logger.Debug("price cache read failed", slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for tokenID, price := range cached {
		e, ok := m.watch[tokenID]
		if !ok || e.lastPrice != 0 || price <= 0 {
			continue
		}
		e.lastPrice = price
		if price > e.hwm {
			e.hwm = price
		}
	}
}

// handlePrice is the per-update entry point of the exit state machine.
// Exactly one branch fires per update, in priority order: target beats
// stop-loss beats trailing break-even.
func (m *Monitor) handlePrice(tokenID string, price float64, ts time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := m.prices.SetPrice(ctx, tokenID, price, ts); err != nil {
		m.logger.Debug("price cache write failed",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
	}
	cancel()

	m.mu.Lock()
	entry, ok := m.watch[tokenID]
	if !ok || entry.selling || price == entry.lastPrice {
		m.mu.Unlock()
		return
	}
	entry.lastPrice = price
	if price > entry.hwm {
		entry.hwm = price
	}
	if !entry.armed && price >= entry.buyPrice*(1+m.cfg.BreakEvenArmPct) {
		entry.armed = true
		m.logger.Info("break-even exit armed",
			slog.String("token", tokenID),
			slog.Float64("price", price),
		)
	}

	kind, sellPrice, fire := m.chooseBranch(entry, price)
	if !fire {
		m.mu.Unlock()
		return
	}
	entry.selling = true
	entry.lastFire[kind] = time.Now()
	marketID, shares := entry.marketID, entry.shares
	m.mu.Unlock()

	// Placement runs off the feed goroutine so a slow exchange call never
	// stalls the read loop.
	go m.placeExit(tokenID, marketID, kind, sellPrice, shares)
}

// chooseBranch evaluates the three exit conditions in priority order.
// Caller holds the lock.
func (m *Monitor) chooseBranch(e *watchEntry, price float64) (domain.ExitKind, float64, bool) {
	now := time.Now()
	cooledDown := func(kind domain.ExitKind, d time.Duration) bool {
		return now.Sub(e.lastFire[kind]) >= d
	}

	// Target reached.
	if e.target > 0 && price >= e.target {
		if price*e.shares < m.cfg.MinSellValueUSDC {
			return "", 0, false
		}
		if !cooledDown(domain.ExitTarget, m.cfg.TargetCooldown) {
			return "", 0, false
		}
		return domain.ExitTarget, e.target, true
	}

	// Stop-loss, only past the minimum hold.
	stopPrice := e.buyPrice * (1 - m.cfg.StopLossPct)
	if price < stopPrice && now.Sub(e.openedAt) >= m.cfg.MinHold {
		if !cooledDown(domain.ExitStopLoss, m.cfg.StopLossCooldown) {
			return "", 0, false
		}
		return domain.ExitStopLoss, stopPrice, true
	}

	// Trailing break-even: armed and retraced back near entry.
	if e.armed && price <= e.buyPrice*(1+m.cfg.TrailingBandPct) {
		if !cooledDown(domain.ExitTrailing, m.cfg.TrailingCooldown) {
			return "", 0, false
		}
		return domain.ExitTrailing, math.Min(e.buyPrice*1.01, 0.99), true
	}

	return "", 0, false
}

// placeExit submits the exit order, retrying the target branch once a tick
// lower, then publishes the outcome and clears the in-flight flag.
func (m *Monitor) placeExit(tokenID, marketID string, kind domain.ExitKind, price, shares float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_ = m.positions.SetExitFlags(ctx, tokenID, true, false)

	placed, err := m.orders.PlaceSell(ctx, marketID, tokenID, shares, price)
	if err != nil && kind == domain.ExitTarget {
		retryPrice := price - 0.01
		if retryPrice >= 0.01 {
			m.logger.Warn("target sell rejected, retrying one tick lower",
				slog.String("token", tokenID),
				slog.Float64("retry_price", retryPrice),
				slog.String("error", err.Error()),
			)
			placed, err = m.orders.PlaceSell(ctx, marketID, tokenID, shares, retryPrice)
			if placed {
				price = retryPrice
			}
		}
	}

	note := string(kind)
	if err != nil {
		note = fmt.Sprintf("%s: %s", kind, err.Error())
		m.logger.Warn("exit order failed",
			slog.String("token", tokenID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	} else {
		m.logger.Info("exit order placed",
			slog.String("token", tokenID),
			slog.String("kind", string(kind)),
			slog.Float64("price", price),
			slog.Float64("shares", shares),
		)
	}

	_ = m.positions.SetExitFlags(ctx, tokenID, false, placed)

	m.mu.Lock()
	if entry, ok := m.watch[tokenID]; ok {
		entry.selling = false
	}
	m.mu.Unlock()

	m.publish(domain.ExitEvent{
		TokenID:   tokenID,
		Kind:      kind,
		Price:     price,
		Placed:    placed,
		Note:      note,
		Timestamp: time.Now().UTC(),
	})
}

// publish emits an exit event without ever blocking the feed path.
func (m *Monitor) publish(ev domain.ExitEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("exit event dropped, consumer lagging",
			slog.String("token", ev.TokenID),
			slog.String("kind", string(ev.Kind)),
		)
	}
}
