package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/polyrunner/internal/config"
	"github.com/quantleap/polyrunner/internal/domain"
	"github.com/quantleap/polyrunner/internal/platform/polymarket"
	"github.com/quantleap/polyrunner/internal/queue"
	"github.com/quantleap/polyrunner/internal/service"
)

// stubExchange fakes the CLOB surface with a fixed book and balances, and
// records every posted order.
type stubExchange struct {
	mu         sync.Mutex
	book       polymarket.APIBook
	collateral float64
	tokenBal   map[string]float64
	posted     []domain.Order
}

func (s *stubExchange) GetBook(ctx context.Context, tokenID string) (polymarket.APIBook, error) {
	return s.book, nil
}

func (s *stubExchange) GetTickSize(ctx context.Context, tokenID string) (float64, error) {
	return 0.001, nil
}

func (s *stubExchange) PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, order)
	return domain.OrderResult{
		Success: true,
		OrderID: fmt.Sprintf("ex-%d", len(s.posted)),
		Status:  domain.OrderStatusLive,
	}, nil
}

func (s *stubExchange) CancelTokenOrders(ctx context.Context, marketID, tokenID string) error {
	return nil
}

func (s *stubExchange) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	return domain.OrderStatusMatched, nil
}

func (s *stubExchange) GetCollateralBalance(ctx context.Context) (float64, error) {
	return s.collateral, nil
}

func (s *stubExchange) GetTokenBalance(ctx context.Context, tokenID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenBal[tokenID], nil
}

func (s *stubExchange) postedOrders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Order(nil), s.posted...)
}

type memPositions struct {
	mu      sync.Mutex
	byToken map[string]domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{byToken: make(map[string]domain.Position)}
}

func (m *memPositions) Create(ctx context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byToken[pos.TokenID] = pos
	return nil
}

func (m *memPositions) ListOpen(ctx context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.byToken {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPositions) GetByToken(ctx context.Context, tokenID string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byToken[tokenID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPositions) UpdateStatus(ctx context.Context, tokenID string, status domain.PositionStatus, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byToken[tokenID]
	p.Status = status
	p.Notes = note
	m.byToken[tokenID] = p
	return nil
}

func (m *memPositions) SetExitFlags(ctx context.Context, tokenID string, inProgress, orderLive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byToken[tokenID]
	p.SellInProgress = inProgress
	p.SellOrderLive = orderLive
	m.byToken[tokenID] = p
	return nil
}

func (m *memPositions) SetTarget(ctx context.Context, tokenID string, target float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byToken[tokenID]
	p.TargetPrice = target
	m.byToken[tokenID] = p
	return nil
}

func (m *memPositions) HasTradedMarket(ctx context.Context, marketID string) (bool, error) {
	return false, nil
}

func (m *memPositions) CountOpenByEvent(ctx context.Context, eventID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.byToken {
		if p.IsOpen() && p.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (m *memPositions) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	return nil, nil
}

type memOrders struct {
	mu      sync.Mutex
	created []domain.Order
}

func (m *memOrders) Create(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, order)
	return nil
}

func (m *memOrders) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, exchangeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.created {
		if m.created[i].ID == id {
			m.created[i].Status = status
			if exchangeID != "" {
				m.created[i].Exchange = exchangeID
			}
		}
	}
	return nil
}

func (m *memOrders) ListByToken(ctx context.Context, tokenID string, opts domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

type memAnalyses struct {
	mu   sync.Mutex
	rows []domain.Analysis
}

func (m *memAnalyses) Append(ctx context.Context, a domain.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, a)
	return nil
}

func (m *memAnalyses) ListRecent(ctx context.Context, limit int) ([]domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.rows) {
		limit = len(m.rows)
	}
	return append([]domain.Analysis(nil), m.rows[len(m.rows)-limit:]...), nil
}

type memHistory struct {
	mu      sync.Mutex
	samples []domain.BalanceSample
}

func (m *memHistory) Append(ctx context.Context, s domain.BalanceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *memHistory) LastPeak(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return 0, nil
	}
	return m.samples[len(m.samples)-1].Peak, nil
}

type stubOracle struct {
	dec domain.Decision
}

func (o *stubOracle) Gatekeeper(ctx context.Context, question string, endDate time.Time, category domain.Category) (domain.GateVerdict, error) {
	return domain.GatePass, nil
}

func (o *stubOracle) Evaluate(ctx context.Context, c domain.Candidate) (domain.Decision, error) {
	return o.dec, nil
}

type stubWatcher struct {
	mu        sync.Mutex
	watched   []string
	unwatched []string
	events    chan domain.ExitEvent
}

func (w *stubWatcher) Watch(pos domain.Position) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched = append(w.watched, pos.TokenID)
	return nil
}

func (w *stubWatcher) Unwatch(tokenID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unwatched = append(w.unwatched, tokenID)
}

func (w *stubWatcher) Events() <-chan domain.ExitEvent { return w.events }

func testTradingConfig() config.TradingConfig {
	cfg := config.TradingConfig{
		MinBalance:         2.0,
		BatchSize:          2,
		MaxOpenPositions:   15,
		MaxBetUSDC:         100.0,
		MinBetUSDC:         2.0,
		MaxBalanceFraction: 0.70,
		MinEdge:            0.03,
		MinDaysDefault:     1.0,
		MinDaysPreferred:   0.5,
		MinDaysHighRisk:    1.2,
		MinDaysPriceEvent:  1.5,
		HypeThreshold:      8,
		KellyFracDefault:   0.5,
		KellyFracPreferred: 0.6,
		KellyFracHighRisk:  0.25,
		StopLossPct:        0.20,
		MaxPerEvent:        2,
	}
	cfg.IdleSleep.Duration = 50 * time.Millisecond
	cfg.QueueGetTimeout.Duration = 50 * time.Millisecond
	cfg.MinHold.Duration = 2 * time.Hour
	return cfg
}

type fixture struct {
	ex        *stubExchange
	positions *memPositions
	orders    *memOrders
	analyses  *memAnalyses
	watcher   *stubWatcher
	queue     *queue.Queue
	exec      *Executor
}

func newFixture(t *testing.T, ex *stubExchange, dec domain.Decision) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	positions := newMemPositions()
	orders := &memOrders{}
	analyses := &memAnalyses{}
	watcher := &stubWatcher{events: make(chan domain.ExitEvent, 4)}
	q := queue.New(4)

	governor, err := service.NewPortfolioGovernor(context.Background(), &memHistory{}, 30, 3, time.Minute, logger)
	require.NoError(t, err)

	cfg := testTradingConfig()
	orderSvc := service.NewOrderService(ex, orders, logger)
	positionSvc := service.NewPositionService(positions, ex, logger)
	riskSvc := service.NewRiskService(cfg, governor, logger)

	exec := New(cfg, 50*time.Millisecond, orderSvc, riskSvc, governor, positionSvc,
		positions, analyses, &stubOracle{dec: dec}, q, watcher, nil,
		service.DefaultTargetParams(), logger)

	return &fixture{
		ex:        ex,
		positions: positions,
		orders:    orders,
		analyses:  analyses,
		watcher:   watcher,
		queue:     q,
		exec:      exec,
	}
}

func buyCandidate() domain.Candidate {
	return domain.Candidate{
		MarketID:  "mkt1",
		TokenID:   "tok1",
		EventID:   "ev1",
		Question:  "Will the bill pass the senate vote?",
		Category:  domain.CategoryPolitics,
		Price:     0.20,
		SpreadPct: 2,
		DaysLeft:  5,
		Stats:     domain.PriceStats{High: 0.50, Low: 0.10, Average: 0.30},
		EndDate:   time.Now().Add(5 * 24 * time.Hour),
	}
}

func defaultBook() polymarket.APIBook {
	return polymarket.APIBook{
		Bids: []polymarket.APIBookLevel{{Price: "0.18", Size: "200"}},
		Asks: []polymarket.APIBookLevel{{Price: "0.20", Size: "200"}},
	}
}

func TestCycleExecutesApprovedCandidate(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the fill settle delay")
	}

	ex := &stubExchange{
		book:       defaultBook(),
		collateral: 500,
		tokenBal:   map[string]float64{"tok1": 375},
	}
	f := newFixture(t, ex, domain.Decision{
		Action:       domain.ActionBuy,
		CeilingPrice: 0.40,
		HypeScore:    9,
		Rationale:    "cheap relative to polling",
	})

	require.True(t, f.queue.TryPut(buyCandidate()))
	require.NoError(t, f.exec.cycle(context.Background()))

	ctx := context.Background()
	open, err := f.positions.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	pos := open[0]
	assert.Equal(t, "tok1", pos.TokenID)
	assert.Equal(t, domain.PositionOpen, pos.Status)

	// Kelly sizing: 500 * 0.25 * 0.6 = $75 at 0.20 buys 375 shares; the
	// confirmed token balance sets the fill.
	assert.InDelta(t, 75.0, pos.AmountUSDC, 1e-9)
	assert.InDelta(t, 0.20, pos.BuyPrice, 1e-9)
	assert.InDelta(t, 375.0, pos.Shares, 1e-9)

	// Cheap fill, wide range, high hype: 0.10 * 1.2 * 1.15 over entry.
	assert.InDelta(t, 0.228, pos.TargetPrice, 1e-9)
	assert.Greater(t, pos.TargetPrice, pos.BuyPrice)

	// The standing target sell is resting on the book.
	assert.True(t, pos.SellOrderLive)
	assert.False(t, pos.SellInProgress)

	posted := ex.postedOrders()
	require.Len(t, posted, 2)
	assert.Equal(t, domain.OrderSideBuy, posted[0].Side)
	assert.Equal(t, domain.OrderSideSell, posted[1].Side)
	assert.InDelta(t, 375.0, posted[1].Size, 1e-9)

	assert.Equal(t, []string{"tok1"}, f.watcher.watched)

	recent, err := f.analyses.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.ActionBuy, recent[0].Action)
}

func TestCycleRejectRecordsAnalysisOnly(t *testing.T) {
	ex := &stubExchange{
		book:       defaultBook(),
		collateral: 500,
		tokenBal:   map[string]float64{},
	}
	f := newFixture(t, ex, domain.RejectDecision("no catalyst before resolution"))

	require.True(t, f.queue.TryPut(buyCandidate()))
	require.NoError(t, f.exec.cycle(context.Background()))

	ctx := context.Background()
	open, err := f.positions.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Empty(t, ex.postedOrders())

	recent, err := f.analyses.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.ActionReject, recent[0].Action)
	assert.Equal(t, "no catalyst before resolution", recent[0].Rationale)
}

func TestMaintenanceClosesEmptyPosition(t *testing.T) {
	ex := &stubExchange{
		book:       defaultBook(),
		collateral: 500,
		tokenBal:   map[string]float64{"tok1": 0},
	}
	f := newFixture(t, ex, domain.RejectDecision("unused"))

	require.NoError(t, f.positions.Create(context.Background(), domain.Position{
		ID: "p1", TokenID: "tok1", MarketID: "mkt1", Question: "Will the bill pass?",
		Category: domain.CategoryPolitics, BuyPrice: 0.20, Shares: 375,
		TargetPrice: 0.228, Status: domain.PositionOpen,
		CreatedAt: time.Now().Add(-3 * time.Hour),
	}))

	require.NoError(t, f.exec.cycle(context.Background()))

	pos, err := f.positions.GetByToken(context.Background(), "tok1")
	require.NoError(t, err)

	// Target was above entry, so a vanished balance means the sell filled.
	assert.Equal(t, domain.PositionClosedProfit, pos.Status)
	assert.Equal(t, []string{"tok1"}, f.watcher.unwatched)
}

func TestMaintenanceStopLossPlacesExit(t *testing.T) {
	ex := &stubExchange{
		book: polymarket.APIBook{
			Bids: []polymarket.APIBookLevel{{Price: "0.20", Size: "200"}},
			Asks: []polymarket.APIBookLevel{{Price: "0.40", Size: "200"}},
		},
		collateral: 500,
		tokenBal:   map[string]float64{"tok1": 375},
	}
	f := newFixture(t, ex, domain.RejectDecision("unused"))

	// Entry at 0.30, bid at 0.20: below the 0.24 stop threshold, held past
	// the grace period.
	require.NoError(t, f.positions.Create(context.Background(), domain.Position{
		ID: "p1", TokenID: "tok1", MarketID: "mkt1", Question: "Will the bill pass?",
		Category: domain.CategoryPolitics, BuyPrice: 0.30, Shares: 375,
		TargetPrice: 0.34, Status: domain.PositionOpen,
		CreatedAt: time.Now().Add(-3 * time.Hour),
		EndDate:   time.Now().Add(10 * 24 * time.Hour),
	}))

	require.NoError(t, f.exec.cycle(context.Background()))

	posted := ex.postedOrders()
	require.Len(t, posted, 1)
	assert.Equal(t, domain.OrderSideSell, posted[0].Side)
	assert.InDelta(t, 375.0, posted[0].Size, 1e-9)
	assert.InDelta(t, 0.24, posted[0].Price, 0.002)

	pos, err := f.positions.GetByToken(context.Background(), "tok1")
	require.NoError(t, err)
	assert.True(t, pos.SellOrderLive)
	assert.False(t, pos.SellInProgress)
}

func TestMaintenanceFreshLossWaitsOutGracePeriod(t *testing.T) {
	ex := &stubExchange{
		book: polymarket.APIBook{
			Bids: []polymarket.APIBookLevel{{Price: "0.20", Size: "200"}},
			Asks: []polymarket.APIBookLevel{{Price: "0.40", Size: "200"}},
		},
		collateral: 500,
		tokenBal:   map[string]float64{"tok1": 375},
	}
	f := newFixture(t, ex, domain.RejectDecision("unused"))

	require.NoError(t, f.positions.Create(context.Background(), domain.Position{
		ID: "p1", TokenID: "tok1", MarketID: "mkt1", Question: "Will the bill pass?",
		Category: domain.CategoryPolitics, BuyPrice: 0.30, Shares: 375,
		TargetPrice: 0.34, Status: domain.PositionOpen,
		CreatedAt: time.Now().Add(-30 * time.Minute),
		EndDate:   time.Now().Add(10 * 24 * time.Hour),
	}))

	require.NoError(t, f.exec.cycle(context.Background()))

	assert.Empty(t, ex.postedOrders())
}
