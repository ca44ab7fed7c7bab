// Package scanner is the candidate producer: it polls market discovery each
// round, runs the eligibility filter chain, consults the oracle gatekeeper,
// and enqueues surviving candidates for the trade consumer.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
	"github.com/quantleap/polyrunner/internal/platform/polymarket"
	"github.com/quantleap/polyrunner/internal/queue"
)

const (
	// priceHistoryInterval and priceHistoryFidelity shape the stats window:
	// 6 hours of 5-minute samples.
	priceHistoryInterval = "6h"
	priceHistoryFidelity = 5

	// change1hSamples is how many 5-minute samples back the 1-hour change
	// is measured against.
	change1hSamples = 12

	// minAskNotional mirrors the gateway's realistic-ask rule.
	minAskNotional = 2.0
)

// Discovery lists events for a strategy. Implemented by
// polymarket.GammaClient.
type Discovery interface {
	ListEvents(ctx context.Context, order string, limit, offset int) ([]domain.Event, error)
}

// MarketData provides per-token book and history. Implemented by
// polymarket.ClobClient.
type MarketData interface {
	GetBook(ctx context.Context, tokenID string) (polymarket.APIBook, error)
	GetPriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]domain.PricePoint, error)
}

// strategyOrder maps a discovery strategy name to the Gamma sort key.
var strategyOrder = map[string]string{
	"trending": "volume24hr",
	"volume":   "volume",
}

// Config holds the producer's loop parameters on top of the filter chain.
type Config struct {
	Strategies []string
	EventLimit int
	RoundSleep time.Duration
	Filters    FilterConfig

	// MaxPerEvent mirrors the consumer's per-event exposure cap. Events
	// already at the cap are skipped before any per-token work; the
	// consumer still applies the strict rule (balanced categories cap at
	// one). Zero disables the prefilter.
	MaxPerEvent int

	RateKey    string
	RateLimit  int
	RateWindow time.Duration
}

// Scanner is the candidate producer loop.
type Scanner struct {
	cfg       Config
	discovery Discovery
	data      MarketData
	oracle    domain.Oracle
	dedup     domain.DedupCache
	positions domain.PositionStore
	limiter   domain.RateLimiter
	queue     *queue.Queue
	logger    *slog.Logger
}

// New creates a Scanner.
func New(
	cfg Config,
	discovery Discovery,
	data MarketData,
	oracle domain.Oracle,
	dedup domain.DedupCache,
	positions domain.PositionStore,
	limiter domain.RateLimiter,
	q *queue.Queue,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		cfg:       cfg,
		discovery: discovery,
		data:      data,
		oracle:    oracle,
		dedup:     dedup,
		positions: positions,
		limiter:   limiter,
		queue:     q,
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// Run executes discovery rounds until the context is cancelled. A round can
// take minutes, so cancellation is honored between events and tokens, not
// only between rounds.
func (s *Scanner) Run(ctx context.Context) error {
	for {
		start := time.Now()
		enqueued := s.runRound(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Info("round complete",
			slog.Int("enqueued", enqueued),
			slog.Int("queued_total", s.queue.Len()),
			slog.Duration("took", time.Since(start).Round(time.Millisecond)),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RoundSleep):
		}
	}
}

// runRound runs every strategy once. Any single strategy, event, or token
// failure is logged and skipped; a bad item never aborts the round.
func (s *Scanner) runRound(ctx context.Context) int {
	if err := s.dedup.Prune(ctx); err != nil {
		s.logger.Warn("dedup prune failed", slog.String("error", err.Error()))
	}

	enqueued := 0
	for _, strategy := range s.cfg.Strategies {
		if ctx.Err() != nil {
			return enqueued
		}

		order, ok := strategyOrder[strategy]
		if !ok {
			s.logger.Warn("unknown strategy", slog.String("strategy", strategy))
			continue
		}

		if err := s.waitRate(ctx); err != nil {
			return enqueued
		}
		events, err := s.discovery.ListEvents(ctx, order, s.cfg.EventLimit, 0)
		if err != nil {
			s.logger.Warn("event discovery failed",
				slog.String("strategy", strategy),
				slog.String("error", err.Error()),
			)
			continue
		}

		for i := range events {
			if ctx.Err() != nil {
				return enqueued
			}
			n, err := s.processEvent(ctx, &events[i])
			if err != nil {
				s.logger.Warn("event processing failed",
					slog.String("event", events[i].ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			enqueued += n
		}
	}
	return enqueued
}

// processEvent applies event-level filters and walks the event's markets.
func (s *Scanner) processEvent(ctx context.Context, ev *domain.Event) (int, error) {
	now := time.Now().UTC()

	if res := s.cfg.Filters.filterTitle(ev.Title); !res.OK() {
		return 0, nil
	}
	if res := s.cfg.Filters.filterSportStaleness(ev.Title, ev.StartDate, now); !res.OK() {
		return 0, nil
	}

	// An event already at the exposure cap cannot produce a tradable
	// candidate; skipping it here saves the book, history, and gatekeeper
	// calls for every one of its tokens.
	if s.cfg.MaxPerEvent > 0 {
		held, err := s.positions.CountOpenByEvent(ctx, ev.ID)
		if err != nil {
			return 0, fmt.Errorf("scanner: event exposure lookup: %w", err)
		}
		if held >= s.cfg.MaxPerEvent {
			return 0, nil
		}
	}

	enqueued := 0
	for i := range ev.Markets {
		if ctx.Err() != nil {
			return enqueued, nil
		}
		m := &ev.Markets[i]
		if !m.Active {
			continue
		}

		traded, err := s.positions.HasTradedMarket(ctx, m.ID)
		if err != nil {
			s.logger.Warn("traded-market lookup failed",
				slog.String("market", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if traded {
			continue
		}

		for j, tokenID := range m.TokenIDs {
			if ctx.Err() != nil {
				return enqueued, nil
			}
			if tokenID == "" {
				continue
			}
			ok, res := s.processToken(ctx, ev, m, tokenID, m.Outcomes[j])
			switch res.Verdict {
			case domain.FilterFail:
				s.logger.Warn("token evaluation failed",
					slog.String("token", tokenID),
					slog.String("stage", res.Reason),
					slog.String("error", res.Err.Error()),
				)
			case domain.FilterSkip:
				s.logger.Debug("token skipped",
					slog.String("token", tokenID),
					slog.String("reason", res.Reason),
				)
			}
			if ok {
				enqueued++
			}
		}
	}
	return enqueued, nil
}

// processToken runs the per-token filter chain, the gatekeeper, and the
// dedup check; true means a candidate was enqueued. The FilterResult tells
// the caller whether the token was skipped by a filter or lost to a failed
// dependency, which are logged differently.
func (s *Scanner) processToken(ctx context.Context, ev *domain.Event, m *domain.Market, tokenID, outcome string) (bool, domain.FilterResult) {
	if err := s.waitRate(ctx); err != nil {
		return false, domain.FailFilter("rate limiter", err)
	}

	apiBook, err := s.data.GetBook(ctx, tokenID)
	if err != nil {
		return false, domain.FailFilter("book fetch", err)
	}
	book := apiBook.ToDomainBook()
	price := apiBook.FirstDeepAsk(minAskNotional)
	if price <= 0 {
		return false, domain.Skip("no tradable ask")
	}

	if res := s.cfg.Filters.filterPriceBand(price); !res.OK() {
		return false, res
	}
	if res := s.cfg.Filters.filterLiquidity(book.BidLiquidity); !res.OK() {
		return false, res
	}

	daysLeft := time.Until(m.EndDate).Hours() / 24
	if res := s.cfg.Filters.filterDaysLeft(daysLeft, ev.Category, m.Question); !res.OK() {
		return false, res
	}

	history, err := s.data.GetPriceHistory(ctx, tokenID, priceHistoryInterval, priceHistoryFidelity)
	if err != nil {
		return false, domain.FailFilter("price history fetch", err)
	}
	stats := computeStats(history)

	if res := s.cfg.Filters.filterRange(stats); !res.OK() {
		return false, res
	}
	if res := s.cfg.Filters.filterChange1h(stats); !res.OK() {
		return false, res
	}

	// Entry quality travels with the candidate; the oracle weighs a price
	// sitting on the recent low differently from one mid-range.
	note := fmt.Sprintf("event: %s (volume $%.0f)", ev.Title, ev.Volume)
	if stats.NearLow(price) {
		note += "; entry within 5% of the 6h low"
	}

	cand, err := domain.NewCandidate(domain.Candidate{
		MarketID:     m.ID,
		TokenID:      tokenID,
		EventID:      ev.ID,
		Outcome:      outcome,
		Question:     m.Question,
		Category:     ev.Category,
		Price:        price,
		BestBid:      book.BestBid,
		BestAsk:      book.BestAsk,
		SpreadPct:    book.SpreadPct(),
		BidLiquidity: book.BidLiquidity,
		Stats:        stats,
		EndDate:      m.EndDate,
		DaysLeft:     daysLeft,
		Context:      note,
	})
	if err != nil {
		return false, domain.FailFilter("candidate validation", err)
	}

	verdict, err := s.oracle.Gatekeeper(ctx, cand.Question, cand.EndDate, cand.Category)
	if err != nil {
		// Uncertainty never defaults to risk-taking.
		return false, domain.FailFilter("gatekeeper", err)
	}
	if verdict != domain.GatePass {
		return false, domain.Skip("gatekeeper veto")
	}

	seen, err := s.dedup.Seen(ctx, cand.MarketID, cand.TokenID)
	if err != nil {
		return false, domain.FailFilter("dedup check", err)
	}
	if seen {
		return false, domain.Skip("seen within the dedup window")
	}
	if err := s.dedup.Mark(ctx, cand.MarketID, cand.TokenID); err != nil {
		return false, domain.FailFilter("dedup mark", err)
	}

	if !s.queue.TryPut(cand) {
		// Full queue: drop, freshness over completeness.
		return false, domain.Skip("queue full")
	}

	s.logger.Info("candidate enqueued",
		slog.String("token", tokenID),
		slog.String("question", cand.Question),
		slog.String("category", string(cand.Category)),
		slog.Float64("price", price),
		slog.Float64("days_left", math.Round(daysLeft*100)/100),
	)
	return true, domain.Accept()
}

// waitRate blocks until the discovery rate limiter admits one call. A nil
// limiter disables rate limiting.
func (s *Scanner) waitRate(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	for {
		allowed, err := s.limiter.Allow(ctx, s.cfg.RateKey, s.cfg.RateLimit, s.cfg.RateWindow)
		if err != nil {
			s.logger.Warn("rate limiter error, proceeding", slog.String("error", err.Error()))
			return nil
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// computeStats reduces a price history to the stats the filters and the
// target calculator need. Values are rounded to 3dp; the 1-hour change is
// measured against the sample one hour back.
func computeStats(points []domain.PricePoint) domain.PriceStats {
	if len(points) == 0 {
		return domain.PriceStats{}
	}

	high, low, sum := points[0].Price, points[0].Price, 0.0
	for _, pt := range points {
		if pt.Price > high {
			high = pt.Price
		}
		if pt.Price < low {
			low = pt.Price
		}
		sum += pt.Price
	}

	stats := domain.PriceStats{
		High:    round3(high),
		Low:     round3(low),
		Average: round3(sum / float64(len(points))),
	}
	if len(points) > change1hSamples {
		last := points[len(points)-1].Price
		prev := points[len(points)-1-change1hSamples].Price
		stats.Change1h = round3(last - prev)
	}
	return stats
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
