// Package executor is the trade consumer: it drains the candidate queue,
// requests full oracle evaluations, applies sizing and exposure rules, and
// executes approved trades through the order gateway. It also owns position
// maintenance and the persistence of monitor exit outcomes.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/quantleap/polyrunner/internal/config"
	"github.com/quantleap/polyrunner/internal/domain"
	"github.com/quantleap/polyrunner/internal/notify"
	"github.com/quantleap/polyrunner/internal/queue"
	"github.com/quantleap/polyrunner/internal/service"
)

const (
	// fillConfirmAttempts/Interval bound the token-balance polling that
	// establishes the true fill after a buy.
	fillConfirmAttempts = 3
	fillConfirmInterval = 3 * time.Second

	// sellRetryDelay is the pause before the single lower-tier retry of the
	// standing target sell.
	sellRetryDelay = 5 * time.Second

	// errorCooldown is the pause after an unexpected cycle failure.
	errorCooldown = 10 * time.Second
)

// Watcher is the monitor surface the consumer drives. Implemented by
// monitor.Monitor.
type Watcher interface {
	Watch(pos domain.Position) error
	Unwatch(tokenID string)
	Events() <-chan domain.ExitEvent
}

// Executor runs the consumer main loop.
type Executor struct {
	cfg           config.TradingConfig
	drawdownPause time.Duration

	orders    *service.OrderService
	risk      *service.RiskService
	governor  *service.PortfolioGovernor
	positions *service.PositionService
	targets   domain.PositionStore
	analyses  domain.AnalysisStore
	oracle    domain.Oracle
	queue     *queue.Queue
	monitor   Watcher
	notifier  *notify.Notifier
	params    service.TargetParams
	logger    *slog.Logger

	pausedUntil time.Time
}

// New creates an Executor.
func New(
	cfg config.TradingConfig,
	drawdownPause time.Duration,
	orders *service.OrderService,
	risk *service.RiskService,
	governor *service.PortfolioGovernor,
	positions *service.PositionService,
	targets domain.PositionStore,
	analyses domain.AnalysisStore,
	oracle domain.Oracle,
	q *queue.Queue,
	monitor Watcher,
	notifier *notify.Notifier,
	params service.TargetParams,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		cfg:           cfg,
		drawdownPause: drawdownPause,
		orders:        orders,
		risk:          risk,
		governor:      governor,
		positions:     positions,
		targets:       targets,
		analyses:      analyses,
		oracle:        oracle,
		queue:         q,
		monitor:       monitor,
		notifier:      notifier,
		params:        params,
		logger:        logger.With(slog.String("component", "executor")),
	}
}

// Run drives consumer cycles until the context is cancelled. A failed cycle
// never halts the loop; it logs, cools down, and continues.
func (e *Executor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("cycle failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, errorCooldown) {
				return ctx.Err()
			}
		}
	}
}

// cycle is one pass of the consumer main loop.
func (e *Executor) cycle(ctx context.Context) error {
	e.drainExitEvents(ctx)

	balance, err := e.orders.GetBalance(ctx)
	if err != nil {
		e.logger.Warn("balance fetch failed", slog.String("error", err.Error()))
		sleepCtx(ctx, errorCooldown)
		return nil
	}

	if balance < e.cfg.MinBalance {
		e.logger.Info("balance below operating minimum, idling",
			slog.Float64("balance", balance),
			slog.Float64("minimum", e.cfg.MinBalance),
		)
		sleepCtx(ctx, e.cfg.IdleSleep.Duration)
		return nil
	}

	if err := e.governor.LogBalance(ctx, balance); err != nil {
		e.logger.Warn("balance log failed", slog.String("error", err.Error()))
	}

	pause, drawdown := e.governor.CheckDrawdown(balance)
	if pause {
		if time.Now().After(e.pausedUntil) {
			e.pausedUntil = time.Now().Add(e.drawdownPause)
			e.logger.Warn("drawdown breach, pausing new entries",
				slog.Float64("drawdown_pct", math.Round(drawdown*100)/100),
				slog.Float64("balance", balance),
			)
			e.notify(ctx, notify.DrawdownPause(drawdown, balance))
		}
		e.runMaintenance(ctx)
		sleepCtx(ctx, e.drawdownPause)
		return nil
	}

	e.runMaintenance(ctx)

	batch := e.drainBatch(ctx)
	if len(batch) == 0 {
		return nil
	}

	decisions := e.evaluateBatch(ctx, batch)
	for i, cand := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.recordAnalysis(ctx, cand, decisions[i])
		if !decisions[i].IsBuy() {
			e.logger.Info("candidate rejected",
				slog.String("token", cand.TokenID),
				slog.String("rationale", decisions[i].Rationale),
			)
			continue
		}
		if err := e.tryExecute(ctx, cand, decisions[i], balance); err != nil {
			e.logger.Warn("execution failed",
				slog.String("token", cand.TokenID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// drainExitEvents persists any exit outcomes the monitor published since
// the last cycle.
func (e *Executor) drainExitEvents(ctx context.Context) {
	for {
		select {
		case ev := <-e.monitor.Events():
			e.handleExitEvent(ctx, ev)
		default:
			return
		}
	}
}

func (e *Executor) handleExitEvent(ctx context.Context, ev domain.ExitEvent) {
	e.logger.Info("exit event",
		slog.String("token", ev.TokenID),
		slog.String("kind", string(ev.Kind)),
		slog.Bool("placed", ev.Placed),
		slog.Bool("closed", ev.Closed),
	)
	if ev.Closed {
		e.notify(ctx, notify.PositionClosed(ev.TokenID, string(ev.Status), ev.Note))
		return
	}
	if ev.Placed {
		e.notify(ctx, notify.ExitPlaced(ev.TokenID, string(ev.Kind), ev.Price))
	}
}

// runMaintenance verifies every open position: closes empties, fires the
// maintenance-side stop-loss and time-based break-even exits, clears stale
// sell flags, and logs the recovery-potential heuristic for observability.
func (e *Executor) runMaintenance(ctx context.Context) {
	open, err := e.positions.ListOpen(ctx)
	if err != nil {
		e.logger.Warn("maintenance list failed", slog.String("error", err.Error()))
		return
	}

	for _, pos := range open {
		if ctx.Err() != nil {
			return
		}

		closed, err := e.positions.CloseIfEmpty(ctx, pos)
		if err != nil {
			e.logger.Warn("maintenance balance check failed",
				slog.String("token", pos.TokenID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if closed {
			e.monitor.Unwatch(pos.TokenID)
			e.notify(ctx, notify.PositionClosed(pos.TokenID, string(pos.CloseStatus()), "zero balance"))
			continue
		}

		if pos.SellInProgress || pos.SellOrderLive {
			// A stale in-progress flag with no live order means a crashed
			// exit attempt; clear it so future exits are not blocked.
			if pos.SellInProgress && time.Since(pos.UpdatedAt) > 10*time.Minute {
				_ = e.positions.SetExitFlags(ctx, pos.TokenID, false, pos.SellOrderLive)
			}
			continue
		}

		book := e.orders.GetBook(ctx, pos.TokenID)
		if book.BestBid <= 0 {
			continue
		}

		e.logRecoveryPotential(pos, book.BestBid)

		// Stop-loss from maintenance, for positions whose feed updates were
		// missed. Same threshold and grace period as the monitor.
		stopPrice := pos.BuyPrice * (1 - e.cfg.StopLossPct)
		if book.BestBid < stopPrice && time.Since(pos.CreatedAt) >= e.cfg.MinHold.Duration {
			e.placeMaintenanceExit(ctx, pos, stopPrice, domain.ExitStopLoss)
			continue
		}

		// Time-based break-even: close to resolution with the ask still
		// near entry, take the small exit rather than ride resolution risk.
		daysLeft := time.Until(pos.EndDate).Hours() / 24
		if !pos.EndDate.IsZero() && daysLeft < 2 && book.BestAsk > 0 && book.BestAsk < pos.BuyPrice*1.02 {
			e.placeMaintenanceExit(ctx, pos, pos.BuyPrice+0.01, domain.ExitTimeBased)
		}
	}
}

// logRecoveryPotential computes the shadow heuristic: a drawn-down position
// with plenty of time left may still recover. Log-only; it never changes an
// exit decision.
func (e *Executor) logRecoveryPotential(pos domain.Position, bid float64) {
	if bid >= pos.BuyPrice {
		return
	}
	daysLeft := time.Until(pos.EndDate).Hours() / 24
	potential := daysLeft > 3 && bid >= pos.BuyPrice*0.5 && pos.TargetPrice > pos.BuyPrice
	e.logger.Debug("recovery potential",
		slog.String("token", pos.TokenID),
		slog.Bool("potential", potential),
		slog.Float64("bid", bid),
		slog.Float64("buy_price", pos.BuyPrice),
		slog.Float64("days_left", math.Round(daysLeft*100)/100),
	)
}

func (e *Executor) placeMaintenanceExit(ctx context.Context, pos domain.Position, price float64, kind domain.ExitKind) {
	_ = e.positions.SetExitFlags(ctx, pos.TokenID, true, false)
	placed, err := e.orders.PlaceSell(ctx, pos.MarketID, pos.TokenID, pos.Shares, price)
	_ = e.positions.SetExitFlags(ctx, pos.TokenID, false, placed)
	if err != nil {
		e.logger.Warn("maintenance exit failed",
			slog.String("token", pos.TokenID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Info("maintenance exit placed",
		slog.String("token", pos.TokenID),
		slog.String("kind", string(kind)),
		slog.Float64("price", price),
	)
}

// drainBatch pulls up to the batch size from the queue, blocking only for
// the configured timeout on the first item.
func (e *Executor) drainBatch(ctx context.Context) []domain.Candidate {
	batch := make([]domain.Candidate, 0, e.cfg.BatchSize)
	for len(batch) < e.cfg.BatchSize {
		timeout := e.cfg.QueueGetTimeout.Duration
		if len(batch) > 0 {
			timeout = 100 * time.Millisecond
		}
		cand, ok := e.queue.Get(ctx, timeout)
		if !ok {
			break
		}
		batch = append(batch, cand)
	}
	return batch
}

// evaluateBatch runs the full oracle evaluations concurrently. A failed
// evaluation becomes a REJECT; uncertainty never defaults to risk-taking.
func (e *Executor) evaluateBatch(ctx context.Context, batch []domain.Candidate) []domain.Decision {
	decisions := make([]domain.Decision, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i := range batch {
		i := i
		g.Go(func() error {
			dec, err := e.oracle.Evaluate(gctx, batch[i])
			if err != nil {
				e.logger.Warn("evaluation failed, rejecting",
					slog.String("token", batch[i].TokenID),
					slog.String("error", err.Error()),
				)
				dec = domain.RejectDecision("oracle error: " + err.Error())
			}
			decisions[i] = dec
			return nil
		})
	}
	_ = g.Wait()
	return decisions
}

func (e *Executor) recordAnalysis(ctx context.Context, cand domain.Candidate, dec domain.Decision) {
	a := domain.Analysis{
		ID:           uuid.NewString(),
		MarketID:     cand.MarketID,
		TokenID:      cand.TokenID,
		Question:     cand.Question,
		Category:     cand.Category,
		Price:        cand.Price,
		Action:       dec.Action,
		CeilingPrice: dec.CeilingPrice,
		Rationale:    dec.Rationale,
		HypeScore:    dec.HypeScore,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.analyses.Append(ctx, a); err != nil {
		e.logger.Warn("analysis append failed",
			slog.String("token", cand.TokenID),
			slog.String("error", err.Error()),
		)
	}
}

// tryExecute runs the pre-trade gates, sizes the bet, and executes. The
// live price is re-checked immediately before submission; a stale quote
// must not buy through the oracle's ceiling.
func (e *Executor) tryExecute(ctx context.Context, cand domain.Candidate, dec domain.Decision, balance float64) error {
	open, err := e.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("executor: list open: %w", err)
	}

	if res := e.risk.PreTradeCheck(cand, dec, open); !res.OK() {
		e.logger.Info("pre-trade gate rejected",
			slog.String("token", cand.TokenID),
			slog.String("reason", res.Reason),
		)
		return nil
	}

	bet := e.risk.SizeBet(cand, dec, balance)
	if bet <= 0 {
		e.logger.Info("bet uneconomical, skipping", slog.String("token", cand.TokenID))
		return nil
	}

	livePrice := e.orders.GetBuyPrice(ctx, cand.TokenID)
	if livePrice <= 0 || !e.risk.PriceStillAcceptable(cand, dec, livePrice) {
		e.logger.Info("live price moved, aborting",
			slog.String("token", cand.TokenID),
			slog.Float64("scanned", cand.Price),
			slog.Float64("live", livePrice),
			slog.Float64("ceiling", dec.CeilingPrice),
		)
		return nil
	}

	limitPrice, shares, err := e.orders.PlaceBuy(ctx, cand.MarketID, cand.TokenID, bet)
	if err != nil {
		return fmt.Errorf("executor: buy %s: %w", cand.TokenID, err)
	}

	fillShares, avgFill := e.confirmFill(ctx, cand.TokenID, bet, limitPrice, shares)

	target := service.ComputeTarget(e.params, service.TargetInputs{
		FillPrice: avgFill,
		DaysLeft:  cand.DaysLeft,
		RangePct:  cand.Stats.RangePct(),
		HypeScore: dec.HypeScore,
		SpreadPct: cand.SpreadPct,
		Ceiling:   dec.CeilingPrice,
	})

	pos, err := e.positions.Open(ctx, domain.Position{
		TokenID:     cand.TokenID,
		MarketID:    cand.MarketID,
		EventID:     cand.EventID,
		Question:    cand.Question,
		Category:    cand.Category,
		BuyPrice:    avgFill,
		Shares:      fillShares,
		AmountUSDC:  bet,
		TargetPrice: target,
		EndDate:     cand.EndDate,
	})
	if err != nil {
		return fmt.Errorf("executor: persist position %s: %w", cand.TokenID, err)
	}

	e.placeTargetSell(ctx, pos)

	if err := e.monitor.Watch(pos); err != nil {
		e.logger.Warn("monitor registration failed",
			slog.String("token", pos.TokenID),
			slog.String("error", err.Error()),
		)
	}

	e.notify(ctx, notify.TradeExecuted(cand.Question, fillShares, avgFill, bet, target))
	return nil
}

// confirmFill polls the token balance to establish the true fill, then
// derives the average fill price from capital spent. Falls back to the
// submitted size and limit price when the balance never shows up.
func (e *Executor) confirmFill(ctx context.Context, tokenID string, bet, limitPrice, submitted float64) (shares, avgFill float64) {
	for i := 0; i < fillConfirmAttempts; i++ {
		bal, err := e.orders.GetTokenBalance(ctx, tokenID)
		if err == nil && bal > 0 {
			return bal, math.Round(bet/bal*10000) / 10000
		}
		if !sleepCtx(ctx, fillConfirmInterval) {
			break
		}
	}
	e.logger.Warn("fill confirmation inconclusive, using submitted size",
		slog.String("token", tokenID),
	)
	return submitted, limitPrice
}

// placeTargetSell places the standing GTC sell at the target, retrying once
// at one tier lower after a short delay.
func (e *Executor) placeTargetSell(ctx context.Context, pos domain.Position) {
	_ = e.positions.SetExitFlags(ctx, pos.TokenID, true, false)

	placed, err := e.orders.PlaceSell(ctx, pos.MarketID, pos.TokenID, pos.Shares, pos.TargetPrice)
	if err != nil {
		retry := math.Max(pos.TargetPrice-0.01, pos.BuyPrice+0.01)
		e.logger.Warn("target sell rejected, retrying lower",
			slog.String("token", pos.TokenID),
			slog.Float64("retry_price", retry),
			slog.String("error", err.Error()),
		)
		if !sleepCtx(ctx, sellRetryDelay) {
			_ = e.positions.SetExitFlags(ctx, pos.TokenID, false, false)
			return
		}
		placed, err = e.orders.PlaceSell(ctx, pos.MarketID, pos.TokenID, pos.Shares, retry)
		if err == nil && placed {
			_ = e.targets.SetTarget(ctx, pos.TokenID, retry)
		}
	}

	_ = e.positions.SetExitFlags(ctx, pos.TokenID, false, placed && err == nil)
}

func (e *Executor) notify(ctx context.Context, msg notify.Message) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, msg); err != nil {
		e.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

// sleepCtx sleeps unless the context is cancelled first; false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
