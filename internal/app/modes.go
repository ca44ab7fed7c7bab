package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantleap/polyrunner/internal/notify"
	"github.com/quantleap/polyrunner/internal/server"
)

// TradeMode runs the full engine: producer, consumer, observer, price feed,
// status API, and the archival job when enabled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Feed.Run(gctx) })
	g.Go(func() error { return deps.Monitor.Run(gctx) })
	g.Go(func() error { return deps.Scanner.Run(gctx) })
	g.Go(func() error { return deps.Executor.Run(gctx) })

	if a.cfg.Pipeline.Enabled && deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(gctx) })
	}
	a.startServer(gctx, g, deps)

	return waitGroup(g)
}

// ScanMode runs the producer alone. Candidates are drained from the queue
// and logged instead of executed, which makes the mode a dry run of the
// discovery chain against live markets.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Scanner.Run(gctx) })
	g.Go(func() error { return a.logCandidates(gctx, deps) })
	a.startServer(gctx, g, deps)

	return waitGroup(g)
}

// MonitorMode runs the observer alone: the price feed, the exit state
// machine, and a consumer that logs exit outcomes. No new positions are
// opened.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Feed.Run(gctx) })
	g.Go(func() error { return deps.Monitor.Run(gctx) })
	g.Go(func() error { return a.logExitEvents(gctx, deps) })
	a.startServer(gctx, g, deps)

	return waitGroup(g)
}

// ArchiveMode executes a single archive run and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3 configuration")
	}
	return deps.Archiver.RunOnce(ctx)
}

// startServer attaches the status API to the group when enabled. The server
// shuts down gracefully once the group context is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}

	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.ApiKey,
		Mode:   a.cfg.Mode,
	}, server.Deps{
		Positions:      deps.Positions,
		Governor:       deps.Governor,
		Queue:          deps.Queue,
		MaxDrawdownPct: a.cfg.Risk.MaxDrawdownPct,
		MaxOpen:        a.cfg.Trading.MaxOpenPositions,
	}, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	})
}

// logCandidates drains the queue in scan mode and reports what would have
// been evaluated.
func (a *App) logCandidates(ctx context.Context, deps *Dependencies) error {
	for {
		cand, ok := deps.Queue.Get(ctx, a.cfg.Trading.QueueGetTimeout.Duration)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !ok {
			continue
		}
		a.logger.Info("candidate discovered",
			slog.String("market", cand.MarketID),
			slog.String("token", cand.TokenID),
			slog.String("question", cand.Question),
			slog.String("category", string(cand.Category)),
			slog.Float64("price", cand.Price),
			slog.Float64("days_left", cand.DaysLeft),
			slog.Float64("range_pct", cand.Stats.RangePct()),
		)
	}
}

// logExitEvents consumes the monitor's exit stream in monitor mode, where no
// executor is running to persist outcomes, and forwards them to the
// notification channels.
func (a *App) logExitEvents(ctx context.Context, deps *Dependencies) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-deps.Monitor.Events():
			a.logger.Info("exit event",
				slog.String("token", ev.TokenID),
				slog.String("kind", string(ev.Kind)),
				slog.Float64("price", ev.Price),
				slog.Bool("placed", ev.Placed),
				slog.String("note", ev.Note),
			)
			if ev.Closed {
				_ = deps.Notifier.Notify(ctx, notify.PositionClosed(ev.TokenID, string(ev.Status), ev.Note))
			} else if ev.Placed {
				_ = deps.Notifier.Notify(ctx, notify.ExitPlaced(ev.TokenID, string(ev.Kind), ev.Price))
			}
		}
	}
}

// waitGroup normalizes errgroup termination: a context cancellation is a
// clean shutdown, anything else is a failure.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return context.Canceled
}
