// Package feed manages the lifecycle of the streaming market-price
// connection on behalf of the monitor.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantleap/polyrunner/internal/platform/polymarket"
)

// Feed wraps the market-channel WebSocket client with a supervised
// lifecycle: connect on Run, tear down on context cancellation. Reconnects
// are handled inside the client; this layer only owns start and stop.
type Feed struct {
	ws     *polymarket.WSClient
	logger *slog.Logger
}

// New creates a Feed over the given WebSocket client.
func New(ws *polymarket.WSClient, logger *slog.Logger) *Feed {
	return &Feed{
		ws:     ws,
		logger: logger.With(slog.String("component", "feed")),
	}
}

// Run connects the feed and blocks until the context is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.ws.Connect(ctx); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	f.logger.Info("price feed connected")

	<-ctx.Done()
	if err := f.ws.Close(); err != nil {
		f.logger.Warn("feed close failed", slog.String("error", err.Error()))
	}
	return ctx.Err()
}

// Watch subscribes tokens to the price stream.
func (f *Feed) Watch(tokenIDs ...string) error {
	return f.ws.Watch(tokenIDs...)
}

// Unwatch unsubscribes tokens from the price stream.
func (f *Feed) Unwatch(tokenIDs ...string) error {
	return f.ws.Unwatch(tokenIDs...)
}

// OnPrice registers a price-observation handler.
func (f *Feed) OnPrice(h func(tokenID string, price float64, ts time.Time)) {
	f.ws.OnPrice(h)
}
