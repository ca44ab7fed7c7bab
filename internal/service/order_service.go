// Package service contains the trading logic between the raw exchange
// clients and the producer/consumer loops: order placement, pre-trade risk
// gates, position sizing, the dynamic target calculator, and the portfolio
// risk governor.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantleap/polyrunner/internal/domain"
	"github.com/quantleap/polyrunner/internal/platform/polymarket"
)

const (
	// minShares is the exchange's minimum order size.
	minShares = 5.0

	// minAskNotional is the depth an ask level must carry before we quote
	// against it. Quoting against a sliver ask produces unfillable orders.
	minAskNotional = 2.0

	// maxLimitPrice caps any limit price we submit.
	maxLimitPrice = 0.99

	placeAttempts     = 5
	placeBackoffUnit  = 3 * time.Second
	fillSettleDelay   = 4 * time.Second
	fillPollAttempts  = 10
	fillPollInterval  = 3 * time.Second
	defaultTickSize   = 0.001
)

// Exchange is the CLOB surface the order service drives. Implemented by
// polymarket.ClobClient; stubbed in tests.
type Exchange interface {
	GetBook(ctx context.Context, tokenID string) (polymarket.APIBook, error)
	GetTickSize(ctx context.Context, tokenID string) (float64, error)
	PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	CancelTokenOrders(ctx context.Context, marketID, tokenID string) error
	GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)
	GetCollateralBalance(ctx context.Context) (float64, error)
	GetTokenBalance(ctx context.Context, tokenID string) (float64, error)
}

// OrderService is the gateway for every order the engine places. All buy and
// sell submissions serialize on one mutex: the account's nonce and allowance
// state cannot tolerate concurrent order flow.
type OrderService struct {
	ex      Exchange
	orders  domain.OrderStore
	backoff time.Duration
	logger  *slog.Logger

	orderMu sync.Mutex
}

// NewOrderService creates the gateway.
func NewOrderService(ex Exchange, orders domain.OrderStore, logger *slog.Logger) *OrderService {
	return &OrderService{
		ex:      ex,
		orders:  orders,
		backoff: placeBackoffUnit,
		logger:  logger.With(slog.String("component", "order_service")),
	}
}

// GetBook returns the reduced book for a token. Zero values on failure;
// callers treat an empty book as untradable rather than retrying.
func (s *OrderService) GetBook(ctx context.Context, tokenID string) domain.Book {
	book, err := s.ex.GetBook(ctx, tokenID)
	if err != nil {
		s.logger.WarnContext(ctx, "book fetch failed",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
		return domain.Book{}
	}
	return book.ToDomainBook()
}

// GetBuyPrice returns the price a buy would realistically fill at: the
// lowest ask with at least minAskNotional behind it, else the best ask,
// else 0.
func (s *OrderService) GetBuyPrice(ctx context.Context, tokenID string) float64 {
	book, err := s.ex.GetBook(ctx, tokenID)
	if err != nil {
		s.logger.WarnContext(ctx, "buy price fetch failed",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return book.FirstDeepAsk(minAskNotional)
}

// GetBalance returns the account's available collateral in USDC.
func (s *OrderService) GetBalance(ctx context.Context) (float64, error) {
	bal, err := s.ex.GetCollateralBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("order_service: get balance: %w", err)
	}
	return bal, nil
}

// GetTokenBalance returns the held size for one outcome token.
func (s *OrderService) GetTokenBalance(ctx context.Context, tokenID string) (float64, error) {
	bal, err := s.ex.GetTokenBalance(ctx, tokenID)
	if err != nil {
		return 0, fmt.Errorf("order_service: get token balance %s: %w", tokenID, err)
	}
	return bal, nil
}

// PlaceBuy buys usdcAmount worth of a token at the current realistic ask.
// It returns the limit price and share count actually submitted; the caller
// confirms the true fill afterwards from the token balance.
//
// Resting orders on the token are cancelled first so a retry never stacks a
// second order on top of a forgotten one.
func (s *OrderService) PlaceBuy(ctx context.Context, marketID, tokenID string, usdcAmount float64) (price, shares float64, err error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()

	ask := s.GetBuyPrice(ctx, tokenID)
	if ask <= 0 {
		return 0, 0, fmt.Errorf("order_service: no ask for %s: %w", tokenID, domain.ErrInvalidOrder)
	}

	if err := s.ex.CancelTokenOrders(ctx, marketID, tokenID); err != nil {
		s.logger.WarnContext(ctx, "cancel before buy failed",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
	}

	price = math.Min(ask, maxLimitPrice)
	shares = math.Max(usdcAmount/price, minShares+0.05)
	shares = math.Ceil(shares*100) / 100
	if shares < minShares {
		return 0, 0, fmt.Errorf("order_service: %s size %.2f below exchange floor: %w", tokenID, shares, domain.ErrInvalidOrder)
	}

	order := domain.Order{
		ID:        uuid.NewString(),
		TokenID:   tokenID,
		MarketID:  marketID,
		Side:      domain.OrderSideBuy,
		Type:      domain.OrderTypeGTC,
		Price:     price,
		Size:      shares,
		Status:    domain.OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	result, err := s.submitWithRetry(ctx, order)
	if err != nil {
		return 0, 0, err
	}

	if err := s.confirmFill(ctx, result.OrderID); err != nil {
		_ = s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed, result.OrderID)
		return 0, 0, err
	}
	_ = s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusMatched, result.OrderID)

	s.logger.InfoContext(ctx, "buy filled",
		slog.String("token", tokenID),
		slog.Float64("price", price),
		slog.Float64("shares", shares),
		slog.String("order_id", result.OrderID),
	)
	return price, shares, nil
}

// PlaceSell submits a GTC sell. A size below the exchange floor is a
// terminal balance problem, not a retryable one. Any accepted status, filled
// or resting, counts as success: a live sell at the target is the desired
// end state.
func (s *OrderService) PlaceSell(ctx context.Context, marketID, tokenID string, size, price float64) (bool, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()

	if size < minShares {
		return false, fmt.Errorf("order_service: sell size %.2f below exchange floor: %w", size, domain.ErrInsufficientBalance)
	}

	if err := s.ex.CancelTokenOrders(ctx, marketID, tokenID); err != nil {
		s.logger.WarnContext(ctx, "cancel before sell failed",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
	}

	order := domain.Order{
		ID:        uuid.NewString(),
		TokenID:   tokenID,
		MarketID:  marketID,
		Side:      domain.OrderSideSell,
		Type:      domain.OrderTypeGTC,
		Price:     s.snapToTick(ctx, tokenID, price),
		Size:      math.Floor(size*100) / 100,
		Status:    domain.OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	result, err := s.submitWithRetry(ctx, order)
	if err != nil {
		return false, err
	}
	_ = s.orders.UpdateStatus(ctx, order.ID, result.Status, result.OrderID)

	s.logger.InfoContext(ctx, "sell placed",
		slog.String("token", tokenID),
		slog.Float64("price", order.Price),
		slog.Float64("size", order.Size),
		slog.String("status", string(result.Status)),
	)
	return true, nil
}

// submitWithRetry persists the order, then posts it with bounded retries on
// transient rejections. Terminal rejections fail immediately.
func (s *OrderService) submitWithRetry(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if err := s.orders.Create(ctx, order); err != nil {
		return domain.OrderResult{}, fmt.Errorf("order_service: persist order: %w", err)
	}

	var lastMsg string
	for attempt := 0; attempt < placeAttempts; attempt++ {
		if attempt > 0 {
			wait := s.backoff * time.Duration(attempt+1)
			select {
			case <-ctx.Done():
				return domain.OrderResult{}, fmt.Errorf("order_service: submit %s: %w", order.TokenID, ctx.Err())
			case <-time.After(wait):
			}
		}

		result, err := s.ex.PostOrder(ctx, order)
		if err != nil {
			// Only transient transport failures and rate limits earn a
			// retry. A 401, 404, or plain 400 will not get better on the
			// same payload, and the serialized order path must not sit on
			// the mutex re-posting a rejected order.
			if !errors.Is(err, domain.ErrTransient) && !errors.Is(err, domain.ErrRateLimited) {
				_ = s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed, "")
				return domain.OrderResult{}, fmt.Errorf("order_service: submit %s: %w", order.TokenID, err)
			}
			lastMsg = err.Error()
			s.logger.WarnContext(ctx, "order submit error, retrying",
				slog.String("token", order.TokenID),
				slog.Int("attempt", attempt+1),
				slog.String("error", lastMsg),
			)
			continue
		}

		if result.Success {
			if result.OrderID == "" {
				result.OrderID = order.ID
			}
			_ = s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusLive, result.OrderID)
			return result, nil
		}

		lastMsg = result.Message
		if !result.ShouldRetry {
			_ = s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed, "")
			if polymarket.IsBalanceError(result.Message) {
				return domain.OrderResult{}, fmt.Errorf("order_service: %s rejected: %s: %w", order.TokenID, result.Message, domain.ErrInsufficientBalance)
			}
			return domain.OrderResult{}, fmt.Errorf("order_service: %s rejected: %s: %w", order.TokenID, result.Message, domain.ErrOrderRejected)
		}

		s.logger.WarnContext(ctx, "order rejected, retrying",
			slog.String("token", order.TokenID),
			slog.Int("attempt", attempt+1),
			slog.String("reason", result.Message),
		)
	}

	_ = s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed, "")
	return domain.OrderResult{}, fmt.Errorf("order_service: %s exhausted %d attempts (%s): %w", order.TokenID, placeAttempts, lastMsg, domain.ErrTransient)
}

// confirmFill waits for a buy to match: a short settle delay, then bounded
// polling. A live order that never matches within the window is treated as
// a failed entry so the caller does not record a position it may not hold.
func (s *OrderService) confirmFill(ctx context.Context, orderID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("order_service: confirm fill: %w", ctx.Err())
	case <-time.After(fillSettleDelay):
	}

	for i := 0; i < fillPollAttempts; i++ {
		status, err := s.ex.GetOrderStatus(ctx, orderID)
		if err != nil {
			s.logger.WarnContext(ctx, "fill poll failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		} else {
			switch status {
			case domain.OrderStatusMatched:
				return nil
			case domain.OrderStatusLive, domain.OrderStatusPending:
				// keep polling
			default:
				return fmt.Errorf("order_service: order %s ended %s: %w", orderID, status, domain.ErrOrderRejected)
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("order_service: confirm fill: %w", ctx.Err())
		case <-time.After(fillPollInterval):
		}
	}
	return fmt.Errorf("order_service: order %s unfilled after %d polls: %w", orderID, fillPollAttempts, domain.ErrTransient)
}

// snapToTick floors the price to the token's tick size so the exchange
// never rejects it for granularity.
func (s *OrderService) snapToTick(ctx context.Context, tokenID string, price float64) float64 {
	tick, err := s.ex.GetTickSize(ctx, tokenID)
	if err != nil || tick <= 0 {
		tick = defaultTickSize
	}
	snapped := math.Floor(price/tick) * tick
	if snapped <= 0 {
		snapped = tick
	}
	return math.Min(snapped, maxLimitPrice)
}
