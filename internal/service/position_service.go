package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantleap/polyrunner/internal/domain"
)

// PositionService owns position lifecycle transitions shared by the trade
// consumer and the monitor's sync: opening, closing on a detected exit, and
// closing on an empty token balance.
type PositionService struct {
	positions domain.PositionStore
	ex        Exchange
	logger    *slog.Logger
}

// NewPositionService creates the position service.
func NewPositionService(positions domain.PositionStore, ex Exchange, logger *slog.Logger) *PositionService {
	return &PositionService{
		positions: positions,
		ex:        ex,
		logger:    logger.With(slog.String("component", "positions")),
	}
}

// Open validates and persists a new position.
func (s *PositionService) Open(ctx context.Context, pos domain.Position) (domain.Position, error) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	pos, err := domain.NewPosition(pos)
	if err != nil {
		return domain.Position{}, err
	}
	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("positions: open %s: %w", pos.TokenID, err)
	}
	s.logger.InfoContext(ctx, "position opened",
		slog.String("token", pos.TokenID),
		slog.Float64("buy_price", pos.BuyPrice),
		slog.Float64("shares", pos.Shares),
		slog.Float64("target", pos.TargetPrice),
	)
	return pos, nil
}

// ListOpen returns the open book.
func (s *PositionService) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.positions.ListOpen(ctx)
}

// Close transitions a position to a terminal status.
func (s *PositionService) Close(ctx context.Context, tokenID string, status domain.PositionStatus, note string) error {
	if err := s.positions.UpdateStatus(ctx, tokenID, status, note); err != nil {
		return fmt.Errorf("positions: close %s: %w", tokenID, err)
	}
	s.logger.InfoContext(ctx, "position closed",
		slog.String("token", tokenID),
		slog.String("status", string(status)),
		slog.String("note", note),
	)
	return nil
}

// CloseIfEmpty checks the live token balance for an open position and, when
// it is effectively zero, closes the position. The terminal status depends
// on whether the standing target was ever meaningfully above entry: a
// vanished balance means the resting sell filled (profit) or the market
// resolved against us (loss). Returns whether the position was closed.
func (s *PositionService) CloseIfEmpty(ctx context.Context, pos domain.Position) (bool, error) {
	bal, err := s.ex.GetTokenBalance(ctx, pos.TokenID)
	if err != nil {
		return false, fmt.Errorf("positions: balance check %s: %w", pos.TokenID, err)
	}
	if bal >= 1 {
		return false, nil
	}

	status := pos.CloseStatus()
	note := fmt.Sprintf("zero balance detected at %s", time.Now().UTC().Format(time.RFC3339))
	if err := s.Close(ctx, pos.TokenID, status, note); err != nil {
		return false, err
	}
	return true, nil
}

// SetExitFlags forwards exit-flag updates to the store.
func (s *PositionService) SetExitFlags(ctx context.Context, tokenID string, inProgress, orderLive bool) error {
	return s.positions.SetExitFlags(ctx, tokenID, inProgress, orderLive)
}
