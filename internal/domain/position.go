package domain

import (
	"fmt"
	"time"
)

// PositionStatus tracks the lifecycle of a holding. Positions are closed by
// status transition, never deleted.
type PositionStatus string

const (
	PositionOpen         PositionStatus = "OPEN"
	PositionClosedProfit PositionStatus = "CLOSED_PROFIT"
	PositionClosedLoss   PositionStatus = "CLOSED_LOSS"
)

// Position is an open or closed holding. The store is the system of record;
// the monitor keeps an in-memory watch entry per OPEN position that must
// always be reconcilable against the store.
type Position struct {
	ID       string
	TokenID  string
	MarketID string
	EventID  string
	Question string
	Category Category

	BuyPrice    float64 // average fill price
	Shares      float64
	AmountUSDC  float64 // capital committed at entry
	TargetPrice float64
	EndDate     time.Time

	Status PositionStatus

	// SellInProgress marks an exit order currently being submitted;
	// SellOrderLive marks a resting exit order on the book. At most one
	// may be set, preventing duplicate exit orders for the same position.
	SellInProgress bool
	SellOrderLive  bool

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPosition validates required fields at construction.
func NewPosition(p Position) (Position, error) {
	switch {
	case p.TokenID == "":
		return Position{}, fmt.Errorf("domain: position missing token id: %w", ErrInvalidOrder)
	case p.MarketID == "":
		return Position{}, fmt.Errorf("domain: position missing market id: %w", ErrInvalidOrder)
	case p.BuyPrice <= 0 || p.BuyPrice >= 1:
		return Position{}, fmt.Errorf("domain: position buy price %.4f out of (0,1): %w", p.BuyPrice, ErrInvalidOrder)
	case p.Shares <= 0:
		return Position{}, fmt.Errorf("domain: position shares %.2f not positive: %w", p.Shares, ErrInvalidOrder)
	}
	if p.Status == "" {
		p.Status = PositionOpen
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return p, nil
}

// IsOpen reports whether the position still holds inventory.
func (p Position) IsOpen() bool { return p.Status == PositionOpen }

// CloseStatus decides the terminal status for a position whose inventory is
// gone: profit when the standing target was at least one percent above
// entry, loss otherwise. Used when an exit is detected only via a zero
// token balance and the fill price is unknown.
func (p Position) CloseStatus() PositionStatus {
	if p.TargetPrice >= p.BuyPrice*1.01 {
		return PositionClosedProfit
	}
	return PositionClosedLoss
}
