package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// PositionStore persists positions. It is the single source of truth for
// position status; in-memory watch entries are caches over it.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	ListOpen(ctx context.Context) ([]Position, error)
	GetByToken(ctx context.Context, tokenID string) (Position, error)
	UpdateStatus(ctx context.Context, tokenID string, status PositionStatus, note string) error
	SetExitFlags(ctx context.Context, tokenID string, inProgress, orderLive bool) error
	SetTarget(ctx context.Context, tokenID string, target float64) error
	HasTradedMarket(ctx context.Context, marketID string) (bool, error)
	CountOpenByEvent(ctx context.Context, eventID string) (int, error)
	ListClosedSince(ctx context.Context, since time.Time) ([]Position, error)
}

// OrderStore records every order submission for audit.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus, exchangeID string) error
	ListByToken(ctx context.Context, tokenID string, opts ListOpts) ([]Order, error)
}

// Analysis is one persisted oracle evaluation.
type Analysis struct {
	ID           string
	MarketID     string
	TokenID      string
	Question     string
	Category     Category
	Price        float64
	Action       DecisionAction
	CeilingPrice float64
	Rationale    string
	HypeScore    int
	CreatedAt    time.Time
}

// AnalysisStore persists an append-only log of oracle evaluations.
type AnalysisStore interface {
	Append(ctx context.Context, a Analysis) error
	ListRecent(ctx context.Context, limit int) ([]Analysis, error)
}

// BalanceSample is one durable equity observation.
type BalanceSample struct {
	TS      time.Time `json:"ts"`
	Balance float64   `json:"balance"`
	Peak    float64   `json:"peak"`
}

// BalanceHistory is the durable append-only equity log the risk governor
// reloads its peak from after a restart.
type BalanceHistory interface {
	Append(ctx context.Context, s BalanceSample) error
	LastPeak(ctx context.Context) (float64, error)
}
