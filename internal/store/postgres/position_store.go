package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleap/polyrunner/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, token_id, market_id, event_id, question, category,
	buy_price, shares, amount_usdc, target_price, end_date,
	status, sell_in_progress, sell_order_live, notes, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var category, status string
	var endDate *time.Time

	err := row.Scan(
		&p.ID, &p.TokenID, &p.MarketID, &p.EventID, &p.Question, &category,
		&p.BuyPrice, &p.Shares, &p.AmountUSDC, &p.TargetPrice, &endDate,
		&status, &p.SellInProgress, &p.SellOrderLive, &p.Notes,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Category = domain.Category(category)
	p.Status = domain.PositionStatus(status)
	if endDate != nil {
		p.EndDate = *endDate
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, token_id, market_id, event_id, question, category,
			buy_price, shares, amount_usdc, target_price, end_date,
			status, sell_in_progress, sell_order_live, notes, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, NOW()
		)`

	var endDate *time.Time
	if !p.EndDate.IsZero() {
		endDate = &p.EndDate
	}

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.TokenID, p.MarketID, p.EventID, p.Question, string(p.Category),
		p.BuyPrice, p.Shares, p.AmountUSDC, p.TargetPrice, endDate,
		string(p.Status), p.SellInProgress, p.SellOrderLive, p.Notes, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// ListOpen returns all positions still holding inventory, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'OPEN'
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetByToken returns the open position for a token.
func (s *PositionStore) GetByToken(ctx context.Context, tokenID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE token_id = $1 AND status = 'OPEN'`, tokenID)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position by token %s: %w", tokenID, err)
	}
	return p, nil
}

// UpdateStatus transitions the open position for a token to the given
// status, appending the note. Closing also clears the exit flags.
func (s *PositionStore) UpdateStatus(ctx context.Context, tokenID string, status domain.PositionStatus, note string) error {
	const query = `
		UPDATE positions SET
			status           = $2,
			notes            = CASE WHEN $3 = '' THEN notes
			                        WHEN notes = '' THEN $3
			                        ELSE notes || '; ' || $3 END,
			sell_in_progress = FALSE,
			sell_order_live  = FALSE,
			updated_at       = NOW()
		WHERE token_id = $1 AND status = 'OPEN'`

	tag, err := s.pool.Exec(ctx, query, tokenID, string(status), note)
	if err != nil {
		return fmt.Errorf("postgres: update position status %s: %w", tokenID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetExitFlags updates the exit-order flags for a token's open position.
func (s *PositionStore) SetExitFlags(ctx context.Context, tokenID string, inProgress, orderLive bool) error {
	const query = `
		UPDATE positions SET
			sell_in_progress = $2,
			sell_order_live  = $3,
			updated_at       = NOW()
		WHERE token_id = $1 AND status = 'OPEN'`

	tag, err := s.pool.Exec(ctx, query, tokenID, inProgress, orderLive)
	if err != nil {
		return fmt.Errorf("postgres: set exit flags %s: %w", tokenID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetTarget updates the standing target price for a token's open position.
func (s *PositionStore) SetTarget(ctx context.Context, tokenID string, target float64) error {
	const query = `
		UPDATE positions SET
			target_price = $2,
			updated_at   = NOW()
		WHERE token_id = $1 AND status = 'OPEN'`

	tag, err := s.pool.Exec(ctx, query, tokenID, target)
	if err != nil {
		return fmt.Errorf("postgres: set target %s: %w", tokenID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// HasTradedMarket reports whether any position, open or closed, exists for
// the market.
func (s *PositionStore) HasTradedMarket(ctx context.Context, marketID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM positions WHERE market_id = $1)`, marketID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: has traded market %s: %w", marketID, err)
	}
	return exists, nil
}

// CountOpenByEvent counts open positions sharing an event.
func (s *PositionStore) CountOpenByEvent(ctx context.Context, eventID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE event_id = $1 AND status = 'OPEN'`, eventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open by event %s: %w", eventID, err)
	}
	return n, nil
}

// ListClosedSince returns positions closed at or after the given time.
func (s *PositionStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status != 'OPEN' AND updated_at >= $1
		 ORDER BY updated_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
