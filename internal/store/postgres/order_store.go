package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleap/polyrunner/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Every order
// submission is recorded, including rejected ones, for audit.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order record.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, exchange_id, token_id, market_id, side, order_type,
			price, size, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Exchange, o.TokenID, o.MarketID,
		string(o.Side), string(o.Type),
		o.Price, o.Size, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus records a status transition, attaching the exchange-assigned
// ID when one was returned.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, exchangeID string) error {
	const query = `
		UPDATE orders SET
			status      = $2,
			exchange_id = CASE WHEN $3 = '' THEN exchange_id ELSE $3 END,
			updated_at  = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), exchangeID)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByToken returns orders for a token, newest first.
func (s *OrderStore) ListByToken(ctx context.Context, tokenID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `
		SELECT id, exchange_id, token_id, market_id, side, order_type,
		       price, size, status, created_at, updated_at
		FROM orders WHERE token_id = $1`
	args := []any{tokenID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", tokenID, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, orderType, status string

		if err := rows.Scan(
			&o.ID, &o.Exchange, &o.TokenID, &o.MarketID,
			&side, &orderType,
			&o.Price, &o.Size, &status,
			&o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(orderType)
		o.Status = domain.OrderStatus(status)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
