package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleap/polyrunner/internal/domain"
)

// AnalysisStore implements domain.AnalysisStore using PostgreSQL. The
// analysis log is append-only.
type AnalysisStore struct {
	pool *pgxpool.Pool
}

// NewAnalysisStore creates a new AnalysisStore backed by the given connection pool.
func NewAnalysisStore(pool *pgxpool.Pool) *AnalysisStore {
	return &AnalysisStore{pool: pool}
}

// Append records one oracle evaluation.
func (s *AnalysisStore) Append(ctx context.Context, a domain.Analysis) error {
	const query = `
		INSERT INTO analyses (
			id, market_id, token_id, question, category,
			price, action, ceiling_price, rationale, hype_score, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.MarketID, a.TokenID, a.Question, string(a.Category),
		a.Price, string(a.Action), a.CeilingPrice, a.Rationale, a.HypeScore,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append analysis %s: %w", a.ID, err)
	}
	return nil
}

// ListRecent returns the most recent evaluations, newest first.
func (s *AnalysisStore) ListRecent(ctx context.Context, limit int) ([]domain.Analysis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, token_id, question, category,
		       price, action, ceiling_price, rationale, hype_score, created_at
		FROM analyses
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []domain.Analysis
	for rows.Next() {
		var a domain.Analysis
		var category, action string

		if err := rows.Scan(
			&a.ID, &a.MarketID, &a.TokenID, &a.Question, &category,
			&a.Price, &action, &a.CeilingPrice, &a.Rationale, &a.HypeScore,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan analysis: %w", err)
		}
		a.Category = domain.Category(category)
		a.Action = domain.DecisionAction(action)
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list analyses rows: %w", err)
	}
	return analyses, nil
}

// Compile-time interface check.
var _ domain.AnalysisStore = (*AnalysisStore)(nil)
