package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantleap/polyrunner/internal/domain"
)

// PositionLister defines the read surface the position handler requires.
type PositionLister interface {
	ListOpen(ctx context.Context) ([]domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionLister
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given lister and logger.
func NewPositionHandler(positions PositionLister, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// positionView is the JSON projection of one open position.
type positionView struct {
	TokenID     string  `json:"token_id"`
	MarketID    string  `json:"market_id"`
	Question    string  `json:"question"`
	Category    string  `json:"category"`
	BuyPrice    float64 `json:"buy_price"`
	Shares      float64 `json:"shares"`
	AmountUSDC  float64 `json:"amount_usdc"`
	TargetPrice float64 `json:"target_price"`
	CreatedAt   string  `json:"created_at"`
}

// ListPositions returns all open positions.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	open, err := h.positions.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	views := make([]positionView, 0, len(open))
	for _, p := range open {
		views = append(views, positionView{
			TokenID:     p.TokenID,
			MarketID:    p.MarketID,
			Question:    p.Question,
			Category:    string(p.Category),
			BuyPrice:    p.BuyPrice,
			Shares:      p.Shares,
			AmountUSDC:  p.AmountUSDC,
			TargetPrice: p.TargetPrice,
			CreatedAt:   p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(views),
		"positions": views,
	})
}
