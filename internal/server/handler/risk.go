package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantleap/polyrunner/internal/domain"
)

// RiskView is the read surface the risk handler requires from the portfolio
// governor.
type RiskView interface {
	Peak() float64
}

// RiskHandler serves the portfolio risk snapshot.
type RiskHandler struct {
	governor       RiskView
	positions      PositionLister
	maxDrawdownPct float64
	maxOpen        int
	logger         *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(governor RiskView, positions PositionLister, maxDrawdownPct float64, maxOpen int, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		governor:       governor,
		positions:      positions,
		maxDrawdownPct: maxDrawdownPct,
		maxOpen:        maxOpen,
		logger:         logger,
	}
}

// GetRisk returns the governor's peak balance, drawdown limit, and current
// exposure.
// GET /api/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	open, err := h.positions.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: risk snapshot failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read open positions")
		return
	}

	var committed float64
	categories := make(map[string]int)
	for _, p := range open {
		committed += p.AmountUSDC
		categories[string(p.Category)]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"peak_balance":       h.governor.Peak(),
		"max_drawdown_pct":   h.maxDrawdownPct,
		"open_positions":     len(open),
		"max_open_positions": h.maxOpen,
		"committed_usdc":     committed,
		"by_category":        categories,
	})
}

var _ PositionLister = (positionListerFunc)(nil)

// positionListerFunc adapts a plain function to PositionLister, used by the
// wiring layer and tests.
type positionListerFunc func(ctx context.Context) ([]domain.Position, error)

func (f positionListerFunc) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return f(ctx)
}
