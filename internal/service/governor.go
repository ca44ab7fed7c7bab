package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
)

// PortfolioGovernor tracks peak equity for the drawdown brake and screens
// new entries for concentration in correlated markets. The peak survives
// restarts via the durable balance history.
type PortfolioGovernor struct {
	history domain.BalanceHistory
	logger  *slog.Logger

	maxDrawdownPct float64
	maxCorrelated  int
	logInterval    time.Duration

	mu      sync.Mutex
	peak    float64
	lastLog time.Time
}

// NewPortfolioGovernor creates the governor, reloading the running peak
// from the balance history.
func NewPortfolioGovernor(ctx context.Context, history domain.BalanceHistory, maxDrawdownPct float64, maxCorrelated int, logInterval time.Duration, logger *slog.Logger) (*PortfolioGovernor, error) {
	peak, err := history.LastPeak(ctx)
	if err != nil {
		return nil, err
	}
	g := &PortfolioGovernor{
		history:        history,
		logger:         logger.With(slog.String("component", "governor")),
		maxDrawdownPct: maxDrawdownPct,
		maxCorrelated:  maxCorrelated,
		logInterval:    logInterval,
		peak:           peak,
	}
	if peak > 0 {
		g.logger.Info("peak equity restored", slog.Float64("peak", peak))
	}
	return g, nil
}

// LogBalance records an equity sample at most once per log interval,
// raising the peak when exceeded. Sub-interval calls only update the peak
// in memory.
func (g *PortfolioGovernor) LogBalance(ctx context.Context, balance float64) error {
	g.mu.Lock()
	if balance > g.peak {
		g.peak = balance
	}
	due := time.Since(g.lastLog) >= g.logInterval
	if due {
		g.lastLog = time.Now()
	}
	sample := domain.BalanceSample{
		TS:      time.Now().UTC(),
		Balance: balance,
		Peak:    g.peak,
	}
	g.mu.Unlock()

	if !due {
		return nil
	}
	return g.history.Append(ctx, sample)
}

// CheckDrawdown reports whether new entries should pause, and the current
// drawdown percentage. A zero peak seeds from the given balance and never
// pauses.
func (g *PortfolioGovernor) CheckDrawdown(balance float64) (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.peak <= 0 {
		g.peak = balance
		return false, 0
	}
	if balance > g.peak {
		g.peak = balance
		return false, 0
	}

	drawdown := (g.peak - balance) / g.peak * 100
	return drawdown >= g.maxDrawdownPct, drawdown
}

// Peak returns the current peak equity.
func (g *PortfolioGovernor) Peak() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// CheckCorrelation reports whether the candidate would over-concentrate the
// book: blocked when the count of open positions sharing its category and
// at least two significant title keywords reaches the cap.
func (g *PortfolioGovernor) CheckCorrelation(open []domain.Position, title string, category domain.Category) bool {
	candidateWords := significantWords(title)

	correlated := 0
	for _, p := range open {
		if p.Category != category {
			continue
		}
		if sharedWords(candidateWords, significantWords(p.Question)) >= 2 {
			correlated++
		}
	}

	if correlated >= g.maxCorrelated {
		g.logger.Info("correlation cap hit",
			slog.String("category", string(category)),
			slog.Int("correlated", correlated),
			slog.Int("cap", g.maxCorrelated),
		)
		return true
	}
	return false
}

// significantWords extracts the lowercase words longer than three
// characters from a title.
func significantWords(title string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,!?:;\"'()")
		if len(w) > 3 {
			words[w] = struct{}{}
		}
	}
	return words
}

func sharedWords(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
