package service

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/quantleap/polyrunner/internal/config"
	"github.com/quantleap/polyrunner/internal/domain"
)

// RiskService applies the pre-trade gates and sizes approved entries. The
// gates run in a fixed order; the first failing gate names the rejection.
type RiskService struct {
	cfg      config.TradingConfig
	governor *PortfolioGovernor
	logger   *slog.Logger
}

// NewRiskService creates the risk service.
func NewRiskService(cfg config.TradingConfig, governor *PortfolioGovernor, logger *slog.Logger) *RiskService {
	return &RiskService{
		cfg:      cfg,
		governor: governor,
		logger:   logger.With(slog.String("component", "risk")),
	}
}

// PreTradeCheck runs the exposure and quality gates for a BUY decision
// against the current open book. The order is deliberate: cheap structural
// gates first, the edge comparison last.
func (r *RiskService) PreTradeCheck(cand domain.Candidate, dec domain.Decision, open []domain.Position) domain.FilterResult {
	// Per-event exposure: balanced categories get one shot per event,
	// everything else up to the configured cap.
	eventCap := r.cfg.MaxPerEvent
	if cand.Category.IsBalanced() {
		eventCap = 1
	}
	sameEvent := 0
	for _, p := range open {
		if p.EventID != "" && p.EventID == cand.EventID {
			sameEvent++
		}
	}
	if sameEvent >= eventCap {
		return domain.Skip(fmt.Sprintf("event exposure %d/%d", sameEvent, eventCap))
	}

	if r.governor.CheckCorrelation(open, cand.Question, cand.Category) {
		return domain.Skip("correlated with open positions")
	}

	if minDays := r.minDaysFor(cand); cand.DaysLeft < minDays {
		return domain.Skip(fmt.Sprintf("%.2f days to resolution, need %.2f", cand.DaysLeft, minDays))
	}

	if len(open) >= r.cfg.MaxOpenPositions {
		return domain.Skip(fmt.Sprintf("open positions at cap %d", r.cfg.MaxOpenPositions))
	}

	// Entry must sit in the cheap half of its historical range, unless the
	// oracle's hype score clears the category's threshold.
	if !cand.Stats.InLowerHalf(cand.Price) && dec.HypeScore < r.hypeThresholdFor(cand.Category) {
		return domain.Skip(fmt.Sprintf("price %.3f in upper half of range, hype %d below %d",
			cand.Price, dec.HypeScore, r.hypeThresholdFor(cand.Category)))
	}

	if edge := dec.CeilingPrice - cand.Price; edge < r.minEdgeFor(cand) {
		return domain.Skip(fmt.Sprintf("edge %.3f below %.3f", edge, r.minEdgeFor(cand)))
	}

	return domain.Accept()
}

// SizeBet sizes an approved entry via fractional Kelly, capped by the max
// bet and a balance fraction, floored at the smallest economical ticket.
// Returns 0 when the trade is uneconomical at any allowed size.
func (r *RiskService) SizeBet(cand domain.Candidate, dec domain.Decision, balance float64) float64 {
	frac := r.kellyFracFor(cand.Category)
	f := kellyFraction(dec.CeilingPrice, cand.Price)
	if f <= 0 {
		return 0
	}

	bet := balance * f * frac

	ceiling := math.Min(r.cfg.MaxBetUSDC, balance*r.cfg.MaxBalanceFraction)
	bet = math.Min(bet, ceiling)

	floor := math.Max(r.cfg.MinBetUSDC, 5.5*cand.Price)
	if bet < floor {
		if floor > ceiling {
			r.logger.Info("bet floor exceeds allowed size, abandoning",
				slog.String("token", cand.TokenID),
				slog.Float64("floor", floor),
				slog.Float64("ceiling", ceiling),
			)
			return 0
		}
		bet = floor
	}

	return math.Round(bet*100) / 100
}

// PriceStillAcceptable re-checks the live price immediately before
// execution: the quote from scan time may be stale, and buying through the
// oracle's edge turns an approved trade into a bad one.
func (r *RiskService) PriceStillAcceptable(cand domain.Candidate, dec domain.Decision, livePrice float64) bool {
	return dec.CeilingPrice-livePrice >= r.minEdgeFor(cand)
}

// kellyFraction is the Kelly criterion for a binary contract bought at
// price p with estimated win probability winProb: b = (1-p)/p and
// f* = winProb - (1-winProb)/b. Zero when there is no edge.
func kellyFraction(winProb, price float64) float64 {
	if winProb <= price || price <= 0 || price >= 1 {
		return 0
	}
	b := (1 - price) / price
	return winProb - (1-winProb)/b
}

// minDaysFor stratifies the days-to-resolution floor by risk tier. Price
// events on high-risk categories resolve on knife edges and get the widest
// berth.
func (r *RiskService) minDaysFor(cand domain.Candidate) float64 {
	switch {
	case cand.Category.IsPreferred():
		return r.cfg.MinDaysPreferred
	case cand.Category.IsHighRisk() && domain.IsPriceEvent(cand.Question):
		return r.cfg.MinDaysPriceEvent
	case cand.Category.IsHighRisk():
		return r.cfg.MinDaysHighRisk
	default:
		return r.cfg.MinDaysDefault
	}
}

// minEdgeFor returns the minimum ceiling-over-price edge by tier.
func (r *RiskService) minEdgeFor(cand domain.Candidate) float64 {
	edge := r.cfg.MinEdge
	if cand.Category.IsHighRisk() && domain.IsPriceEvent(cand.Question) {
		edge = math.Max(edge, 0.04)
	}
	if cand.Category.IsPreferred() {
		edge = math.Max(edge*0.8, 0.01)
	}
	return edge
}

// hypeThresholdFor returns the hype score that overrides the lower-half
// gate; preferred categories get a small discount.
func (r *RiskService) hypeThresholdFor(cat domain.Category) int {
	if cat.IsPreferred() {
		return r.cfg.HypeThreshold - 2
	}
	return r.cfg.HypeThreshold
}

// kellyFracFor returns the fraction of full Kelly used per category tier.
func (r *RiskService) kellyFracFor(cat domain.Category) float64 {
	switch {
	case cat.IsHighRisk():
		return r.cfg.KellyFracHighRisk
	case cat.IsPreferred():
		return r.cfg.KellyFracPreferred
	default:
		return r.cfg.KellyFracDefault
	}
}
