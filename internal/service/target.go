package service

import "math"

// TargetParams are the base fractions for the dynamic target. Defaults
// match the standard trading configuration.
type TargetParams struct {
	BasePct        float64 // target fraction for ordinary fills
	HighPct        float64 // target fraction for cheap fills
	CheapThreshold float64 // fills below this use HighPct
}

// DefaultTargetParams returns the standard target fractions.
func DefaultTargetParams() TargetParams {
	return TargetParams{BasePct: 0.07, HighPct: 0.10, CheapThreshold: 0.30}
}

// TargetInputs are the per-position facts the target is derived from.
type TargetInputs struct {
	FillPrice float64
	DaysLeft  float64
	RangePct  float64 // historical high-low range as percent of average
	HypeScore int
	SpreadPct float64
	Ceiling   float64 // oracle ceiling; ignored below 0.01
}

// ComputeTarget derives a sell target from the fill price. Pure and
// deterministic.
//
// The base fraction is scaled multiplicatively: more time to resolution and
// wider historical range raise it, a near resolution date and a wide spread
// lower it (thin exit liquidity), and the hype score nudges it either way.
// The very-short-horizon checks run before the long-horizon ones so a
// sub-day market is always dampened. The result is capped at the oracle's
// ceiling when the ceiling is sane and clamped to the exchange's [0.01,
// 0.99] price range.
func ComputeTarget(p TargetParams, in TargetInputs) float64 {
	pct := p.BasePct
	if in.FillPrice < p.CheapThreshold {
		pct = p.HighPct
	}

	switch {
	case in.DaysLeft < 1:
		pct *= 0.5
	case in.DaysLeft < 2:
		pct *= 0.7
	case in.DaysLeft > 14:
		pct *= 1.3
	case in.DaysLeft > 7:
		pct *= 1.15
	}

	switch {
	case in.RangePct > 30:
		pct *= 1.2
	case in.RangePct > 20:
		pct *= 1.1
	case in.RangePct < 10:
		pct *= 0.8
	}

	switch {
	case in.HypeScore >= 8:
		pct *= 1.15
	case in.HypeScore <= 3:
		pct *= 0.85
	}

	switch {
	case in.SpreadPct > 10:
		pct *= 0.8
	case in.SpreadPct > 6:
		pct *= 0.9
	}

	target := math.Round(in.FillPrice*(1+pct)*1000) / 1000

	if in.Ceiling >= 0.01 && target > in.Ceiling {
		target = in.Ceiling
	}
	return math.Min(math.Max(target, 0.01), 0.99)
}
