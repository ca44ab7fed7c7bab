package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantleap/polyrunner/internal/config"
	"github.com/quantleap/polyrunner/internal/domain"
)

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		MaxOpenPositions:   15,
		MaxBetUSDC:         100.0,
		MinBetUSDC:         2.0,
		MaxBalanceFraction: 0.70,
		MinEdge:            0.03,
		MinDaysDefault:     1.0,
		MinDaysPreferred:   0.5,
		MinDaysHighRisk:    1.2,
		MinDaysPriceEvent:  1.5,
		HypeThreshold:      8,
		KellyFracDefault:   0.5,
		KellyFracPreferred: 0.6,
		KellyFracHighRisk:  0.25,
		MaxPerEvent:        2,
	}
}

func newTestRisk(t *testing.T) *RiskService {
	t.Helper()
	return NewRiskService(testTradingConfig(), newTestGovernor(t, &memHistory{}), discardLogger())
}

func TestKellyFraction(t *testing.T) {
	// No edge: win probability at or below price.
	assert.Zero(t, kellyFraction(0.30, 0.30))
	assert.Zero(t, kellyFraction(0.25, 0.30))

	// b = (1-0.2)/0.2 = 4, f* = 0.4 - 0.6/4 = 0.25.
	assert.InDelta(t, 0.25, kellyFraction(0.40, 0.20), 1e-9)

	// Degenerate prices.
	assert.Zero(t, kellyFraction(0.5, 0))
	assert.Zero(t, kellyFraction(0.5, 1))
}

func TestSizeBetCapsAndFloors(t *testing.T) {
	r := newTestRisk(t)

	cand := domain.Candidate{TokenID: "tok", Question: "Will it happen?", Category: domain.CategoryPolitics, Price: 0.20}
	dec := domain.Decision{Action: domain.ActionBuy, CeilingPrice: 0.40}

	// Large balance: 10000 * 0.25 * 0.6 = 1500, capped at MaxBetUSDC.
	assert.InDelta(t, 100.0, r.SizeBet(cand, dec, 10000), 1e-9)

	// Small balance: the balance-fraction cap binds below the max bet.
	bet := r.SizeBet(cand, dec, 50)
	assert.LessOrEqual(t, bet, 50*0.70)
	assert.Greater(t, bet, 0.0)

	// No edge sizes to zero.
	assert.Zero(t, r.SizeBet(cand, domain.Decision{CeilingPrice: 0.15}, 1000))
}

func TestSizeBetFloorAbandonsWhenUneconomical(t *testing.T) {
	r := newTestRisk(t)

	cand := domain.Candidate{TokenID: "tok", Question: "q", Category: domain.CategoryPolitics, Price: 0.20}
	dec := domain.Decision{Action: domain.ActionBuy, CeilingPrice: 0.21}

	// A tiny Kelly bet on a tiny balance: the floor max($2, 5.5*price)
	// exceeds 70% of the balance, so no trade.
	assert.Zero(t, r.SizeBet(cand, dec, 2.5))
}

func TestPreTradeCheckEventExposure(t *testing.T) {
	r := newTestRisk(t)

	dec := domain.Decision{Action: domain.ActionBuy, CeilingPrice: 0.50, HypeScore: 9}
	cand := domain.Candidate{
		TokenID: "tok", Question: "Will the bill pass the senate vote?", EventID: "ev1",
		Category: domain.CategoryPolitics, Price: 0.20, DaysLeft: 5,
		Stats: domain.PriceStats{High: 0.50, Low: 0.10, Average: 0.30},
	}

	open := []domain.Position{
		{EventID: "ev1", Category: domain.CategoryEconomics, Question: "unrelated question one"},
		{EventID: "ev1", Category: domain.CategoryEconomics, Question: "unrelated question two"},
	}
	res := r.PreTradeCheck(cand, dec, open)
	assert.False(t, res.OK())

	// Balanced categories cap at one position per event.
	sports := cand
	sports.Category = domain.CategorySports
	res = r.PreTradeCheck(sports, dec, open[:1])
	assert.False(t, res.OK())

	// Under the cap the candidate clears.
	res = r.PreTradeCheck(cand, dec, open[:1])
	assert.True(t, res.OK())
}

func TestPreTradeCheckUpperHalfNeedsHype(t *testing.T) {
	r := newTestRisk(t)

	cand := domain.Candidate{
		TokenID: "tok", Question: "q", Category: domain.CategoryEconomics,
		Price: 0.45, DaysLeft: 5,
		Stats: domain.PriceStats{High: 0.50, Low: 0.10, Average: 0.30},
	}

	dull := domain.Decision{Action: domain.ActionBuy, CeilingPrice: 0.60, HypeScore: 5}
	assert.False(t, r.PreTradeCheck(cand, dull, nil).OK())

	hyped := domain.Decision{Action: domain.ActionBuy, CeilingPrice: 0.60, HypeScore: 9}
	assert.True(t, r.PreTradeCheck(cand, hyped, nil).OK())
}

func TestPreTradeCheckMinDaysTiers(t *testing.T) {
	r := newTestRisk(t)
	dec := domain.Decision{Action: domain.ActionBuy, CeilingPrice: 0.50, HypeScore: 9}

	base := domain.Candidate{
		TokenID: "tok", Question: "Will the team win the final?", Price: 0.20,
		Stats: domain.PriceStats{High: 0.50, Low: 0.10, Average: 0.30},
	}

	// Preferred tier trades down to half a day.
	cand := base
	cand.Category = domain.CategorySports
	cand.DaysLeft = 0.6
	assert.True(t, r.PreTradeCheck(cand, dec, nil).OK())

	// High-risk needs 1.2 days.
	cand.Category = domain.CategoryCrypto
	assert.False(t, r.PreTradeCheck(cand, dec, nil).OK())

	// High-risk price events need 1.5 days.
	cand.Question = "Will ETH reach $5000 this week?"
	cand.DaysLeft = 1.3
	assert.False(t, r.PreTradeCheck(cand, dec, nil).OK())
	cand.DaysLeft = 1.6
	assert.True(t, r.PreTradeCheck(cand, dec, nil).OK())
}

func TestPreTradeCheckEdge(t *testing.T) {
	r := newTestRisk(t)

	cand := domain.Candidate{
		TokenID: "tok", Question: "q", Category: domain.CategoryEconomics,
		Price: 0.20, DaysLeft: 5,
		Stats: domain.PriceStats{High: 0.50, Low: 0.10, Average: 0.30},
	}

	thin := domain.Decision{Action: domain.ActionBuy, CeilingPrice: 0.22, HypeScore: 9}
	assert.False(t, r.PreTradeCheck(cand, thin, nil).OK())

	wide := domain.Decision{Action: domain.ActionBuy, CeilingPrice: 0.30, HypeScore: 9}
	assert.True(t, r.PreTradeCheck(cand, wide, nil).OK())
}

func TestPriceStillAcceptable(t *testing.T) {
	r := newTestRisk(t)

	cand := domain.Candidate{TokenID: "tok", Question: "q", Category: domain.CategoryEconomics, Price: 0.20}
	dec := domain.Decision{Action: domain.ActionBuy, CeilingPrice: 0.30}

	assert.True(t, r.PriceStillAcceptable(cand, dec, 0.22))
	assert.False(t, r.PriceStillAcceptable(cand, dec, 0.29))
}
