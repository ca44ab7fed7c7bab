package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantleap/polyrunner/internal/domain"
)

func testFilters() FilterConfig {
	return FilterConfig{
		SkipTitlePatterns: []string{"recession in"},
		MinPrice:          0.10,
		MaxEntryPrice:     0.75,
		MinBidLiquidity:   20.0,
		MinRangePct:       8.0,
		MinChange1h:       0,
		MinDaysDefault:    1.0,
		MinDaysPreferred:  0.5,
		MinDaysHighRisk:   1.2,
		MinDaysPriceEvent: 1.5,
	}
}

func TestFilterTitle(t *testing.T) {
	f := testFilters()

	// Built-in exclusions apply regardless of configuration, case
	// insensitively.
	assert.False(t, f.filterTitle("Bitcoin Up or Down - June 3, 3PM ET").OK())
	assert.False(t, f.filterTitle("Recession in 2025?").OK())
	assert.True(t, f.filterTitle("Will the Fed cut rates in June?").OK())
}

func TestFilterSportStaleness(t *testing.T) {
	f := testFilters()
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	kickoff := now.Add(-5 * time.Hour)
	assert.False(t, f.filterSportStaleness("Lakers vs Celtics winner", &kickoff, now).OK())

	recent := now.Add(-time.Hour)
	assert.True(t, f.filterSportStaleness("Lakers vs Celtics winner", &recent, now).OK())

	// Non-sport titles are exempt even long after the start time.
	assert.True(t, f.filterSportStaleness("Will the Fed cut rates?", &kickoff, now).OK())

	// Missing start time never disqualifies.
	assert.True(t, f.filterSportStaleness("Lakers vs Celtics winner", nil, now).OK())
}

func TestFilterPriceBand(t *testing.T) {
	f := testFilters()

	assert.False(t, f.filterPriceBand(0.05).OK())
	assert.False(t, f.filterPriceBand(0.80).OK())
	assert.True(t, f.filterPriceBand(0.10).OK())
	assert.True(t, f.filterPriceBand(0.75).OK())
	assert.True(t, f.filterPriceBand(0.42).OK())
}

func TestFilterLiquidity(t *testing.T) {
	f := testFilters()

	assert.False(t, f.filterLiquidity(19.99).OK())
	assert.True(t, f.filterLiquidity(20.0).OK())
}

func TestFilterDaysLeftTiers(t *testing.T) {
	f := testFilters()

	assert.True(t, f.filterDaysLeft(0.6, domain.CategorySports, "Will the team win?").OK())
	assert.False(t, f.filterDaysLeft(0.4, domain.CategorySports, "Will the team win?").OK())

	assert.False(t, f.filterDaysLeft(1.0, domain.CategoryCrypto, "Will it happen?").OK())
	assert.True(t, f.filterDaysLeft(1.3, domain.CategoryCrypto, "Will it happen?").OK())

	// High-risk price events take the widest floor.
	assert.False(t, f.filterDaysLeft(1.3, domain.CategoryCrypto, "Will BTC reach $120k?").OK())
	assert.True(t, f.filterDaysLeft(1.6, domain.CategoryCrypto, "Will BTC reach $120k?").OK())

	assert.False(t, f.filterDaysLeft(0.9, domain.CategoryEarnings, "Will revenue beat?").OK())
	assert.True(t, f.filterDaysLeft(1.0, domain.CategoryEarnings, "Will revenue beat?").OK())
}

func TestFilterRange(t *testing.T) {
	f := testFilters()

	flat := domain.PriceStats{High: 0.32, Low: 0.30, Average: 0.31}
	assert.False(t, f.filterRange(flat).OK())

	wide := domain.PriceStats{High: 0.45, Low: 0.20, Average: 0.30}
	assert.True(t, f.filterRange(wide).OK())
}

func TestFilterChange1hDisabledByZero(t *testing.T) {
	f := testFilters()

	still := domain.PriceStats{Change1h: 0}
	assert.True(t, f.filterChange1h(still).OK())

	f.MinChange1h = 0.01
	assert.False(t, f.filterChange1h(still).OK())
	assert.True(t, f.filterChange1h(domain.PriceStats{Change1h: -0.02}).OK())
}
