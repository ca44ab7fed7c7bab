package scanner

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
)

// FilterConfig carries every threshold the eligibility chain applies.
type FilterConfig struct {
	SkipTitlePatterns []string
	MinPrice          float64
	MaxEntryPrice     float64
	MinBidLiquidity   float64
	MinRangePct       float64
	MinChange1h       float64 // 0 disables the volatility floor

	MinDaysDefault    float64
	MinDaysPreferred  float64
	MinDaysHighRisk   float64
	MinDaysPriceEvent float64
}

// defaultSkipPatterns are titles that are never tradable for this strategy
// regardless of configuration.
var defaultSkipPatterns = []string{"up or down"}

// sportMarkers suggest a title describes a live sporting event.
var sportMarkers = []string{" vs ", " vs. ", "winner", "o/u", "points", "goals"}

// sportStaleWindow is how long after kickoff a sport market is still worth
// scanning; in-play prices move too fast for this engine after that.
const sportStaleWindow = 4 * time.Hour

// filterTitle rejects excluded title patterns.
func (f FilterConfig) filterTitle(title string) domain.FilterResult {
	lower := strings.ToLower(title)
	for _, pat := range defaultSkipPatterns {
		if strings.Contains(lower, pat) {
			return domain.Skip("excluded title pattern: " + pat)
		}
	}
	for _, pat := range f.SkipTitlePatterns {
		if pat != "" && strings.Contains(lower, strings.ToLower(pat)) {
			return domain.Skip("excluded title pattern: " + pat)
		}
	}
	return domain.Accept()
}

// filterSportStaleness skips sport events well past kickoff.
func (f FilterConfig) filterSportStaleness(title string, start *time.Time, now time.Time) domain.FilterResult {
	if start == nil {
		return domain.Accept()
	}
	lower := strings.ToLower(title)
	for _, m := range sportMarkers {
		if strings.Contains(lower, m) {
			if now.After(start.Add(sportStaleWindow)) {
				return domain.Skip("sport event stale, started " + start.Format(time.RFC3339))
			}
			return domain.Accept()
		}
	}
	return domain.Accept()
}

// filterPriceBand keeps entry prices inside the configured band.
func (f FilterConfig) filterPriceBand(price float64) domain.FilterResult {
	if price < f.MinPrice || price > f.MaxEntryPrice {
		return domain.Skip(fmt.Sprintf("price %.3f outside [%.2f, %.2f]", price, f.MinPrice, f.MaxEntryPrice))
	}
	return domain.Accept()
}

// filterLiquidity requires enough bid-side depth to exit into.
func (f FilterConfig) filterLiquidity(bidLiquidity float64) domain.FilterResult {
	if bidLiquidity < f.MinBidLiquidity {
		return domain.Skip(fmt.Sprintf("bid liquidity $%.2f below $%.2f", bidLiquidity, f.MinBidLiquidity))
	}
	return domain.Accept()
}

// filterDaysLeft applies the days-to-resolution floor for the candidate's
// risk tier.
func (f FilterConfig) filterDaysLeft(daysLeft float64, category domain.Category, question string) domain.FilterResult {
	min := f.MinDaysDefault
	switch {
	case category.IsPreferred():
		min = f.MinDaysPreferred
	case category.IsHighRisk() && domain.IsPriceEvent(question):
		min = f.MinDaysPriceEvent
	case category.IsHighRisk():
		min = f.MinDaysHighRisk
	}
	if daysLeft < min {
		return domain.Skip(fmt.Sprintf("%.2f days to resolution, tier floor %.2f", daysLeft, min))
	}
	return domain.Accept()
}

// filterRange requires a minimum historical price range; flat markets offer
// no room for the target to fill.
func (f FilterConfig) filterRange(stats domain.PriceStats) domain.FilterResult {
	if rp := stats.RangePct(); rp < f.MinRangePct {
		return domain.Skip(fmt.Sprintf("range %.1f%% below %.1f%%", rp, f.MinRangePct))
	}
	return domain.Accept()
}

// filterChange1h optionally requires recent movement.
func (f FilterConfig) filterChange1h(stats domain.PriceStats) domain.FilterResult {
	if f.MinChange1h <= 0 {
		return domain.Accept()
	}
	if math.Abs(stats.Change1h) < f.MinChange1h {
		return domain.Skip(fmt.Sprintf("1h change %.4f below %.4f", stats.Change1h, f.MinChange1h))
	}
	return domain.Accept()
}
