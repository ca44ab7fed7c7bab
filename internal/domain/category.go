package domain

import "strings"

// Category is the market's topical grouping as reported by the discovery API.
type Category string

const (
	CategorySports      Category = "Sports"
	CategoryElections   Category = "Elections"
	CategoryPolitics    Category = "Politics"
	CategoryCrypto      Category = "Crypto"
	CategoryBusiness    Category = "Business"
	CategoryTech        Category = "Tech"
	CategoryEconomics   Category = "Economics"
	CategoryGeopolitics Category = "Geopolitics"
	CategoryEarnings    Category = "Earnings"
)

// IsPreferred reports whether the category belongs to the preferred tier,
// which gets relaxed entry requirements (lower edge, shorter minimum
// time-to-resolution, larger sizing fraction).
func (c Category) IsPreferred() bool {
	switch c {
	case CategorySports, CategoryElections, CategoryPolitics:
		return true
	}
	return false
}

// IsHighRisk reports whether the category belongs to the high-risk tier,
// which gets stricter entry requirements and a smaller sizing fraction.
func (c Category) IsHighRisk() bool {
	switch c {
	case CategoryCrypto, CategoryBusiness, CategoryTech, CategoryEconomics, CategoryGeopolitics:
		return true
	}
	return false
}

// IsBalanced reports whether the category is capped at a single position per
// parent event. These categories tend to list many near-identical outcomes
// under one event.
func (c Category) IsBalanced() bool {
	switch c {
	case CategorySports, CategoryCrypto, CategoryEarnings:
		return true
	}
	return false
}

// priceEventMarkers are title fragments that identify markets resolving on a
// numeric price level rather than a discrete real-world outcome.
var priceEventMarkers = []string{"price of", "reach $", "hit $", "close above", "close below", "all-time high"}

// IsPriceEvent reports whether a market title describes a price-level market.
// Price-level markets whipsaw near resolution, so they carry a longer
// minimum time-to-resolution and a higher edge requirement.
func IsPriceEvent(title string) bool {
	t := strings.ToLower(title)
	for _, m := range priceEventMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
