package domain

import (
	"fmt"
	"time"
)

// PriceStats summarizes a token's recent price history, used by entry gates
// and by the dynamic target calculator.
type PriceStats struct {
	High     float64 // highest traded price in the window, rounded to 3dp
	Low      float64 // lowest traded price in the window
	Average  float64 // mean traded price in the window
	Change1h float64 // absolute price change over the last hour
}

// RangePct returns the historical high-low range as a percentage of the
// average price. Zero when no history is available.
func (s PriceStats) RangePct() float64 {
	if s.Average <= 0 {
		return 0
	}
	return (s.High - s.Low) / s.Average * 100
}

// InLowerHalf reports whether price sits in the cheap half of the
// historical range. Prices within 8% of the historical low also qualify.
func (s PriceStats) InLowerHalf(price float64) bool {
	mid := (s.High + s.Low) / 2
	return price <= mid || price <= s.Low*1.08
}

// NearLow reports whether price is within 5% of the historical low.
func (s PriceStats) NearLow(price float64) bool {
	return price <= s.Low*1.05
}

// Candidate is a single outcome token surfaced by the scanner for one pass
// through the trade consumer. It is immutable after construction and is
// discarded after evaluation, whether bought or rejected.
type Candidate struct {
	MarketID string
	TokenID  string
	EventID  string
	Outcome  string
	Question string
	Category Category

	Price        float64 // last observed price when scanned
	BestBid      float64
	BestAsk      float64
	SpreadPct    float64 // (ask-bid)/ask * 100
	BidLiquidity float64 // sum of price*size over the bid side, in USDC

	Stats    PriceStats
	EndDate  time.Time
	DaysLeft float64

	// Context carries free-form market context forwarded to the oracle
	// (related outcomes, event description, volume).
	Context string

	DiscoveredAt time.Time
}

// NewCandidate validates required identity fields at construction so that
// downstream stages never see a half-built candidate.
func NewCandidate(c Candidate) (Candidate, error) {
	switch {
	case c.MarketID == "":
		return Candidate{}, fmt.Errorf("domain: candidate missing market id: %w", ErrInvalidOrder)
	case c.TokenID == "":
		return Candidate{}, fmt.Errorf("domain: candidate missing token id: %w", ErrInvalidOrder)
	case c.Question == "":
		return Candidate{}, fmt.Errorf("domain: candidate missing question: %w", ErrInvalidOrder)
	case c.Price <= 0 || c.Price >= 1:
		return Candidate{}, fmt.Errorf("domain: candidate price %.4f out of (0,1): %w", c.Price, ErrInvalidOrder)
	}
	if c.DiscoveredAt.IsZero() {
		c.DiscoveredAt = time.Now().UTC()
	}
	return c, nil
}

// DedupKey is the identity under which a candidate is deduplicated.
func (c Candidate) DedupKey() string {
	return c.MarketID + "|" + c.TokenID
}
