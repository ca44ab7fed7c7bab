package domain

import "time"

// Event groups related markets under one real-world happening. The per-event
// exposure cap keys on its ID.
type Event struct {
	ID        string
	Title     string
	Category  Category
	StartDate *time.Time
	EndDate   time.Time
	Volume    float64
	Markets   []Market
}

// Market is a single binary-outcome market within an event.
type Market struct {
	ID       string
	EventID  string
	Question string
	Outcomes [2]string // e.g. ["Yes","No"]
	TokenIDs [2]string // ERC-1155 token IDs (76-digit strings)
	EndDate  time.Time
	Volume   float64
	Active   bool
}

// Book is a point-in-time view of one token's order book, reduced to what
// entry/exit logic needs.
type Book struct {
	BestBid      float64
	BestAsk      float64
	BidLiquidity float64 // sum of price*size over bids, in USDC
}

// SpreadPct returns the bid/ask spread as a percentage of the ask.
func (b Book) SpreadPct() float64 {
	if b.BestAsk <= 0 {
		return 0
	}
	return (b.BestAsk - b.BestBid) / b.BestAsk * 100
}

// PricePoint is one sample of a token's trade-price history.
type PricePoint struct {
	TS    time.Time
	Price float64
}
