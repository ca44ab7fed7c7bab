// Package polymarket contains REST and WebSocket clients for the Polymarket
// Gamma (discovery) and CLOB (trading) APIs, plus the wire types they speak.
package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
)

// --------------------------------------------------------------------------
// Gamma API types
// --------------------------------------------------------------------------

// APIEvent is an event as returned by the Gamma /events endpoint.
type APIEvent struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Slug      string      `json:"slug"`
	Category  string      `json:"category"`
	StartDate string      `json:"startDate"`
	EndDate   string      `json:"endDate"`
	Volume    json.Number `json:"volume"`
	Tags      []APITag    `json:"tags"`
	Markets   []APIMarket `json:"markets"`
}

// APITag is a topical tag attached to an event.
type APITag struct {
	Label string `json:"label"`
}

// APIMarket is a market as returned inside a Gamma event.
type APIMarket struct {
	ID            string      `json:"id"`
	Question      string      `json:"question"`
	EndDate       string      `json:"endDate"`
	Outcomes      string      `json:"outcomes"`      // JSON-encoded array, e.g. `["Yes","No"]`
	ClobTokenIDs  string      `json:"clobTokenIds"`  // JSON-encoded array of token IDs
	Volume        json.Number `json:"volume"`
	Active        bool        `json:"active"`
	Closed        bool        `json:"closed"`
}

// ToDomainEvent converts an APIEvent and its markets to the domain model.
func (e *APIEvent) ToDomainEvent() domain.Event {
	ev := domain.Event{
		ID:       e.ID,
		Title:    e.Title,
		Category: domain.Category(e.resolvedCategory()),
		EndDate:  parseAPITime(e.EndDate),
		Volume:   numToFloat(e.Volume),
	}
	if t := parseAPITime(e.StartDate); !t.IsZero() {
		ev.StartDate = &t
	}
	for i := range e.Markets {
		m := e.Markets[i].ToDomainMarket()
		m.EventID = e.ID
		ev.Markets = append(ev.Markets, m)
	}
	return ev
}

// resolvedCategory prefers the explicit category field and falls back to the
// first recognized tag label.
func (e *APIEvent) resolvedCategory() string {
	if e.Category != "" {
		return e.Category
	}
	for _, t := range e.Tags {
		switch t.Label {
		case "Sports", "Elections", "Politics", "Crypto", "Business", "Tech", "Economics", "Geopolitics", "Earnings":
			return t.Label
		}
	}
	return "Other"
}

// ToDomainMarket converts an APIMarket to the domain model.
func (m *APIMarket) ToDomainMarket() domain.Market {
	out := domain.Market{
		ID:       m.ID,
		Question: m.Question,
		EndDate:  parseAPITime(m.EndDate),
		Volume:   numToFloat(m.Volume),
		Active:   m.Active && !m.Closed,
	}

	var outcomes []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err == nil && len(outcomes) >= 2 {
		out.Outcomes = [2]string{outcomes[0], outcomes[1]}
	}
	var tokens []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokens); err == nil && len(tokens) >= 2 {
		out.TokenIDs = [2]string{tokens[0], tokens[1]}
	}

	return out
}

// --------------------------------------------------------------------------
// CLOB API types
// --------------------------------------------------------------------------

// APIBookLevel is one price level of the order book.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the /book response for one token.
type APIBook struct {
	AssetID string         `json:"asset_id"`
	Bids    []APIBookLevel `json:"bids"`
	Asks    []APIBookLevel `json:"asks"`
}

// ToDomainBook reduces the full book to best bid, best ask, and bid-side
// liquidity in USDC.
func (b *APIBook) ToDomainBook() domain.Book {
	var out domain.Book
	for _, lvl := range b.Bids {
		p, errP := strconv.ParseFloat(lvl.Price, 64)
		s, errS := strconv.ParseFloat(lvl.Size, 64)
		if errP != nil || errS != nil {
			continue
		}
		out.BidLiquidity += p * s
		if p > out.BestBid {
			out.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if out.BestAsk == 0 || p < out.BestAsk {
			out.BestAsk = p
		}
	}
	return out
}

// FirstDeepAsk returns the lowest ask whose notional (price*size) meets
// minNotional, falling back to the best ask, else 0. Quoting against a
// sliver ask produces unfillable limit prices.
func (b *APIBook) FirstDeepAsk(minNotional float64) float64 {
	bestAsk := 0.0
	deepAsk := 0.0
	for _, lvl := range b.Asks {
		p, errP := strconv.ParseFloat(lvl.Price, 64)
		s, errS := strconv.ParseFloat(lvl.Size, 64)
		if errP != nil || errS != nil {
			continue
		}
		if bestAsk == 0 || p < bestAsk {
			bestAsk = p
		}
		if p*s >= minNotional && (deepAsk == 0 || p < deepAsk) {
			deepAsk = p
		}
	}
	if deepAsk > 0 {
		return deepAsk
	}
	return bestAsk
}

// APIPricePoint is one sample in the /prices-history response.
type APIPricePoint struct {
	T int64   `json:"t"` // Unix seconds
	P float64 `json:"p"`
}

// APIOrderResult is the CLOB response to order submission.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// ToDomainOrderResult maps the API response to the domain result, including
// the transient/terminal classification used by the retry policy.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	return domain.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Status:      mapOrderStatus(r.Status),
		Message:     r.ErrorMsg,
		ShouldRetry: IsTransientOrderError(r.ErrorMsg),
	}
}

// APIOrderStatus is the CLOB response for a single order lookup.
type APIOrderStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	SizeMatched  string `json:"size_matched"`
	OriginalSize string `json:"original_size"`
}

// mapOrderStatus normalizes the CLOB's status strings.
func mapOrderStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "filled", "matched":
		return domain.OrderStatusMatched
	case "live", "open", "pending", "delayed":
		return domain.OrderStatusLive
	case "cancelled", "canceled":
		return domain.OrderStatusCancelled
	case "":
		return domain.OrderStatusPending
	default:
		return domain.OrderStatusFailed
	}
}

// transientMarkers identify order rejections that are safe to retry.
var transientMarkers = []string{
	"service not ready",
	"too early",
	"request exception",
	"timeout",
	"timed out",
	"temporarily unavailable",
}

// terminalMarkers identify rejections that retrying can never fix.
var terminalMarkers = []string{
	"not enough balance",
	"insufficient balance",
	"allowance",
}

// IsTransientOrderError classifies an order rejection message. Terminal
// markers win: an allowance failure stays terminal even when the message
// also mentions a timeout.
func IsTransientOrderError(msg string) bool {
	m := strings.ToLower(msg)
	if m == "" {
		return false
	}
	for _, t := range terminalMarkers {
		if strings.Contains(m, t) {
			return false
		}
	}
	for _, t := range transientMarkers {
		if strings.Contains(m, t) {
			return true
		}
	}
	return false
}

// IsBalanceError reports whether an order rejection names a balance or
// allowance problem.
func IsBalanceError(msg string) bool {
	m := strings.ToLower(msg)
	for _, t := range terminalMarkers {
		if strings.Contains(m, t) {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// WebSocket wire types
// --------------------------------------------------------------------------

// WSCommand is the subscribe/unsubscribe message for the market channel.
type WSCommand struct {
	AssetIDs  []string `json:"assets_ids"`
	Type      string   `json:"type"`      // always "market"
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}

// WSBookMessage is the book summary pushed on the market channel.
type WSBookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
}

// WSLastTradeMessage carries the most recent trade price for a token.
type WSLastTradeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
}

// --------------------------------------------------------------------------
// Shared helpers
// --------------------------------------------------------------------------

// parseAPITime handles the timestamp layouts the APIs emit.
func parseAPITime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func numToFloat(n json.Number) float64 {
	f, _ := n.Float64()
	return f
}
