package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// OrderStatus tracks the order lifecycle as reported by the exchange.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusLive      OrderStatus = "live"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is one order submitted to the exchange, recorded for audit.
type Order struct {
	ID        string // client order ID (UUID)
	Exchange  string // exchange-assigned order ID, empty until accepted
	TokenID   string
	MarketID  string
	Side      OrderSide
	Type      OrderType
	Price     float64
	Size      float64 // shares
	Status    OrderStatus
	Signature string // EIP-712 hex
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderResult wraps the exchange response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Status      OrderStatus
	Message     string
	ShouldRetry bool // transient failure, safe to resubmit
}
