// Package exchange defines a common abstraction for order execution.
// This keeps the agent's trading loop independent of the venue backend:
// a real futures account and simulation mode are interchangeable.
package exchange

import (
	"time"

	"quanta/internal/market"
)

// OrderRequest contains parameters for a single order.
type OrderRequest struct {
	Symbol      string      // e.g. "BTCUSDT"
	Side        market.Side // BUY or SELL
	Quantity    float64     // base-asset quantity; the venue rounds to its lot step
	Price       float64     // limit price, ignored for market orders
	TimeInForce string      // "GTC", "IOC", "FOK"; empty means GTC
	ReduceOnly  bool        // close-only order, never increases exposure
	ClientID    string      // client order id, generated when empty
}

// OrderResult is the venue's acknowledgement of an order.
type OrderResult struct {
	OrderID     int64
	ClientID    string
	Symbol      string
	Side        market.Side
	Quantity    float64 // executed quantity (may be 0 for a resting limit order)
	AvgPrice    float64 // average fill price (0 until filled)
	Status      string
	SubmittedAt time.Time
}

// Account is a snapshot of venue balances in the quote currency.
type Account struct {
	Asset     string // e.g. "USDT"
	Balance   float64
	Available float64
	UpdatedAt time.Time
}
