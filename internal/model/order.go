package model

import "time"

// Side is the direction of an order, trade or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType is the broker order type.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderStop   OrderType = "STOP"
	OrderTrail  OrderType = "TRAIL"
)

// Order is the wire shape sent to a BrokerGateway.
// For TRAIL orders Price carries the trailing distance; for STOP orders the trigger.
type Order struct {
	Instrument    string    `json:"instrument"`
	Side          Side      `json:"side"`
	Units         float64   `json:"units"`
	Type          OrderType `json:"type"`
	Price         float64   `json:"price,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
}

// Trade is the broker's view of a filled order or stop order.
type Trade struct {
	TradeID    string    `json:"trade_id"`
	Instrument string    `json:"instrument,omitempty"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	Units      float64   `json:"units"`
	OpenTime   time.Time `json:"open_time,omitempty"`
}

// Balance is a point-in-time account snapshot.
type Balance struct {
	Currency           string    `json:"currency"`
	Available          float64   `json:"available"`
	RequiredCollateral float64   `json:"required_collateral"`
	FetchedAt          time.Time `json:"fetched_at"`
}
