package model

import (
	"context"
	"errors"
)

// ── Port Interfaces ──
// These decouple the trading core from concrete broker and storage
// implementations (REST/WS broker client, paper broker, SQLite).

// TickHandler receives every tick from a pricing stream.
type TickHandler func(Tick)

// BrokerGateway is the capability the engine trades through.
type BrokerGateway interface {
	// GetBalance returns the latest account snapshot.
	GetBalance(ctx context.Context) (Balance, error)

	// GetOpenTrades lists open trades; an empty instrument means all.
	GetOpenTrades(ctx context.Context, instrument string) ([]Trade, error)

	// SendOrder submits an order and blocks until it is filled or the
	// bounded fill wait expires (ErrOrderTimeout). An order that did not
	// fill is cancelled before returning; ErrOrderUnresolved reports a
	// failed cancel.
	SendOrder(ctx context.Context, order Order) (Trade, error)

	// SendStopOrder places a resting stop; the returned TradeID is the order id.
	SendStopOrder(ctx context.Context, order Order) (Trade, error)

	// CancelStopOrder reports whether the stop order was cancelled.
	CancelStopOrder(ctx context.Context, instrument, orderID string) bool

	// CloseTrade closes an open trade at market.
	CloseTrade(ctx context.Context, tradeID string) (Trade, error)

	// StreamTicks calls fn for every tick until ctx is cancelled.
	// Transient disconnects are retried a bounded number of times;
	// the returned error is the permanent failure.
	StreamTicks(ctx context.Context, instruments []string, fn TickHandler) error
}

// CandleStore persists candles keyed by (instrument, duration, bucket).
type CandleStore interface {
	// GetRecentCandles returns up to limit candles, oldest first.
	GetRecentCandles(ctx context.Context, instrument string, d Duration, limit int) ([]Candle, error)

	// UpsertFromTick folds a tick into its bucket; created is true when
	// the tick opened a new bucket.
	UpsertFromTick(ctx context.Context, instrument string, d Duration, tick Tick) (created bool, err error)
}

// Broker error taxonomy. Gateways wrap these so callers can use errors.Is.
var (
	// ErrUnauthorized is a permanent credential/permission failure.
	ErrUnauthorized = errors.New("broker: unauthorized")
	// ErrTransient covers network, rate-limit and 5xx failures.
	ErrTransient = errors.New("broker: transient failure")
	// ErrOrderTimeout means a fill was not observed within the poll budget.
	ErrOrderTimeout = errors.New("broker: order fill timeout")
	// ErrRejected is a business rejection (insufficient margin, bad units).
	ErrRejected = errors.New("broker: order rejected")
	// ErrNotFound means the broker does not know the trade or order id.
	// Gateways wrap it together with ErrRejected.
	ErrNotFound = errors.New("broker: not found")
	// ErrOrderUnresolved means an unfilled order could not be cancelled
	// and may still fill at the broker.
	ErrOrderUnresolved = errors.New("broker: order left working")
)

// IsPermanent reports whether err must halt the engine.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
