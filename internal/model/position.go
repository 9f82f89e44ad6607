package model

import (
	"fmt"
	"time"
)

// SignalTag identifies the strategy that owns a position slice.
type SignalTag string

const (
	TagEMA SignalTag = "EMA"
	TagATR SignalTag = "ATR"
	TagADX SignalTag = "ADX"
)

// AllTags is the fixed evaluation order of the live strategies.
var AllTags = []SignalTag{TagEMA, TagATR, TagADX}

// ParseSignalTag validates a tag name.
func ParseSignalTag(s string) (SignalTag, error) {
	switch SignalTag(s) {
	case TagEMA, TagATR, TagADX:
		return SignalTag(s), nil
	}
	return "", fmt.Errorf("unknown signal tag %q", s)
}

// Position is one open trade leg owned by a strategy slice.
type Position struct {
	Instrument         string    `json:"instrument"`
	Side               Side      `json:"side"`
	Units              float64   `json:"units"`
	EntryPrice         float64   `json:"entry_price"`
	RequiredCollateral float64   `json:"required_collateral"`
	Tag                SignalTag `json:"tag"`
	StopLoss           float64   `json:"stop_loss,omitempty"` // 0 = no stop
	StopOrderID        string    `json:"stop_order_id,omitempty"`
	TradeID            string    `json:"trade_id"`
	OpenedAt           time.Time `json:"opened_at"`
}

// HasStop reports whether a stop-loss level is tracked for the position.
func (p Position) HasStop() bool {
	return p.StopLoss > 0
}
