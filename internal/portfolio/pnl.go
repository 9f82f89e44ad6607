package portfolio

import (
	"sync"
	"time"

	"fxtrader/internal/model"
)

// ClosedTrade is a realised round trip.
type ClosedTrade struct {
	Instrument string          `json:"instrument"`
	Tag        model.SignalTag `json:"tag"`
	Side       model.Side      `json:"side"`
	Units      float64         `json:"units"`
	EntryPrice float64         `json:"entry_price"`
	ExitPrice  float64         `json:"exit_price"`
	PnL        float64         `json:"pnl"` // account currency
	ClosedAt   time.Time       `json:"closed_at"`
}

// PnLTracker accumulates realised P&L per signal tag.
type PnLTracker struct {
	mu     sync.RWMutex
	trades []ClosedTrade
	byTag  map[model.SignalTag]float64
	total  float64
}

// NewPnLTracker creates a new P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		trades: make([]ClosedTrade, 0, 64),
		byTag:  make(map[model.SignalTag]float64),
	}
}

// RecordClose books the exit of p at exitPrice and returns the realised P&L.
func (t *PnLTracker) RecordClose(p model.Position, exitPrice, fx float64, at time.Time) ClosedTrade {
	diff := exitPrice - p.EntryPrice
	if p.Side == model.Sell {
		diff = -diff
	}
	ct := ClosedTrade{
		Instrument: p.Instrument,
		Tag:        p.Tag,
		Side:       p.Side,
		Units:      p.Units,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        diff * p.Units * fx,
		ClosedAt:   at,
	}

	t.mu.Lock()
	t.trades = append(t.trades, ct)
	t.byTag[p.Tag] += ct.PnL
	t.total += ct.PnL
	t.mu.Unlock()
	return ct
}

// PnLSummary is the realised P&L breakdown.
type PnLSummary struct {
	RealizedPnL float64                     `json:"realized_pnl"`
	ByTag       map[model.SignalTag]float64 `json:"by_tag"`
	TotalTrades int                         `json:"total_trades"`
}

// GetSummary returns the current P&L summary.
func (t *PnLTracker) GetSummary() PnLSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byTag := make(map[model.SignalTag]float64, len(t.byTag))
	for k, v := range t.byTag {
		byTag[k] = v
	}
	return PnLSummary{RealizedPnL: t.total, ByTag: byTag, TotalTrades: len(t.trades)}
}

// GetTrades returns a snapshot of all closed trades.
func (t *PnLTracker) GetTrades() []ClosedTrade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make([]ClosedTrade, len(t.trades))
	copy(cp, t.trades)
	return cp
}
