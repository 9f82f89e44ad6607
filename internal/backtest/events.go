// Package backtest replays candle windows through the strategy rules and
// grid-searches their parameters.
package backtest

import (
	"time"

	"fxtrader/internal/model"
)

// Signal is one simulated fill.
type Signal struct {
	Time  time.Time  `json:"time"`
	Side  model.Side `json:"side"`
	Price float64    `json:"price"`
	Units float64    `json:"units"`
}

// Events is an alternating buy/sell ledger. A buy is only accepted when flat
// and a sell only when holding, so the ledger always reads buy, sell, buy...
type Events struct {
	Instrument string   `json:"instrument"`
	Signals    []Signal `json:"signals"`
}

// Buy records a buy; false when already holding.
func (e *Events) Buy(t time.Time, price, units float64) bool {
	if n := len(e.Signals); n > 0 && e.Signals[n-1].Side == model.Buy {
		return false
	}
	e.Signals = append(e.Signals, Signal{Time: t, Side: model.Buy, Price: price, Units: units})
	return true
}

// Sell records a sell; false when not holding.
func (e *Events) Sell(t time.Time, price, units float64) bool {
	n := len(e.Signals)
	if n == 0 || e.Signals[n-1].Side != model.Buy {
		return false
	}
	e.Signals = append(e.Signals, Signal{Time: t, Side: model.Sell, Price: price, Units: units})
	return true
}

// Profit sums completed round trips. An open trailing buy is ignored.
func (e *Events) Profit() float64 {
	var total, realized float64
	holding := false
	for _, s := range e.Signals {
		switch s.Side {
		case model.Buy:
			total -= s.Price * s.Units
			holding = true
		case model.Sell:
			total += s.Price * s.Units
			holding = false
			realized = total
		}
	}
	if holding {
		return realized
	}
	return total
}
