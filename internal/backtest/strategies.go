package backtest

import (
	"fxtrader/internal/indicator"
	"fxtrader/internal/model"
)

const (
	unit         = 1.0
	ichimokuSpan = 52
	noSellStop   = 1e9
)

// Runner evaluates strategies over one ascending candle window.
type Runner struct {
	instrument string
	candles    []model.Candle
	s          model.Series
}

// NewRunner prepares a window for repeated backtests.
func NewRunner(instrument string, candles []model.Candle) *Runner {
	return &Runner{instrument: instrument, candles: candles, s: model.SeriesOf(candles)}
}

// Len returns the number of candles in the window.
func (r *Runner) Len() int { return len(r.candles) }

func (r *Runner) events() *Events { return &Events{Instrument: r.instrument} }

// EMA trades fast/slow EMA crosses. Nil when the window is too short.
func (r *Runner) EMA(fast, slow int) *Events {
	n := len(r.candles)
	if n <= fast || n <= slow {
		return nil
	}
	ev := r.events()
	f := indicator.EMA(r.s.Closes, fast)
	sl := indicator.EMA(r.s.Closes, slow)
	for i := 1; i < n; i++ {
		if i < fast || i < slow {
			continue
		}
		c := r.candles[i]
		if f[i-1] < sl[i-1] && f[i] >= sl[i] {
			ev.Buy(c.Time, c.Close, unit)
		}
		if f[i-1] > sl[i-1] && f[i] <= sl[i] {
			ev.Sell(c.Time, c.Close, unit)
		}
	}
	return ev
}

// Bollinger buys a close back above the lower band and sells a close back
// under the upper band.
func (r *Runner) Bollinger(period int, k float64) *Events {
	n := len(r.candles)
	if n <= period {
		return nil
	}
	ev := r.events()
	up, _, down := indicator.BollingerBands(r.s.Closes, period, k)
	for i := 1; i < n; i++ {
		if i < period {
			continue
		}
		prev, c := r.candles[i-1], r.candles[i]
		if down[i-1] > prev.Close && down[i] <= c.Close {
			ev.Buy(c.Time, c.Close, unit)
		}
		if up[i-1] < prev.Close && up[i] >= c.Close {
			ev.Sell(c.Time, c.Close, unit)
		}
	}
	return ev
}

// ATR enters on a k1 band breakout and exits when the low (high) pierces a
// stop that ratchets along the k2 band.
func (r *Runner) ATR(period int, k1, k2 float64) *Events {
	n := len(r.candles)
	if n <= period {
		return nil
	}
	ev := r.events()
	up1, dn1 := indicator.ATRBands(r.s.Highs, r.s.Lows, r.s.Closes, period, k1)
	up2, dn2 := indicator.ATRBands(r.s.Highs, r.s.Lows, r.s.Closes, period, k2)

	long, short := false, false
	buyStop, sellStop := 0.0, noSellStop
	for i := 1; i < n; i++ {
		if i < period {
			continue
		}
		prev, c := r.candles[i-1], r.candles[i]
		if long && c.Low < buyStop {
			ev.Sell(c.Time, buyStop, unit)
			long, buyStop = false, 0
		}
		if short && c.High > sellStop {
			ev.Buy(c.Time, sellStop, unit)
			short, sellStop = false, noSellStop
		}
		if long {
			buyStop = max(buyStop, up2[i])
		}
		if short {
			sellStop = min(sellStop, dn2[i])
		}
		if up1[i-1] > prev.Close && up1[i] <= c.Close {
			ev.Buy(c.Time, c.Close, unit)
			long, buyStop = true, up2[i]
		}
		if dn1[i-1] < prev.Close && dn1[i] >= c.Close {
			ev.Sell(c.Time, c.Close, unit)
			short, sellStop = true, dn2[i]
		}
	}
	return ev
}

// Ichimoku trades the three-signal turn (chikou cross, price clear of the
// cloud, tenkan over kijun) in either direction.
func (r *Runner) Ichimoku() *Events {
	n := len(r.candles)
	if n <= ichimokuSpan {
		return nil
	}
	ev := r.events()
	ic := indicator.IchimokuCloud(r.s.Closes)
	for i := 1; i < n; i++ {
		switch IchimokuSignal(ic, r.candles, i) {
		case model.Buy:
			ev.Buy(r.candles[i].Time, r.candles[i].Close, unit)
		case model.Sell:
			ev.Sell(r.candles[i].Time, r.candles[i].Close, unit)
		}
	}
	return ev
}

// IchimokuSignal returns Buy for 三役好転, Sell for 三役逆転 at bar i, or "".
func IchimokuSignal(ic indicator.Ichimoku, candles []model.Candle, i int) model.Side {
	if i < 1 || i >= len(candles) {
		return ""
	}
	prev, c := candles[i-1], candles[i]
	if ic.Chikou[i-1] < prev.High && ic.Chikou[i] >= c.High &&
		ic.SenkouA[i] < c.Low && ic.SenkouB[i] < c.Low &&
		ic.Tenkan[i] > ic.Kijun[i] {
		return model.Buy
	}
	if ic.Chikou[i-1] > prev.Low && ic.Chikou[i] <= c.Low &&
		ic.SenkouA[i] > c.High && ic.SenkouB[i] > c.High &&
		ic.Tenkan[i] < ic.Kijun[i] {
		return model.Sell
	}
	return ""
}

// RSI buys the cross back over buy and sells the cross back under sell.
// Saturated readings (0 or 100) on the prior bar are skipped.
func (r *Runner) RSI(period int, buy, sell float64) *Events {
	n := len(r.candles)
	if n <= period {
		return nil
	}
	ev := r.events()
	v := indicator.RSI(r.s.Closes, period)
	for i := 1; i < n; i++ {
		if v[i-1] == 0 || v[i-1] == 100 {
			continue
		}
		c := r.candles[i]
		if v[i-1] < buy && v[i] >= buy {
			ev.Buy(c.Time, c.Close, unit)
		}
		if v[i-1] > sell && v[i] <= sell {
			ev.Sell(c.Time, c.Close, unit)
		}
	}
	return ev
}

// MACD buys a signal-line cross below zero and sells one above zero.
func (r *Runner) MACD(fast, slow, signal int) *Events {
	n := len(r.candles)
	if n <= fast || n <= slow || n <= signal {
		return nil
	}
	ev := r.events()
	m, sig, _ := indicator.MACD(r.s.Closes, fast, slow, signal)
	for i := 1; i < n; i++ {
		c := r.candles[i]
		if m[i] < 0 && sig[i] < 0 && m[i-1] < sig[i-1] && m[i] >= sig[i] {
			ev.Buy(c.Time, c.Close, unit)
		}
		if m[i] > 0 && sig[i] > 0 && m[i-1] > sig[i-1] && m[i] <= sig[i] {
			ev.Sell(c.Time, c.Close, unit)
		}
	}
	return ev
}
