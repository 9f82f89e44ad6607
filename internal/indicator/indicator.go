// Package indicator computes technical indicator series over an ascending
// candle window.
//
// Every function is pure and returns a series the same length as its input.
// Warm-up positions, and whole series whose input is shorter than the
// indicator needs, are zero-filled instead of NaN, so comparisons made by
// strategies never see NaN.
package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// placeholder is the zero-filled series returned for short inputs.
func placeholder(n int) []float64 {
	return make([]float64, n)
}

// sanitize maps NaN and ±Inf to zero in place.
func sanitize(src []float64) []float64 {
	for i, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			src[i] = 0
		}
	}
	return src
}

// EMA returns the exponential moving average of values.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return placeholder(len(values))
	}
	return sanitize(talib.Ema(values, period))
}

// ATR returns the average true range.
func ATR(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) <= period {
		return placeholder(len(closes))
	}
	return sanitize(talib.Atr(highs, lows, closes, period))
}

// ATRBands returns envelopes of k×ATR around an EMA midline of the same period.
func ATRBands(highs, lows, closes []float64, period int, k float64) (upper, lower []float64) {
	n := len(closes)
	if period <= 0 || n <= period {
		return placeholder(n), placeholder(n)
	}
	mid := EMA(closes, period)
	atr := ATR(highs, lows, closes, period)
	upper = make([]float64, n)
	lower = make([]float64, n)
	for i := range closes {
		upper[i] = mid[i] + atr[i]*k
		lower[i] = mid[i] - atr[i]*k
	}
	return upper, lower
}

// PlusMinusDI returns the +DI and -DI directional indicators.
func PlusMinusDI(highs, lows, closes []float64, period int) (plus, minus []float64) {
	n := len(closes)
	if period <= 0 || n <= period {
		return placeholder(n), placeholder(n)
	}
	return sanitize(talib.PlusDI(highs, lows, closes, period)),
		sanitize(talib.MinusDI(highs, lows, closes, period))
}

// ADXADXR returns the average directional index and its rating.
// ADX needs 2×period candles; ADXR needs about 3×period.
func ADXADXR(highs, lows, closes []float64, period int) (adx, adxr []float64) {
	n := len(closes)
	if period <= 0 || n < 2*period {
		return placeholder(n), placeholder(n)
	}
	adx = sanitize(talib.Adx(highs, lows, closes, period))
	if n < 3*period {
		return adx, placeholder(n)
	}
	return adx, sanitize(talib.AdxR(highs, lows, closes, period))
}

// RSI returns the relative strength index.
func RSI(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return placeholder(len(values))
	}
	return sanitize(talib.Rsi(values, period))
}

// MACD returns the MACD line, its signal line and the histogram.
// fast and slow are swapped when given in the wrong order.
func MACD(values []float64, fast, slow, signal int) (macd, macdSignal, hist []float64) {
	n := len(values)
	if fast > slow {
		fast, slow = slow, fast
	}
	if fast <= 0 || signal <= 0 || n < slow+signal {
		return placeholder(n), placeholder(n), placeholder(n)
	}
	macd, macdSignal, hist = talib.Macd(values, fast, slow, signal)
	return sanitize(macd), sanitize(macdSignal), sanitize(hist)
}

// BollingerBands returns SMA(period) ± k standard deviations.
func BollingerBands(values []float64, period int, k float64) (upper, mid, lower []float64) {
	n := len(values)
	if period <= 0 || n < period {
		return placeholder(n), placeholder(n), placeholder(n)
	}
	upper, mid, lower = talib.BBands(values, period, k, k, talib.SMA)
	return sanitize(upper), sanitize(mid), sanitize(lower)
}

// Tail returns the last n points of series, zero-padded at the front when
// series is shorter than n. The result is always exactly n long.
func Tail(series []float64, n int) []float64 {
	out := make([]float64, n)
	if len(series) >= n {
		copy(out, series[len(series)-n:])
		return out
	}
	copy(out[n-len(series):], series)
	return out
}
