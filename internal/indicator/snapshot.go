package indicator

import (
	"fxtrader/internal/model"
)

// Window lengths kept in a Snapshot.
const (
	CrossWindow = 2 // prior + current bar
	TrendWindow = 4 // ADX exhaustion needs three consecutive drops
)

// Params are the live indicator settings shared by the three strategies.
type Params struct {
	EMAFast   int     `json:"ema_fast" yaml:"ema_fast"`
	EMAMid    int     `json:"ema_mid" yaml:"ema_mid"`
	EMASlow   int     `json:"ema_slow" yaml:"ema_slow"`
	ADXPeriod int     `json:"adx_period" yaml:"adx_period"`
	ATRPeriod int     `json:"atr_period" yaml:"atr_period"`
	ATRK1     float64 `json:"atr_k1" yaml:"atr_k1"` // breakout band width
	ATRK2     float64 `json:"atr_k2" yaml:"atr_k2"` // stop band width
}

// DefaultParams returns the reference live settings.
func DefaultParams() Params {
	return Params{
		EMAFast:   5,
		EMAMid:    25,
		EMASlow:   50,
		ADXPeriod: 14,
		ATRPeriod: 14,
		ATRK1:     2.0,
		ATRK2:     0.3,
	}
}

// Snapshot is the trailing window of every series a strategy looks at for one
// instrument in one evaluation cycle. All slices are fixed length, oldest first.
type Snapshot struct {
	Instrument string
	Closes     []float64 // CrossWindow
	LastCandle model.Candle

	EMAFast []float64 // CrossWindow
	EMAMid  []float64
	EMASlow []float64

	ATRUpper  []float64 // k1 bands, CrossWindow
	ATRLower  []float64
	ATRUpper2 []float64 // k2 bands, CrossWindow
	ATRLower2 []float64

	PlusDI  []float64 // TrendWindow
	MinusDI []float64
	ADX     []float64
	ADXR    []float64

	// Per-strategy warm-up flags. A strategy whose flag is false abstains.
	EMAReady bool
	ATRReady bool
	ADXReady bool
}

// Compute builds a Snapshot from an ascending candle window.
func Compute(instrument string, candles []model.Candle, p Params) Snapshot {
	s := model.SeriesOf(candles)
	n := len(candles)

	snap := Snapshot{
		Instrument: instrument,
		Closes:     Tail(s.Closes, CrossWindow),
	}
	if n > 0 {
		snap.LastCandle = candles[n-1]
	}

	snap.EMAFast = Tail(EMA(s.Closes, p.EMAFast), CrossWindow)
	snap.EMAMid = Tail(EMA(s.Closes, p.EMAMid), CrossWindow)
	snap.EMASlow = Tail(EMA(s.Closes, p.EMASlow), CrossWindow)
	slowest := max(p.EMAFast, p.EMAMid, p.EMASlow)
	snap.EMAReady = n >= slowest+CrossWindow-1

	up1, dn1 := ATRBands(s.Highs, s.Lows, s.Closes, p.ATRPeriod, p.ATRK1)
	up2, dn2 := ATRBands(s.Highs, s.Lows, s.Closes, p.ATRPeriod, p.ATRK2)
	snap.ATRUpper = Tail(up1, CrossWindow)
	snap.ATRLower = Tail(dn1, CrossWindow)
	snap.ATRUpper2 = Tail(up2, CrossWindow)
	snap.ATRLower2 = Tail(dn2, CrossWindow)
	snap.ATRReady = n >= p.ATRPeriod+CrossWindow

	plus, minus := PlusMinusDI(s.Highs, s.Lows, s.Closes, p.ADXPeriod)
	adx, adxr := ADXADXR(s.Highs, s.Lows, s.Closes, p.ADXPeriod)
	snap.PlusDI = Tail(plus, TrendWindow)
	snap.MinusDI = Tail(minus, TrendWindow)
	snap.ADX = Tail(adx, TrendWindow)
	snap.ADXR = Tail(adxr, TrendWindow)
	snap.ADXReady = p.ADXPeriod > 0 && n >= 3*p.ADXPeriod+TrendWindow

	return snap
}
