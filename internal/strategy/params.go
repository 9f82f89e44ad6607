package strategy

import (
	"fmt"

	"fxtrader/internal/indicator"
	"fxtrader/internal/model"
)

// EMAParams drives the triple-EMA detector. The optimizer tunes Fast and Mid.
type EMAParams struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Fast    int  `json:"fast" yaml:"fast"`
	Mid     int  `json:"mid" yaml:"mid"`
	Slow    int  `json:"slow" yaml:"slow"`
}

// ATRParams drives the ATR breakout detector.
type ATRParams struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	N       int     `json:"n" yaml:"n"`
	K1      float64 `json:"k1" yaml:"k1"` // breakout band
	K2      float64 `json:"k2" yaml:"k2"` // stop band
}

// ADXParams drives the ADX/DI detector.
type ADXParams struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	N       int  `json:"n" yaml:"n"`
}

// BBParams are used by the backtester and the optimizer only.
type BBParams struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	N       int     `json:"n" yaml:"n"`
	K       float64 `json:"k" yaml:"k"`
}

// IchimokuParams has no tunables; the cloud uses fixed lookbacks.
type IchimokuParams struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type RSIParams struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Period     int     `json:"period" yaml:"period"`
	BuyThread  float64 `json:"buy_thread" yaml:"buy_thread"`
	SellThread float64 `json:"sell_thread" yaml:"sell_thread"`
}

type MACDParams struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Fast    int  `json:"fast" yaml:"fast"`
	Slow    int  `json:"slow" yaml:"slow"`
	Signal  int  `json:"signal" yaml:"signal"`
}

// Set is the full parameter document, one typed block per strategy.
// It is what the optimizer writes and the trader hot-reloads.
type Set struct {
	EMA      EMAParams      `json:"ema" yaml:"ema"`
	ATR      ATRParams      `json:"atr" yaml:"atr"`
	ADX      ADXParams      `json:"adx" yaml:"adx"`
	BB       BBParams       `json:"bb" yaml:"bb"`
	Ichimoku IchimokuParams `json:"ichimoku" yaml:"ichimoku"`
	RSI      RSIParams      `json:"rsi" yaml:"rsi"`
	MACD     MACDParams     `json:"macd" yaml:"macd"`
}

// DefaultSet enables the three live strategies with the reference settings.
func DefaultSet() Set {
	p := indicator.DefaultParams()
	return Set{
		EMA:      EMAParams{Enabled: true, Fast: p.EMAFast, Mid: p.EMAMid, Slow: p.EMASlow},
		ATR:      ATRParams{Enabled: true, N: p.ATRPeriod, K1: p.ATRK1, K2: p.ATRK2},
		ADX:      ADXParams{Enabled: true, N: p.ADXPeriod},
		BB:       BBParams{N: 20, K: 2.0},
		Ichimoku: IchimokuParams{},
		RSI:      RSIParams{Period: 14, BuyThread: 30, SellThread: 70},
		MACD:     MACDParams{Fast: 12, Slow: 26, Signal: 9},
	}
}

// Indicator projects the live strategy blocks onto indicator.Params.
func (s Set) Indicator() indicator.Params {
	return indicator.Params{
		EMAFast:   s.EMA.Fast,
		EMAMid:    s.EMA.Mid,
		EMASlow:   s.EMA.Slow,
		ADXPeriod: s.ADX.N,
		ATRPeriod: s.ATR.N,
		ATRK1:     s.ATR.K1,
		ATRK2:     s.ATR.K2,
	}
}

// Enabled reports whether the live strategy owning tag should run.
func (s Set) Enabled(tag model.SignalTag) bool {
	switch tag {
	case model.TagEMA:
		return s.EMA.Enabled
	case model.TagATR:
		return s.ATR.Enabled
	case model.TagADX:
		return s.ADX.Enabled
	}
	return false
}

// Validate rejects periods the indicator engine cannot use.
func (s Set) Validate() error {
	if s.EMA.Fast <= 0 || s.EMA.Mid <= 0 || s.EMA.Slow <= 0 {
		return fmt.Errorf("strategy: ema periods must be positive: %+v", s.EMA)
	}
	if s.ATR.N <= 0 {
		return fmt.Errorf("strategy: atr n must be positive: %d", s.ATR.N)
	}
	if s.ADX.N <= 0 {
		return fmt.Errorf("strategy: adx n must be positive: %d", s.ADX.N)
	}
	return nil
}
