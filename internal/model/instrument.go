package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Instrument is immutable reference data for one tradable symbol.
type Instrument struct {
	Symbol       string  `json:"symbol" yaml:"symbol"`               // e.g. USD_JPY, FX_BTC_JPY
	Leverage     float64 `json:"leverage" yaml:"leverage"`           // margin multiplier
	MinUnits     float64 `json:"min_units" yaml:"min_units"`         // minimum tradable size
	PriceTick    float64 `json:"price_tick" yaml:"price_tick"`       // minimum price increment
	TrailOffset  float64 `json:"trail_offset" yaml:"trail_offset"`   // default trailing-stop distance
	CryptoMargin bool    `json:"crypto_margin" yaml:"crypto_margin"` // units carry 4 decimals
}

// Quote returns the quote currency, i.e. the suffix after the last underscore.
func (i Instrument) Quote() string {
	idx := strings.LastIndex(i.Symbol, "_")
	if idx < 0 {
		return ""
	}
	return i.Symbol[idx+1:]
}

// UnitPrecision returns the number of decimal places allowed in order units.
func (i Instrument) UnitPrecision() int32 {
	if i.CryptoMargin {
		return 4
	}
	return 0
}

// FloorPrice rounds p down to a whole number of price increments.
func (i Instrument) FloorPrice(p float64) float64 {
	if i.PriceTick <= 0 {
		return p
	}
	tick := decimal.NewFromFloat(i.PriceTick)
	steps := decimal.NewFromFloat(p).Div(tick).Floor()
	out, _ := steps.Mul(tick).Float64()
	return out
}

const (
	USDJPY   = "USD_JPY"
	EURJPY   = "EUR_JPY"
	EURUSD   = "EUR_USD"
	GBPUSD   = "GBP_USD"
	FXBTCJPY = "FX_BTC_JPY"
)

// DefaultInstruments is the built-in reference table.
var DefaultInstruments = map[string]Instrument{
	USDJPY:   {Symbol: USDJPY, Leverage: 25, MinUnits: 1, PriceTick: 0.001, TrailOffset: 0.20},
	EURJPY:   {Symbol: EURJPY, Leverage: 25, MinUnits: 1, PriceTick: 0.001, TrailOffset: 0.20},
	EURUSD:   {Symbol: EURUSD, Leverage: 25, MinUnits: 1, PriceTick: 0.00001, TrailOffset: 0.0020},
	GBPUSD:   {Symbol: GBPUSD, Leverage: 25, MinUnits: 1, PriceTick: 0.00001, TrailOffset: 0.0020},
	FXBTCJPY: {Symbol: FXBTCJPY, Leverage: 4, MinUnits: 0.01, PriceTick: 1, TrailOffset: 3000, CryptoMargin: true},
}

// LookupInstruments resolves symbols against DefaultInstruments.
func LookupInstruments(symbols []string) ([]Instrument, error) {
	out := make([]Instrument, 0, len(symbols))
	for _, s := range symbols {
		inst, ok := DefaultInstruments[strings.ToUpper(strings.TrimSpace(s))]
		if !ok {
			return nil, fmt.Errorf("unknown instrument %q", s)
		}
		out = append(out, inst)
	}
	return out, nil
}
