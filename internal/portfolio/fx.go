package portfolio

import "fxtrader/internal/model"

// CrossFor returns the JPY cross whose close converts inst's quote currency,
// or "" when the quote already is JPY or has no known cross.
func CrossFor(inst model.Instrument) string {
	switch inst.Quote() {
	case "USD":
		return model.USDJPY
	case "EUR":
		return model.EURJPY
	}
	return ""
}

// FXFactor converts one unit of inst's quote currency into JPY using the
// latest cross closes. Missing or non-positive crosses fall back to 1.
func FXFactor(inst model.Instrument, crossCloses map[string]float64) float64 {
	cross := CrossFor(inst)
	if cross == "" {
		return 1
	}
	if v, ok := crossCloses[cross]; ok && v > 0 {
		return v
	}
	return 1
}
