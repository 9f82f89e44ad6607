package portfolio

import (
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"fxtrader/internal/model"
)

// RiskLimits defines the pre-trade thresholds.
type RiskLimits struct {
	MaxCollateralUsage float64 `json:"max_collateral_usage"` // fraction of available balance (0.8)
	StopLimitPercent   float64 `json:"stop_limit_percent"`   // balance fraction held back when sizing
}

// DefaultRiskLimits returns the reference limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxCollateralUsage: 0.8,
		StopLimitPercent:   0.1,
	}
}

// RiskGate validates a proposed open against the balance snapshot.
type RiskGate struct {
	limits RiskLimits
	start  time.Time
}

// NewRiskGate creates a gate. Candles timestamped before start are never traded.
func NewRiskGate(limits RiskLimits, start time.Time) *RiskGate {
	return &RiskGate{limits: limits, start: start}
}

// Limits returns the configured limits.
func (g *RiskGate) Limits() RiskLimits { return g.limits }

// CanOpen checks a new position of units on inst priced off candle.
// Returns true if the trade is allowed, false with a reason if not.
func (g *RiskGate) CanOpen(inst model.Instrument, candle model.Candle, units float64, bal model.Balance) (bool, string) {
	if candle.Time.Before(g.start) {
		return false, "candle predates engine start"
	}
	if units <= 0 || units < inst.MinUnits {
		return false, fmt.Sprintf("units %g below minimum %g", units, inst.MinUnits)
	}
	if inst.Leverage <= 0 {
		return false, "instrument has no leverage"
	}

	margin := decimal.NewFromFloat(units).
		Mul(decimal.NewFromFloat(candle.Close)).
		Div(decimal.NewFromFloat(inst.Leverage))
	used := margin.Add(decimal.NewFromFloat(bal.RequiredCollateral))
	limit := decimal.NewFromFloat(bal.Available).Mul(decimal.NewFromFloat(g.limits.MaxCollateralUsage))

	if used.GreaterThan(limit) {
		log.Printf("[risk] %s reject: margin=%s collateral=%.2f limit=%s",
			inst.Symbol, margin.StringFixed(2), bal.RequiredCollateral, limit.StringFixed(2))
		return false, "collateral usage above limit"
	}
	return true, ""
}

// SizeUnits returns floor(available*(1-stopLimitPct)/(offset*fx)) truncated
// to the instrument's unit precision.
func SizeUnits(inst model.Instrument, bal model.Balance, offset, fx, stopLimitPct float64) float64 {
	if offset <= 0 || fx <= 0 {
		return 0
	}
	budget := decimal.NewFromFloat(bal.Available).
		Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(stopLimitPct)))
	risk := decimal.NewFromFloat(offset).Mul(decimal.NewFromFloat(fx))
	units, _ := budget.DivRound(risk, 16).RoundFloor(inst.UnitPrecision()).Float64()
	if units < 0 {
		return 0
	}
	return units
}

// Collateral is the amount booked against the balance after a fill:
// leverage*units*price*fx in the account currency. PaperBroker.GetBalance
// reports open trades with the same formula.
func Collateral(inst model.Instrument, units, price, fx float64) float64 {
	v, _ := decimal.NewFromFloat(inst.Leverage).
		Mul(decimal.NewFromFloat(units)).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromFloat(fx)).
		Float64()
	return v
}
