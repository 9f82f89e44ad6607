package strategy

import (
	"fxtrader/internal/indicator"
	"fxtrader/internal/model"
)

// Evaluate dispatches to the detector for tag. held must contain only the
// positions owned by tag on snap.Instrument.
func Evaluate(tag model.SignalTag, snap indicator.Snapshot, held []model.Position, inst model.Instrument) Decision {
	switch tag {
	case model.TagEMA:
		return EvaluateEMA(snap, held)
	case model.TagATR:
		return EvaluateATR(snap, held, inst)
	case model.TagADX:
		return EvaluateADX(snap, held)
	}
	return none(tag, "unknown tag")
}

// EvaluateEMA applies the triple-EMA ordering rules.
//
// Close: a long closes when fast < mid, a short when fast > mid.
// Open long: the prior bar is ordered slow > fast > mid and the current bar
// fast > slow > mid. Open short is the mirror.
func EvaluateEMA(snap indicator.Snapshot, held []model.Position) Decision {
	const tag = model.TagEMA
	if !snap.EMAReady {
		return none(tag, "warm-up")
	}
	f, m, s := snap.EMAFast, snap.EMAMid, snap.EMASlow
	price := snap.Closes[1]

	if len(held) > 0 {
		switch held[0].Side {
		case model.Buy:
			if f[1] < m[1] {
				return Decision{Kind: CloseAll, Tag: tag, Price: price, Reason: "fast ema below mid"}
			}
		case model.Sell:
			if f[1] > m[1] {
				return Decision{Kind: CloseAll, Tag: tag, Price: price, Reason: "fast ema above mid"}
			}
		}
		return none(tag, "holding")
	}

	if s[0] > f[0] && f[0] > m[0] && f[1] > s[1] && s[1] > m[1] {
		return Decision{Kind: OpenLong, Tag: tag, Price: price, Reason: "fast ema crossed above slow"}
	}
	if s[0] < f[0] && f[0] < m[0] && f[1] < s[1] && s[1] < m[1] {
		return Decision{Kind: OpenShort, Tag: tag, Price: price, Reason: "fast ema crossed below slow"}
	}
	return none(tag, "no cross")
}

// EvaluateATR applies the ATR band breakout rules.
//
// A held position closes when the close trades through its stop. Otherwise
// the stop is tightened to the floored k2 band when that band moved in the
// position's favour. A flat book opens when the close crosses the k1 band.
func EvaluateATR(snap indicator.Snapshot, held []model.Position, inst model.Instrument) Decision {
	const tag = model.TagATR
	if !snap.ATRReady {
		return none(tag, "warm-up")
	}
	c := snap.Closes

	if len(held) > 0 {
		pos := held[0]
		switch pos.Side {
		case model.Buy:
			if pos.HasStop() && c[1] < pos.StopLoss {
				return Decision{Kind: CloseAll, Tag: tag, Price: c[1], Reason: "close below stop"}
			}
			if band := inst.FloorPrice(snap.ATRUpper2[1]); band > pos.StopLoss {
				return Decision{Kind: UpdateStopLoss, Tag: tag, StopLoss: band, Price: c[1], Reason: "raise stop"}
			}
		case model.Sell:
			if pos.HasStop() && c[1] > pos.StopLoss {
				return Decision{Kind: CloseAll, Tag: tag, Price: c[1], Reason: "close above stop"}
			}
			band := inst.FloorPrice(snap.ATRLower2[1])
			if band > 0 && (!pos.HasStop() || band < pos.StopLoss) {
				return Decision{Kind: UpdateStopLoss, Tag: tag, StopLoss: band, Price: c[1], Reason: "lower stop"}
			}
		}
		return none(tag, "holding")
	}

	up, dn := snap.ATRUpper, snap.ATRLower
	if up[0] > c[0] && up[1] < c[1] {
		return Decision{
			Kind: OpenLong, Tag: tag, Price: c[1],
			StopLoss: inst.FloorPrice(snap.ATRUpper2[1]),
			Reason:   "close broke upper band",
		}
	}
	if dn[0] < c[0] && dn[1] > c[1] {
		return Decision{
			Kind: OpenShort, Tag: tag, Price: c[1],
			StopLoss: inst.FloorPrice(snap.ATRLower2[1]),
			Reason:   "close broke lower band",
		}
	}
	return none(tag, "no breakout")
}

// EvaluateADX applies the ADX/ADXR/DI rules.
//
// Close on a DI reversal against the held side, or when ADX has fallen on
// each of the last three bars. Open when ADXR crosses below ADX on the
// latest bar, long if DI+ > DI-, short if DI+ < DI-.
func EvaluateADX(snap indicator.Snapshot, held []model.Position) Decision {
	const tag = model.TagADX
	if !snap.ADXReady {
		return none(tag, "warm-up")
	}
	n := len(snap.ADX)
	adx, adxr := snap.ADX, snap.ADXR
	plus, minus := snap.PlusDI[n-1], snap.MinusDI[n-1]
	price := snap.Closes[len(snap.Closes)-1]

	if len(held) > 0 {
		exhausted := adx[n-4] > adx[n-3] && adx[n-3] > adx[n-2] && adx[n-2] > adx[n-1]
		switch held[0].Side {
		case model.Buy:
			if plus < minus || exhausted {
				return Decision{Kind: CloseAll, Tag: tag, Price: price, Reason: closeReason(exhausted)}
			}
		case model.Sell:
			if plus > minus || exhausted {
				return Decision{Kind: CloseAll, Tag: tag, Price: price, Reason: closeReason(exhausted)}
			}
		}
		return none(tag, "holding")
	}

	if adxr[n-2] > adx[n-2] && adxr[n-1] < adx[n-1] {
		switch {
		case plus > minus:
			return Decision{Kind: OpenLong, Tag: tag, Price: price, Reason: "adx crossed above adxr, di+ leads"}
		case plus < minus:
			return Decision{Kind: OpenShort, Tag: tag, Price: price, Reason: "adx crossed above adxr, di- leads"}
		}
	}
	return none(tag, "no cross")
}

func closeReason(exhausted bool) string {
	if exhausted {
		return "adx falling three bars"
	}
	return "di reversed"
}
