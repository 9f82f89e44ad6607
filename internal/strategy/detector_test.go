package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/indicator"
	"fxtrader/internal/model"
)

var usdjpy = model.DefaultInstruments[model.USDJPY]

func emaSnap(fast, mid, slow [2]float64) indicator.Snapshot {
	return indicator.Snapshot{
		Instrument: model.USDJPY,
		Closes:     []float64{150, 150},
		EMAFast:    fast[:],
		EMAMid:     mid[:],
		EMASlow:    slow[:],
		EMAReady:   true,
	}
}

func atrSnap(closes, up, dn, up2, dn2 [2]float64) indicator.Snapshot {
	return indicator.Snapshot{
		Instrument: model.USDJPY,
		Closes:     closes[:],
		ATRUpper:   up[:],
		ATRLower:   dn[:],
		ATRUpper2:  up2[:],
		ATRLower2:  dn2[:],
		ATRReady:   true,
	}
}

func adxSnap(adx, adxr, plus, minus [4]float64) indicator.Snapshot {
	return indicator.Snapshot{
		Instrument: model.USDJPY,
		Closes:     []float64{150, 150},
		ADX:        adx[:],
		ADXR:       adxr[:],
		PlusDI:     plus[:],
		MinusDI:    minus[:],
		ADXReady:   true,
	}
}

func held(tag model.SignalTag, side model.Side, stop float64) []model.Position {
	return []model.Position{{
		Instrument: model.USDJPY, Side: side, Units: 1000, Tag: tag,
		StopLoss: stop, TradeID: "t-1", OpenedAt: time.Now(),
	}}
}

func TestShortWindowAbstains(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]model.Candle, 10)
	for i := range candles {
		candles[i] = model.Candle{Instrument: model.USDJPY, Time: base.Add(time.Duration(i) * time.Minute),
			Open: 150, High: 150.1, Low: 149.9, Close: 150 + float64(i)*0.01}
	}
	snap := indicator.Compute(model.USDJPY, candles, DefaultSet().Indicator())
	for _, tag := range model.AllTags {
		d := Evaluate(tag, snap, nil, usdjpy)
		assert.Equal(t, NoAction, d.Kind, "tag %s", tag)
		assert.Equal(t, "warm-up", d.Reason, "tag %s", tag)
	}
}

func TestEMA_OpenLongAndShort(t *testing.T) {
	long := emaSnap([2]float64{101, 103}, [2]float64{100, 100}, [2]float64{102, 102})
	assert.Equal(t, OpenLong, EvaluateEMA(long, nil).Kind)

	short := emaSnap([2]float64{101, 99}, [2]float64{102, 102}, [2]float64{100, 100})
	assert.Equal(t, OpenShort, EvaluateEMA(short, nil).Kind)
}

func TestEMA_InvariantToUniformOffset(t *testing.T) {
	for _, off := range []float64{-50, 0.001, 1000} {
		s := emaSnap([2]float64{101 + off, 103 + off}, [2]float64{100 + off, 100 + off}, [2]float64{102 + off, 102 + off})
		assert.Equal(t, OpenLong, EvaluateEMA(s, nil).Kind, "offset %v", off)
	}
}

func TestEMA_SensitiveToOneUnitReversal(t *testing.T) {
	// current fast drops one unit below slow: ordering no longer fast > slow > mid
	s := emaSnap([2]float64{101, 101}, [2]float64{100, 100}, [2]float64{102, 102})
	assert.Equal(t, NoAction, EvaluateEMA(s, nil).Kind)
}

func TestEMA_EqualValuesNoSignal(t *testing.T) {
	s := emaSnap([2]float64{100, 100}, [2]float64{100, 100}, [2]float64{100, 100})
	assert.Equal(t, NoAction, EvaluateEMA(s, nil).Kind)
	assert.Equal(t, NoAction, EvaluateEMA(s, held(model.TagEMA, model.Buy, 0)).Kind)
	assert.Equal(t, NoAction, EvaluateEMA(s, held(model.TagEMA, model.Sell, 0)).Kind)
}

func TestEMA_Close(t *testing.T) {
	s := emaSnap([2]float64{101, 99}, [2]float64{100, 100}, [2]float64{102, 102})
	assert.Equal(t, CloseAll, EvaluateEMA(s, held(model.TagEMA, model.Buy, 0)).Kind)
	assert.Equal(t, NoAction, EvaluateEMA(s, held(model.TagEMA, model.Sell, 0)).Kind)
}

func TestEMA_NoSecondPositionSameDirection(t *testing.T) {
	long := emaSnap([2]float64{101, 103}, [2]float64{100, 100}, [2]float64{102, 102})
	d := EvaluateEMA(long, held(model.TagEMA, model.Buy, 0))
	assert.Equal(t, NoAction, d.Kind)
	assert.Equal(t, "holding", d.Reason)
}

func TestATR_OpenLongWithFlooredStop(t *testing.T) {
	s := atrSnap(
		[2]float64{149.0, 151.0},
		[2]float64{150.0, 150.5},
		[2]float64{148.0, 148.5},
		[2]float64{149.12345, 149.45678},
		[2]float64{148.9, 149.1},
	)
	d := EvaluateATR(s, nil, usdjpy)
	require.Equal(t, OpenLong, d.Kind)
	assert.InDelta(t, 149.456, d.StopLoss, 1e-9)
	assert.Equal(t, model.Buy, d.Side())
}

func TestATR_OpenShort(t *testing.T) {
	s := atrSnap(
		[2]float64{149.0, 147.0},
		[2]float64{151.0, 151.0},
		[2]float64{148.0, 148.0},
		[2]float64{150.0, 150.0},
		[2]float64{149.2, 149.0},
	)
	d := EvaluateATR(s, nil, usdjpy)
	require.Equal(t, OpenShort, d.Kind)
	assert.InDelta(t, 149.0, d.StopLoss, 1e-9)
	assert.Equal(t, model.Sell, d.Side())
}

func TestATR_TouchingBandIsNotACross(t *testing.T) {
	s := atrSnap(
		[2]float64{150.0, 151.0},
		[2]float64{150.0, 150.5},
		[2]float64{148.0, 148.5},
		[2]float64{149, 149},
		[2]float64{149, 149},
	)
	assert.Equal(t, NoAction, EvaluateATR(s, nil, usdjpy).Kind)
}

func TestATR_StopUpdateBoundary(t *testing.T) {
	pos := held(model.TagATR, model.Buy, 95)

	raised := atrSnap([2]float64{100, 100}, [2]float64{}, [2]float64{}, [2]float64{97, 97}, [2]float64{})
	d := EvaluateATR(raised, pos, usdjpy)
	require.Equal(t, UpdateStopLoss, d.Kind)
	assert.InDelta(t, 97, d.StopLoss, 1e-9)

	lower := atrSnap([2]float64{100, 100}, [2]float64{}, [2]float64{}, [2]float64{93, 93}, [2]float64{})
	assert.Equal(t, NoAction, EvaluateATR(lower, pos, usdjpy).Kind)
}

func TestATR_StopMonotonic(t *testing.T) {
	bands := []float64{95, 96.5, 96.0, 97.2, 94.0, 97.2, 98.1}

	stop := 94.0
	for _, b := range bands {
		s := atrSnap([2]float64{120, 120}, [2]float64{}, [2]float64{}, [2]float64{b, b}, [2]float64{})
		d := EvaluateATR(s, held(model.TagATR, model.Buy, stop), usdjpy)
		if d.Kind == UpdateStopLoss {
			require.Greater(t, d.StopLoss, stop, "long stop must only rise")
			stop = d.StopLoss
		}
	}
	assert.InDelta(t, 98.1, stop, 1e-9)

	stop = 110.0
	for _, b := range []float64{109, 109.5, 108.2, 111, 107.9} {
		s := atrSnap([2]float64{100, 100}, [2]float64{}, [2]float64{}, [2]float64{}, [2]float64{b, b})
		d := EvaluateATR(s, held(model.TagATR, model.Sell, stop), usdjpy)
		if d.Kind == UpdateStopLoss {
			require.Less(t, d.StopLoss, stop, "short stop must only fall")
			stop = d.StopLoss
		}
	}
	assert.InDelta(t, 107.9, stop, 1e-9)
}

func TestATR_CloseThroughStop(t *testing.T) {
	s := atrSnap([2]float64{96, 94.9}, [2]float64{}, [2]float64{}, [2]float64{99, 99}, [2]float64{})
	assert.Equal(t, CloseAll, EvaluateATR(s, held(model.TagATR, model.Buy, 95), usdjpy).Kind)

	s = atrSnap([2]float64{100, 105.1}, [2]float64{}, [2]float64{}, [2]float64{}, [2]float64{99, 99})
	assert.Equal(t, CloseAll, EvaluateATR(s, held(model.TagATR, model.Sell, 105), usdjpy).Kind)
}

func TestADX_Open(t *testing.T) {
	adx := [4]float64{20, 21, 22, 26}
	adxr := [4]float64{24, 24, 24, 25}

	d := EvaluateADX(adxSnap(adx, adxr, [4]float64{0, 0, 0, 30}, [4]float64{0, 0, 0, 10}), nil)
	assert.Equal(t, OpenLong, d.Kind)

	d = EvaluateADX(adxSnap(adx, adxr, [4]float64{0, 0, 0, 10}, [4]float64{0, 0, 0, 30}), nil)
	assert.Equal(t, OpenShort, d.Kind)

	d = EvaluateADX(adxSnap(adx, adxr, [4]float64{0, 0, 0, 20}, [4]float64{0, 0, 0, 20}), nil)
	assert.Equal(t, NoAction, d.Kind, "equal DI has no direction")
}

func TestADX_Close(t *testing.T) {
	rising := [4]float64{20, 21, 22, 23}
	falling := [4]float64{30, 28, 27, 26}
	flat := [4]float64{25, 25, 25, 25}

	d := EvaluateADX(adxSnap(rising, flat, [4]float64{0, 0, 0, 10}, [4]float64{0, 0, 0, 20}), held(model.TagADX, model.Buy, 0))
	assert.Equal(t, CloseAll, d.Kind)
	assert.Equal(t, "di reversed", d.Reason)

	d = EvaluateADX(adxSnap(falling, flat, [4]float64{0, 0, 0, 10}, [4]float64{0, 0, 0, 20}), held(model.TagADX, model.Sell, 0))
	assert.Equal(t, CloseAll, d.Kind)
	assert.Equal(t, "adx falling three bars", d.Reason)

	d = EvaluateADX(adxSnap(rising, flat, [4]float64{0, 0, 0, 30}, [4]float64{0, 0, 0, 20}), held(model.TagADX, model.Buy, 0))
	assert.Equal(t, NoAction, d.Kind)
}

func TestSetEnabledAndValidate(t *testing.T) {
	s := DefaultSet()
	require.NoError(t, s.Validate())
	for _, tag := range model.AllTags {
		assert.True(t, s.Enabled(tag))
	}
	s.ADX.Enabled = false
	assert.False(t, s.Enabled(model.TagADX))

	s.ATR.N = 0
	assert.Error(t, s.Validate())
}
