package indicator

import (
	"math"
	"testing"
	"time"

	"fxtrader/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertNoNaN(t *testing.T, label string, series []float64) {
	t.Helper()
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("%s[%d] = %v", label, i, v)
		}
	}
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// zigzag produces a noisy uptrend so directional indicators have both +DM and -DM.
func zigzagCandles(n int) []model.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, n)
	for i := range out {
		c := 100 + float64(i)*0.5
		if i%3 == 0 {
			c -= 1.2
		}
		out[i] = model.Candle{
			Instrument: "USD_JPY", Duration: model.Duration1M,
			Time: base.Add(time.Duration(i) * time.Minute),
			Open: c, High: c + 0.8, Low: c - 0.6, Close: c, Volume: 10,
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Placeholder behaviour
// ────────────────────────────────────────────────────────────

func TestShortSeriesReturnPlaceholders(t *testing.T) {
	short := []float64{1, 2, 3}

	checks := map[string][]float64{
		"ema":  EMA(short, 5),
		"rsi":  RSI(short, 14),
		"atr":  ATR(short, short, short, 14),
		"ichi": IchimokuCloud(short).SenkouB,
	}
	up, lo := ATRBands(short, short, short, 14, 2)
	checks["atr_up"] = up
	checks["atr_lo"] = lo
	plus, minus := PlusMinusDI(short, short, short, 14)
	checks["di_plus"] = plus
	checks["di_minus"] = minus
	adx, adxr := ADXADXR(short, short, short, 14)
	checks["adx"] = adx
	checks["adxr"] = adxr
	m, sig, hist := MACD(short, 12, 26, 9)
	checks["macd"] = m
	checks["macd_signal"] = sig
	checks["macd_hist"] = hist
	bu, bm, bl := BollingerBands(short, 20, 2)
	checks["bb_up"] = bu
	checks["bb_mid"] = bm
	checks["bb_lo"] = bl

	for name, series := range checks {
		if len(series) != len(short) {
			t.Errorf("%s: len=%d, want %d", name, len(series), len(short))
			continue
		}
		for i, v := range series {
			if v != 0 {
				t.Errorf("%s[%d] = %v, want 0", name, i, v)
			}
		}
	}
}

func TestEmptyInput(t *testing.T) {
	if got := EMA(nil, 5); len(got) != 0 {
		t.Errorf("EMA(nil) len=%d, want 0", len(got))
	}
	snap := Compute("USD_JPY", nil, DefaultParams())
	if snap.EMAReady || snap.ATRReady || snap.ADXReady {
		t.Error("empty window must not be ready")
	}
}

// ────────────────────────────────────────────────────────────
// Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// Seed = SMA(1,2,3) = 2, k = 2/(3+1) = 0.5
	// idx3: 2 + 0.5*(4-2) = 3
	// idx4: 3 + 0.5*(5-3) = 4
	got := EMA([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{0, 0, 2, 3, 4}
	for i := range want {
		assertClose(t, "EMA(3)", got[i], want[i], 1e-9)
	}
}

func TestEMA_ConstantSeries(t *testing.T) {
	got := EMA(ramp(30, 150, 0), 10)
	for i := 9; i < len(got); i++ {
		assertClose(t, "EMA const", got[i], 150, 1e-9)
	}
}

func TestRSI_MonotonicRise(t *testing.T) {
	got := RSI(ramp(30, 100, 1), 14)
	assertNoNaN(t, "rsi", got)
	assertClose(t, "RSI rising", got[len(got)-1], 100, 1e-9)
}

func TestATRBands_FlatMarket(t *testing.T) {
	flat := ramp(30, 110, 0)
	up, lo := ATRBands(flat, flat, flat, 14, 2)
	last := len(flat) - 1
	assertClose(t, "flat upper", up[last], 110, 1e-9)
	assertClose(t, "flat lower", lo[last], 110, 1e-9)
}

func TestATRBands_Widen(t *testing.T) {
	s := model.SeriesOf(zigzagCandles(60))
	up1, lo1 := ATRBands(s.Highs, s.Lows, s.Closes, 14, 2)
	up2, lo2 := ATRBands(s.Highs, s.Lows, s.Closes, 14, 0.3)
	last := len(s.Closes) - 1
	if !(up1[last] > up2[last] && lo1[last] < lo2[last]) {
		t.Errorf("k=2 bands must contain k=0.3 bands: up %v/%v lo %v/%v", up1[last], up2[last], lo1[last], lo2[last])
	}
}

func TestBollinger_ConstantSeries(t *testing.T) {
	up, mid, lo := BollingerBands(ramp(25, 50, 0), 20, 2)
	assertClose(t, "bb up", up[24], 50, 1e-9)
	assertClose(t, "bb mid", mid[24], 50, 1e-9)
	assertClose(t, "bb lo", lo[24], 50, 1e-9)
}

func TestMACD_LinearTrendPositive(t *testing.T) {
	m, sig, _ := MACD(ramp(80, 100, 1), 12, 26, 9)
	assertNoNaN(t, "macd", m)
	if m[79] <= 0 || sig[79] <= 0 {
		t.Errorf("rising series should give positive MACD, got macd=%v signal=%v", m[79], sig[79])
	}
}

func TestMACD_SwappedPeriods(t *testing.T) {
	a, _, _ := MACD(ramp(80, 100, 1), 12, 26, 9)
	b, _, _ := MACD(ramp(80, 100, 1), 26, 12, 9)
	assertClose(t, "swapped", a[79], b[79], 1e-12)
}

func TestDirectionalIndicators_NoNaN(t *testing.T) {
	s := model.SeriesOf(zigzagCandles(80))
	plus, minus := PlusMinusDI(s.Highs, s.Lows, s.Closes, 14)
	adx, adxr := ADXADXR(s.Highs, s.Lows, s.Closes, 14)
	assertNoNaN(t, "plus", plus)
	assertNoNaN(t, "minus", minus)
	assertNoNaN(t, "adx", adx)
	assertNoNaN(t, "adxr", adxr)
	if plus[79] <= minus[79] {
		t.Errorf("uptrend should have +DI > -DI, got %v <= %v", plus[79], minus[79])
	}
	if adxr[79] == 0 {
		t.Error("ADXR should be populated with 80 candles")
	}
}

func TestIchimoku_Ramp(t *testing.T) {
	closes := ramp(100, 0, 1)
	ic := IchimokuCloud(closes)

	// tenkan[9] = midpoint(closes[0:9]) = (0+8)/2
	assertClose(t, "tenkan[9]", ic.Tenkan[9], 4, 1e-9)
	// chikou[30] = closes[4]
	assertClose(t, "chikou[30]", ic.Chikou[30], 4, 1e-9)
	// senkouA[60] = (tenkan[34] + kijun[34]) / 2 = (29 + 20.5) / 2
	assertClose(t, "senkouA[60]", ic.SenkouA[60], 24.75, 1e-9)
	// senkouB[80] = midpoint(closes[2:54]) = (2+53)/2
	assertClose(t, "senkouB[80]", ic.SenkouB[80], 27.5, 1e-9)
	if ic.SenkouA[25] != 0 || ic.SenkouB[77] != 0 {
		t.Error("shifted spans must stay zero before they are defined")
	}
}

func TestForceIndex(t *testing.T) {
	raw := ForceIndex([]float64{10, 11, 9}, []float64{5, 5, 2}, 1)
	want := []float64{0, 5, -4}
	for i := range want {
		assertClose(t, "force raw", raw[i], want[i], 1e-9)
	}
	smoothed := ForceIndex(ramp(20, 1, 1), ramp(20, 1, 0), 13)
	assertNoNaN(t, "force ema", smoothed)
	// raw is 0 then 1s; the EMA converges toward 1 from below
	if smoothed[19] <= 0.9 || smoothed[19] > 1 {
		t.Errorf("force ema last = %v, want in (0.9, 1]", smoothed[19])
	}
}

func TestTail(t *testing.T) {
	got := Tail([]float64{7}, 3)
	want := []float64{0, 0, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tail pad: got %v, want %v", got, want)
		}
	}
	got = Tail([]float64{1, 2, 3, 4}, 2)
	if got[0] != 3 || got[1] != 4 {
		t.Fatalf("Tail cut: got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Snapshot
// ────────────────────────────────────────────────────────────

func TestCompute_ReadinessFlags(t *testing.T) {
	p := DefaultParams()

	snap := Compute("USD_JPY", zigzagCandles(20), p)
	if snap.EMAReady {
		t.Error("20 candles cannot warm up EMA(50)")
	}
	if !snap.ATRReady {
		t.Error("20 candles should warm up ATR(14)")
	}
	if snap.ADXReady {
		t.Error("20 candles cannot warm up ADXR(14)")
	}

	snap = Compute("USD_JPY", zigzagCandles(120), p)
	if !snap.EMAReady || !snap.ATRReady || !snap.ADXReady {
		t.Errorf("120 candles should warm everything up: %+v", snap)
	}
	if len(snap.EMAFast) != CrossWindow || len(snap.ADX) != TrendWindow {
		t.Errorf("unexpected window lengths: ema=%d adx=%d", len(snap.EMAFast), len(snap.ADX))
	}
	if snap.LastCandle.Close != snap.Closes[1] {
		t.Errorf("last candle close %v != closes tail %v", snap.LastCandle.Close, snap.Closes[1])
	}
}
