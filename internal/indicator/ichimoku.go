package indicator

const (
	tenkanPeriod = 9
	kijunPeriod  = 26
	senkouPeriod = 52
	cloudShift   = 26
)

// Ichimoku holds the five Ichimoku Kinko Hyo lines, each len(closes) long.
type Ichimoku struct {
	Tenkan  []float64
	Kijun   []float64
	SenkouA []float64 // shifted cloudShift bars forward
	SenkouB []float64 // shifted cloudShift bars forward
	Chikou  []float64 // close from cloudShift bars back
}

// IchimokuCloud computes the cloud from closes using the classical 9/26/52
// lookbacks. Each midpoint at bar i uses the window ending at bar i-1.
func IchimokuCloud(closes []float64) Ichimoku {
	n := len(closes)
	ic := Ichimoku{
		Tenkan:  placeholder(n),
		Kijun:   placeholder(n),
		SenkouA: placeholder(n),
		SenkouB: placeholder(n),
		Chikou:  placeholder(n),
	}
	spanA := placeholder(n)
	spanB := placeholder(n)
	for i := 0; i < n; i++ {
		if i >= tenkanPeriod {
			ic.Tenkan[i] = midpoint(closes[i-tenkanPeriod : i])
		}
		if i >= kijunPeriod {
			ic.Kijun[i] = midpoint(closes[i-kijunPeriod : i])
			spanA[i] = (ic.Tenkan[i] + ic.Kijun[i]) / 2
			ic.Chikou[i] = closes[i-cloudShift]
		}
		if i >= senkouPeriod {
			spanB[i] = midpoint(closes[i-senkouPeriod : i])
		}
	}
	for i := cloudShift; i < n; i++ {
		ic.SenkouA[i] = spanA[i-cloudShift]
		ic.SenkouB[i] = spanB[i-cloudShift]
	}
	return ic
}

func midpoint(window []float64) float64 {
	lo, hi := window[0], window[0]
	for _, v := range window[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return (lo + hi) / 2
}

// ForceIndex returns EMA(period) of (close[i]-close[i-1])*volume[i].
// A period of 1 returns the raw force series.
func ForceIndex(closes, volumes []float64, period int) []float64 {
	n := len(closes)
	raw := placeholder(n)
	for i := 1; i < n && i < len(volumes); i++ {
		raw[i] = (closes[i] - closes[i-1]) * volumes[i]
	}
	if period <= 1 {
		return raw
	}
	return EMA(raw, period)
}
