// Package scanner watches every instrument on the alert durations and
// notifies on classic chart signals: EMA crosses, the Ichimoku three-signal
// turn, MACD and RSI crosses and ATR band breaks.
package scanner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"fxtrader/internal/backtest"
	"fxtrader/internal/indicator"
	"fxtrader/internal/metrics"
	"fxtrader/internal/model"
	"fxtrader/internal/notification"
)

// Fixed alert settings.
const (
	emaShort  = 5
	emaMid    = 25
	emaLong   = 75
	atrPeriod = 14
	atrK      = 2.0
	rsiPeriod = 14
	rsiLow    = 30.0
	rsiHigh   = 70.0
	macdFast  = 12
	macdSlow  = 26
	macdSig   = 9
)

// Signal is one alert condition that held on the latest bar.
type Signal struct {
	Kind    string
	Message string
}

// Detect evaluates the last two bars of an ascending window.
func Detect(candles []model.Candle) []Signal {
	n := len(candles)
	if n < 2 {
		return nil
	}
	s := model.SeriesOf(candles)
	var out []Signal
	add := func(kind, msg string) { out = append(out, Signal{Kind: kind, Message: msg}) }

	if n >= emaLong {
		e5 := indicator.EMA(s.Closes, emaShort)
		e25 := indicator.EMA(s.Closes, emaMid)
		e75 := indicator.EMA(s.Closes, emaLong)
		for _, pair := range []struct {
			a, b   []float64
			na, nb int
		}{{e5, e25, emaShort, emaMid}, {e5, e75, emaShort, emaLong}, {e25, e75, emaMid, emaLong}} {
			switch crossed(pair.a, pair.b) {
			case 1:
				add(fmt.Sprintf("ema%d_%d_up", pair.na, pair.nb), fmt.Sprintf("EMA%d surpassed EMA%d", pair.na, pair.nb))
			case -1:
				add(fmt.Sprintf("ema%d_%d_down", pair.na, pair.nb), fmt.Sprintf("EMA%d went below EMA%d", pair.na, pair.nb))
			}
		}
	}

	switch backtest.IchimokuSignal(indicator.IchimokuCloud(s.Closes), candles, n-1) {
	case model.Buy:
		add("ichimoku_bull", "三役好転")
	case model.Sell:
		add("ichimoku_bear", "三役逆転")
	}

	m, sig, _ := indicator.MACD(s.Closes, macdFast, macdSlow, macdSig)
	if m[n-1] < 0 && sig[n-1] < 0 && m[n-2] < sig[n-2] && m[n-1] >= sig[n-1] {
		add("macd_up", "MACD surpassed MACD signal")
	}
	if m[n-1] > 0 && sig[n-1] > 0 && m[n-2] > sig[n-2] && m[n-1] <= sig[n-1] {
		add("macd_down", "MACD went below MACD signal")
	}

	rsi := indicator.RSI(s.Closes, rsiPeriod)
	if rsi[n-2] != 0 && rsi[n-2] != 100 {
		if rsi[n-2] < rsiLow && rsi[n-1] >= rsiLow {
			add("rsi_30_up", "candle stick surpassed RSI 30")
		}
		if rsi[n-2] > rsiHigh && rsi[n-1] <= rsiHigh {
			add("rsi_70_down", "candle stick went below RSI 70")
		}
	}

	if n > atrPeriod {
		up, down := indicator.ATRBands(s.Highs, s.Lows, s.Closes, atrPeriod, atrK)
		prev, last := candles[n-2].Close, candles[n-1].Close
		if up[n-2] > prev && up[n-1] <= last {
			add("atr_up_break", "candle stick broke ATR Up")
		}
		if down[n-2] < prev && down[n-1] >= last {
			add("atr_down_break", "candle stick broke ATR Down")
		}
	}
	return out
}

// crossed returns 1 when a crossed up through b on the last bar, -1 when it
// crossed down, 0 otherwise.
func crossed(a, b []float64) int {
	n := len(a)
	switch {
	case a[n-2] < b[n-2] && a[n-1] >= b[n-1]:
		return 1
	case a[n-2] > b[n-2] && a[n-1] <= b[n-1]:
		return -1
	}
	return 0
}

// Config selects what the scanner watches.
type Config struct {
	Instruments []string
	Durations   []model.Duration
	Window      int           // candles read per scan
	Interval    time.Duration // scan period
}

// Scanner periodically runs Detect and sends each new signal once per bar.
type Scanner struct {
	cfg      Config
	store    model.CandleStore
	notifier notification.Notifier
	metrics  *metrics.Metrics

	mu   sync.Mutex
	seen map[string]time.Time // instrument|duration|kind -> bar time
}

// New creates a scanner. m may be nil.
func New(cfg Config, store model.CandleStore, n notification.Notifier, m *metrics.Metrics) *Scanner {
	if cfg.Window <= 0 {
		cfg.Window = 200
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scanner{cfg: cfg, store: store, notifier: n, metrics: m, seen: make(map[string]time.Time)}
}

// Run scans on every interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	log.Printf("[scanner] watching %d instruments on %v every %s", len(s.cfg.Instruments), s.cfg.Durations, s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ScanAll(ctx)
		}
	}
}

// ScanAll scans every configured instrument and duration.
func (s *Scanner) ScanAll(ctx context.Context) {
	for _, inst := range s.cfg.Instruments {
		for _, d := range s.cfg.Durations {
			if _, err := s.Scan(ctx, inst, d); err != nil {
				log.Printf("[scanner] %s %s: %v", inst, d, err)
			}
		}
	}
}

// Scan checks one instrument and duration and returns the alerts it sent.
func (s *Scanner) Scan(ctx context.Context, instrument string, d model.Duration) ([]notification.Alert, error) {
	candles, err := s.store.GetRecentCandles(ctx, instrument, d, s.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("scanner: candles: %w", err)
	}
	if len(candles) < 2 {
		return nil, nil
	}
	bar := candles[len(candles)-1].Time

	var sent []notification.Alert
	for _, sig := range Detect(candles) {
		if !s.firstOnBar(instrument, d, sig.Kind, bar) {
			continue
		}
		alert := notification.Alert{
			Level:      notification.AlertInfo,
			Title:      "Market signal",
			Message:    fmt.Sprintf("%s; duration: %s", sig.Message, d),
			Instrument: instrument,
		}
		if err := s.notifier.Send(ctx, alert); err != nil {
			log.Printf("[scanner] notify %s: %v", sig.Kind, err)
		}
		if s.metrics != nil {
			s.metrics.ScannerAlerts.WithLabelValues(sig.Kind).Inc()
		}
		sent = append(sent, alert)
	}
	return sent, nil
}

func (s *Scanner) firstOnBar(instrument string, d model.Duration, kind string, bar time.Time) bool {
	key := instrument + "|" + string(d) + "|" + kind
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.seen[key]; ok && !bar.After(last) {
		return false
	}
	s.seen[key] = bar
	return true
}
