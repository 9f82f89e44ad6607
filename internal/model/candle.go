package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration names a candle bucket size.
type Duration string

const (
	Duration5S  Duration = "5s"
	Duration1M  Duration = "1m"
	Duration5M  Duration = "5m"
	Duration15M Duration = "15m"
	Duration30M Duration = "30m"
	Duration1H  Duration = "1h"
	Duration1D  Duration = "1d"
)

// AllDurations lists every duration candles are aggregated into.
var AllDurations = []Duration{Duration5S, Duration1M, Duration5M, Duration15M, Duration30M, Duration1H, Duration1D}

var durationLengths = map[Duration]time.Duration{
	Duration5S:  5 * time.Second,
	Duration1M:  time.Minute,
	Duration5M:  5 * time.Minute,
	Duration15M: 15 * time.Minute,
	Duration30M: 30 * time.Minute,
	Duration1H:  time.Hour,
	Duration1D:  24 * time.Hour,
}

// ParseDuration validates a duration name.
func ParseDuration(s string) (Duration, error) {
	d := Duration(s)
	if _, ok := durationLengths[d]; !ok {
		return "", fmt.Errorf("unknown candle duration %q", s)
	}
	return d, nil
}

// Length returns the bucket length, or 0 for an unknown duration.
func (d Duration) Length() time.Duration {
	return durationLengths[d]
}

// Truncate returns the bucket start (UTC) containing t.
func (d Duration) Truncate(t time.Time) time.Time {
	l := d.Length()
	if l == 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(l)
}

// Candle is an OHLCV bucket keyed by (instrument, duration, bucket start).
type Candle struct {
	Instrument string    `json:"instrument"`
	Duration   Duration  `json:"duration"`
	Time       time.Time `json:"time"` // bucket start, UTC
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// Key returns "duration:instrument".
func (c *Candle) Key() string {
	return string(c.Duration) + ":" + c.Instrument
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Series splits candles into parallel OHLCV slices for indicator input.
type Series struct {
	Highs   []float64
	Lows    []float64
	Closes  []float64
	Volumes []float64
}

// SeriesOf converts an ascending candle window into parallel slices.
func SeriesOf(candles []Candle) Series {
	s := Series{
		Highs:   make([]float64, len(candles)),
		Lows:    make([]float64, len(candles)),
		Closes:  make([]float64, len(candles)),
		Volumes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Highs[i] = c.High
		s.Lows[i] = c.Low
		s.Closes[i] = c.Close
		s.Volumes[i] = c.Volume
	}
	return s
}
