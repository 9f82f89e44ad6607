package model

import "time"

// Tick is a single quote update from the broker pricing stream.
type Tick struct {
	Instrument string    `json:"instrument"`
	Time       time.Time `json:"time"` // UTC
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Volume     float64   `json:"volume"`
}

// Mid returns the mid price used for candle aggregation.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}
