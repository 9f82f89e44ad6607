// Package markethours models the retail FX trading week.
//
// The FX market trades continuously from Sunday 22:00 UTC to Friday 22:00
// UTC. Crypto-margin instruments trade through the weekend.
package markethours

import (
	"fmt"
	"time"

	"fxtrader/internal/model"
)

// Session boundaries in UTC.
const (
	CloseWeekday = time.Friday
	OpenWeekday  = time.Sunday
	RolloverHour = 22
)

// IsMarketOpen reports whether t falls inside the FX trading week and is not
// a market holiday.
func IsMarketOpen(t time.Time) bool {
	u := t.UTC()
	if IsHoliday(u) {
		return false
	}
	switch u.Weekday() {
	case time.Saturday:
		return false
	case CloseWeekday:
		return u.Hour() < RolloverHour
	case OpenWeekday:
		return u.Hour() >= RolloverHour
	}
	return true
}

// InstrumentOpen reports whether inst can be traded at t.
func InstrumentOpen(inst model.Instrument, t time.Time) bool {
	if inst.CryptoMargin {
		return true
	}
	return IsMarketOpen(t)
}

// NextOpen returns the next session open at or after t.
func NextOpen(t time.Time) time.Time {
	u := t.UTC()
	if IsMarketOpen(u) {
		return u
	}
	// Walk hour boundaries; a closure never spans more than a few days.
	next := u.Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 24*7; i++ {
		if IsMarketOpen(next) {
			return next
		}
		next = next.Add(time.Hour)
	}
	return next
}

// NextClose returns the next weekly close after t.
func NextClose(t time.Time) time.Time {
	u := t.UTC()
	days := (int(CloseWeekday) - int(u.Weekday()) + 7) % 7
	cl := time.Date(u.Year(), u.Month(), u.Day()+days, RolloverHour, 0, 0, 0, time.UTC)
	if !cl.After(u) {
		cl = cl.AddDate(0, 0, 7)
	}
	return cl
}

// TimeUntilOpen returns the duration until the next open, 0 when open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t.UTC())
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(NextClose(t).Sub(t.UTC())))
	}
	next := NextOpen(t)
	return fmt.Sprintf("Market Closed, opens %s %s UTC (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t.UTC())))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
