package markethours

import "time"

// Fixed-date closures observed by liquidity providers every year.
var fxHolidays = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // New Year's Day
	{time.December, 25}, // Christmas Day
}

// IsHoliday reports whether the UTC calendar day of t is an FX holiday.
func IsHoliday(t time.Time) bool {
	u := t.UTC()
	for _, h := range fxHolidays {
		if u.Month() == h.month && u.Day() == h.day {
			return true
		}
	}
	return false
}
