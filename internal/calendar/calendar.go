// Package calendar resolves US equity trading days. Every date is treated as
// a calendar date: the clock and location of the input are ignored.
package calendar

import (
	"time"

	"factorscan/pkg/model"
)

// maxScan bounds the day-by-day walks; no real calendar has a closure run
// anywhere near this long.
const maxScan = 31

// IsHoliday reports whether d is a rule-based market holiday
func IsHoliday(d time.Time) bool {
	d = normalize(d)
	_, ok := holidaySet(d.Year())[d]
	return ok
}

// HolidayName returns the holiday name for d, or "" if d is not a holiday
func HolidayName(d time.Time) string {
	d = normalize(d)
	return holidaySet(d.Year())[d]
}

// IsWeekend reports whether d falls on Saturday or Sunday
func IsWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsTradingDay reports whether the market is open on d
func IsTradingDay(d time.Time) bool {
	d = normalize(d)
	return !IsWeekend(d) && !IsHoliday(d)
}

// PreviousTradingDay returns the closest trading day strictly before d
func PreviousTradingDay(d time.Time) time.Time {
	d = normalize(d)
	for i := 0; i < maxScan; i++ {
		d = d.AddDate(0, 0, -1)
		if IsTradingDay(d) {
			return d
		}
	}
	panic("calendar: no trading day found within a month before " + d.Format(model.DateLayout))
}

// NextTradingDay returns the closest trading day strictly after d
func NextTradingDay(d time.Time) time.Time {
	d = normalize(d)
	for i := 0; i < maxScan; i++ {
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			return d
		}
	}
	panic("calendar: no trading day found within a month after " + d.Format(model.DateLayout))
}

// NthTradingDayAfter returns the nth trading day after d (n >= 1).
// n <= 0 returns d itself.
func NthTradingDayAfter(d time.Time, n int) time.Time {
	d = normalize(d)
	for i := 0; i < n; i++ {
		d = NextTradingDay(d)
	}
	return d
}

// TradingDaysBetween counts trading days in (from, to]
func TradingDaysBetween(from, to time.Time) int {
	from, to = normalize(from), normalize(to)
	count := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			count++
		}
	}
	return count
}

// LatestTradingDay returns d if it is a trading day, else the one before it
func LatestTradingDay(d time.Time) time.Time {
	d = normalize(d)
	if IsTradingDay(d) {
		return d
	}
	return PreviousTradingDay(d)
}

func normalize(d time.Time) time.Time {
	if d.IsZero() {
		panic("calendar: zero date")
	}
	return model.DateOf(d)
}
