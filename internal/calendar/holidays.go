package calendar

import (
	"sort"
	"sync"
	"time"
)

// Holiday is a full-day US equity market closure
type Holiday struct {
	Date time.Time
	Name string
}

var (
	cacheMu sync.Mutex
	cache   = make(map[int]map[time.Time]string)
)

// Holidays returns the NYSE full-day closures observed in year, sorted by date
func Holidays(year int) []Holiday {
	set := holidaySet(year)
	out := make([]Holiday, 0, len(set))
	for d, name := range set {
		out = append(out, Holiday{Date: d, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func holidaySet(year int) map[time.Time]string {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if set, ok := cache[year]; ok {
		return set
	}

	set := make(map[time.Time]string, 10)
	add := func(d time.Time, name string) {
		if d.Year() == year {
			set[d] = name
		}
	}

	// New Year's Day: Sunday moves to Monday, Saturday is not observed
	newYear := date(year, time.January, 1)
	switch newYear.Weekday() {
	case time.Sunday:
		add(newYear.AddDate(0, 0, 1), "New Year's Day")
	case time.Saturday:
	default:
		add(newYear, "New Year's Day")
	}

	add(nthWeekday(year, time.January, time.Monday, 3), "Martin Luther King Jr. Day")
	add(nthWeekday(year, time.February, time.Monday, 3), "Washington's Birthday")
	add(Easter(year).AddDate(0, 0, -2), "Good Friday")
	add(lastWeekday(year, time.May, time.Monday), "Memorial Day")
	if year >= 2022 {
		add(observed(date(year, time.June, 19)), "Juneteenth")
	}
	add(observed(date(year, time.July, 4)), "Independence Day")
	add(nthWeekday(year, time.September, time.Monday, 1), "Labor Day")
	add(nthWeekday(year, time.November, time.Thursday, 4), "Thanksgiving Day")
	add(observed(date(year, time.December, 25)), "Christmas Day")

	cache[year] = set
	return set
}

// Easter returns Gregorian Easter Sunday (anonymous computus)
func Easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451

	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1

	return date(year, time.Month(month), day)
}

// nthWeekday finds the nth occurrence of weekday in month (n starts at 1)
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := date(year, month, 1)
	offset := int(weekday - d.Weekday())
	if offset < 0 {
		offset += 7
	}
	return d.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday finds the last occurrence of weekday in month
func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	d := date(year, month+1, 0)
	offset := int(d.Weekday() - weekday)
	if offset < 0 {
		offset += 7
	}
	return d.AddDate(0, 0, -offset)
}

// observed shifts a fixed-date holiday off the weekend:
// Saturday -> Friday, Sunday -> Monday
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
