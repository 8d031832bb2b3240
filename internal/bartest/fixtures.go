// Package bartest builds synthetic bar series for tests.
package bartest

import (
	"time"

	"factorscan/internal/calendar"
	"factorscan/pkg/model"
)

// DefaultVolume is the volume given to generated bars
const DefaultVolume = 1_000_000

// Date is a short constructor for a UTC calendar date
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TradingDays returns n consecutive trading days starting at (or after) start
func TradingDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := model.DateOf(start)
	if !calendar.IsTradingDay(d) {
		d = calendar.NextTradingDay(d)
	}
	for len(out) < n {
		out = append(out, d)
		d = calendar.NextTradingDay(d)
	}
	return out
}

// TradingDaysEndingAt returns n consecutive trading days whose last day is end
func TradingDaysEndingAt(end time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	d := calendar.LatestTradingDay(end)
	for i := n - 1; i >= 0; i-- {
		out[i] = d
		d = calendar.PreviousTradingDay(d)
	}
	return out
}

// FromCloses builds bars on the given dates where each bar opens at the
// previous close and spans +/-1% around its body.
func FromCloses(symbol string, dates []time.Time, closes []float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		hi, lo := open, c
		if c > open {
			hi, lo = c, open
		}
		bars[i] = model.Bar{
			Symbol: symbol,
			Date:   dates[i],
			Open:   open,
			High:   hi * 1.01,
			Low:    lo * 0.99,
			Close:  c,
			Volume: DefaultVolume,
		}
	}
	return bars
}

// Linear builds n bars ending at end whose closes move by step per bar
func Linear(symbol string, end time.Time, n int, first, step float64) []model.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = first + float64(i)*step
	}
	return FromCloses(symbol, TradingDaysEndingAt(end, n), closes)
}

// OHLC is a compact bar literal for hand-built pattern fixtures
type OHLC struct {
	O, H, L, C float64
	V          int64
}

// FromOHLC turns literals into bars on consecutive trading days from start
func FromOHLC(symbol string, start time.Time, rows []OHLC) []model.Bar {
	dates := TradingDays(start, len(rows))
	bars := make([]model.Bar, len(rows))
	for i, r := range rows {
		v := r.V
		if v == 0 {
			v = DefaultVolume
		}
		bars[i] = model.Bar{
			Symbol: symbol,
			Date:   dates[i],
			Open:   r.O,
			High:   r.H,
			Low:    r.L,
			Close:  r.C,
			Volume: v,
		}
	}
	return bars
}
