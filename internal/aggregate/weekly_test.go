package aggregate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorscan/internal/bartest"
	"factorscan/pkg/model"
)

// fiveDayWeek is Mon 2025-09-08 .. Fri 2025-09-12 closing 10,11,9,12,13
func fiveDayWeek() []model.Bar {
	closes := []float64{10, 11, 9, 12, 13}
	dates := bartest.TradingDays(bartest.Date(2025, 9, 8), 5)
	bars := make([]model.Bar, 5)
	for i, c := range closes {
		bars[i] = model.Bar{
			Symbol: "AAPL",
			Date:   dates[i],
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 200,
		}
	}
	return bars
}

func TestWeekly_RoundTrip(t *testing.T) {
	got := Weekly(fiveDayWeek())
	require.Len(t, got, 1)

	w := got[0]
	assert.Equal(t, "AAPL", w.Symbol)
	assert.Equal(t, 10.0, w.Open)
	assert.Equal(t, 13.0, w.Close)
	assert.Equal(t, 14.0, w.High)
	assert.Equal(t, 8.0, w.Low)
	assert.Equal(t, int64(1000), w.Volume)
	assert.True(t, w.Date.Equal(bartest.Date(2025, 9, 12)))
}

func TestWeekly_OrderIndependent(t *testing.T) {
	bars := bartest.Linear("MSFT", bartest.Date(2025, 9, 12), 30, 100, 0.5)
	want := Weekly(bars)

	shuffled := make([]model.Bar, len(bars))
	copy(shuffled, bars)
	rand.New(rand.NewSource(9)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	assert.Equal(t, want, Weekly(shuffled))
}

func TestWeekly_HolidayAndYearBoundary(t *testing.T) {
	// Dec 29 2025 .. Jan 2 2026 is ISO week 2026-W01; Jan 1 is a holiday
	dates := bartest.TradingDays(bartest.Date(2025, 12, 22), 8)
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	got := Weekly(bartest.FromCloses("X", dates, closes))
	require.Len(t, got, 2)

	assert.True(t, got[0].Date.Equal(bartest.Date(2025, 12, 26)), "Christmas week ends Friday 26th")
	assert.True(t, got[1].Date.Equal(bartest.Date(2026, 1, 2)))
	assert.Equal(t, 8.0, got[1].Close)

	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Date.After(got[i-1].Date))
	}
}

func TestWeekly_AdjustedCloseFromLastDay(t *testing.T) {
	bars := fiveDayWeek()
	adj := 12.5
	bars[4].AdjustedClose = &adj

	got := Weekly(bars)
	require.NotNil(t, got[0].AdjustedClose)
	assert.Equal(t, 12.5, *got[0].AdjustedClose)

	adj = 1
	assert.Equal(t, 12.5, *got[0].AdjustedClose, "weekly bar must not alias the daily value")
}

func TestWeeklyAll_GroupsBySymbol(t *testing.T) {
	bars := append(bartest.Linear("msft", bartest.Date(2025, 9, 12), 10, 100, 1),
		fiveDayWeek()...)
	got := WeeklyAll(bars)
	// MSFT spans three ISO weeks: Aug 29, Sep 2-5 and Sep 8-12
	require.Len(t, got, 4)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.Equal(t, "MSFT", got[1].Symbol)
	assert.True(t, got[1].Date.Equal(bartest.Date(2025, 8, 29)))
	assert.True(t, got[3].Date.Equal(bartest.Date(2025, 9, 12)))
}

func TestWeekly_Empty(t *testing.T) {
	assert.Nil(t, Weekly(nil))
	assert.Nil(t, WeeklyAll(nil))
}
