package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarValidate(t *testing.T) {
	day := time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC)
	valid := Bar{Symbol: "AAPL", Date: day, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1000}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(*Bar)
	}{
		{"lowercase symbol", func(b *Bar) { b.Symbol = "aapl" }},
		{"no symbol", func(b *Bar) { b.Symbol = "" }},
		{"no date", func(b *Bar) { b.Date = time.Time{} }},
		{"zero close", func(b *Bar) { b.Close = 0 }},
		{"negative volume", func(b *Bar) { b.Volume = -1 }},
		{"high below close", func(b *Bar) { b.High = 10.5 }},
		{"low above open", func(b *Bar) { b.Low = 10.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid
			tt.modify(&b)
			assert.ErrorIs(t, b.Validate(), ErrInvalidRecord)
		})
	}
}

func TestBarGeometry(t *testing.T) {
	b := Bar{Open: 10, High: 13, Low: 8, Close: 12}
	assert.Equal(t, 2.0, b.Body())
	assert.Equal(t, 12.0, b.BodyHigh())
	assert.Equal(t, 10.0, b.BodyLow())
	assert.Equal(t, 1.0, b.UpperShadow())
	assert.Equal(t, 2.0, b.LowerShadow())
	assert.Equal(t, 5.0, b.Range())
	assert.True(t, b.IsBullish())

	b.Open, b.Close = b.Close, b.Open
	assert.True(t, b.IsBearish())
	assert.Equal(t, 2.0, b.Body())
}

func TestDates(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	late := time.Date(2025, 9, 12, 23, 30, 0, 0, ny)
	assert.Equal(t, time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC), DateOf(late), "calendar date in the value's own zone")

	d, err := ParseDate(" 2025-09-12 ")
	require.NoError(t, err)
	assert.Equal(t, DateOf(late), d)

	_, err = ParseDate("09/12/2025")
	assert.Error(t, err)
}

func TestRunReportLookups(t *testing.T) {
	r := &RunReport{
		Results:    []AnalysisResult{{Symbol: "AAPL", FinalScore: 72}},
		Exclusions: []Exclusion{{Symbol: "NEW", Factor: FactorVolatility, Reason: ReasonInsufficientHistory}},
		StartedAt:  time.Unix(100, 0),
		FinishedAt: time.Unix(103, 0),
	}

	res, ok := r.Result("AAPL")
	require.True(t, ok)
	assert.Equal(t, 72.0, res.FinalScore)
	_, ok = r.Result("MSFT")
	assert.False(t, ok)

	assert.True(t, r.Excluded("NEW", ""))
	assert.True(t, r.Excluded("NEW", FactorVolatility))
	assert.False(t, r.Excluded("NEW", FactorMomentum))
	assert.Equal(t, 3*time.Second, r.Duration())
}
