package indicator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorscan/internal/bartest"
	"factorscan/pkg/model"
)

func TestSMA_Boundary(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, got, 5)

	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, 2.0, got[2], "first defined index is the exact mean")
	assert.Equal(t, 3.0, got[3])
	assert.Equal(t, 4.0, got[4])
}

func TestSMA_Insufficient(t *testing.T) {
	assert.Nil(t, SMA([]float64{1, 2}, 3))
	assert.Nil(t, SMA(nil, 1))
	assert.Nil(t, SMA([]float64{1, 2}, 0))
}

func TestEMA(t *testing.T) {
	got := EMA([]float64{10, 20, 20}, 3) // k = 0.5
	assert.Equal(t, []float64{10, 15, 17.5}, got)

	assert.Nil(t, EMA(nil, 3))
	assert.Equal(t, []float64{7}, EMA([]float64{7}, 30), "seed is the first value")
}

func TestMACD(t *testing.T) {
	rising := make([]float64, 40)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	m, err := MACD(rising, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	require.NoError(t, err)
	require.Len(t, m.Histogram, 40)
	assert.Greater(t, Last(m.Line), 0.0)
	assert.Greater(t, m.LastHistogram(), 0.0)
	for i := range rising {
		assert.InDelta(t, m.Line[i]-m.Signal[i], m.Histogram[i], 1e-12)
	}

	falling := make([]float64, 40)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	m, err = MACD(falling, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	require.NoError(t, err)
	assert.Less(t, m.LastHistogram(), 0.0)

	_, err = MACD(rising[:5], DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.ErrorIs(t, err, model.ErrInsufficientHistory)
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
	}{
		{"strictly increasing saturates", []float64{1, 2, 3, 4, 5, 6}, 5, 100},
		{"non-decreasing with flats saturates", []float64{1, 1, 2, 2, 3, 3}, 5, 100},
		{"flat window saturates", []float64{5, 5, 5, 5}, 3, 100},
		{"balanced moves", []float64{1, 2, 1}, 2, 50},
		{"strictly decreasing", []float64{6, 5, 4, 3, 2, 1}, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RSI(tt.closes, tt.period)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRSI_WilderSmoothing(t *testing.T) {
	// first avg: gain 1/2, loss 1/2; then a +2 move: gain (0.5+2)/2, loss 0.25
	got, err := RSI([]float64{1, 2, 1, 3}, 2)
	require.NoError(t, err)
	rs := 1.25 / 0.25
	assert.InDelta(t, 100-100/(1+rs), got, 1e-9)
}

func TestRSI_Insufficient(t *testing.T) {
	_, err := RSI([]float64{1, 2, 3}, 14)
	assert.True(t, IsInsufficient(err))
}

func TestATR(t *testing.T) {
	rows := make([]bartest.OHLC, 15)
	for i := range rows {
		rows[i] = bartest.OHLC{O: 50, H: 51, L: 49, C: 50}
	}
	bars := bartest.FromOHLC("TEST", bartest.Date(2025, 1, 2), rows)

	got, err := ATR(bars, 14)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got.ATR, 1e-12)
	assert.InDelta(t, 4.0, got.Ratio, 1e-12)

	_, err = ATR(bars[:14], 14)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTrueRange_UsesGap(t *testing.T) {
	bar := model.Bar{Open: 60, High: 61, Low: 59, Close: 60}
	assert.Equal(t, 11.0, TrueRange(bar, 50))
	assert.Equal(t, 2.0, TrueRange(bar, 60))
}

func TestBollinger_KnownValues(t *testing.T) {
	b, err := Bollinger([]float64{1, 2, 3, 4, 5}, 5, 2)
	require.NoError(t, err)

	std := math.Sqrt(2)
	assert.InDelta(t, 3.0, b.Middle, 1e-12)
	assert.InDelta(t, std, b.StdDev, 1e-12)
	assert.InDelta(t, 3+2*std, b.Upper, 1e-12)
	assert.InDelta(t, 3-2*std, b.Lower, 1e-12)
	assert.InDelta(t, 4*std/3*100, b.Width, 1e-9)
	assert.InDelta(t, (5-(3-2*std))/(4*std), b.Position, 1e-12)
}

func TestBollinger_PositionBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		closes := make([]float64, 25)
		for i := range closes {
			closes[i] = 50 + rng.NormFloat64()*5
		}
		if trial%3 == 0 {
			closes[len(closes)-1] = 500 // far above the upper band
		}
		b, err := Bollinger(closes, 20, 2)
		require.NoError(t, err)
		require.Greater(t, b.Width, 0.0)
		require.True(t, b.PositionDefined())
		assert.GreaterOrEqual(t, b.Position, 0.0)
		assert.LessOrEqual(t, b.Position, 1.0)
	}
}

func TestBollinger_FlatBand(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 42
	}
	b, err := Bollinger(closes, 20, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, b.Width)
	assert.False(t, b.PositionDefined())
}

func TestBollinger_Insufficient(t *testing.T) {
	_, err := Bollinger([]float64{1, 2, 3}, 20, 2)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestADX_StrongUptrend(t *testing.T) {
	rows := make([]bartest.OHLC, 40)
	for i := range rows {
		base := 100 + float64(i)
		rows[i] = bartest.OHLC{O: base, H: base + 1, L: base - 1, C: base + 0.5}
	}
	bars := bartest.FromOHLC("UP", bartest.Date(2025, 1, 2), rows)

	di, err := ADX(bars, 14)
	require.NoError(t, err)
	assert.Greater(t, di.ADX, 25.0)
	assert.Greater(t, di.PlusDI, di.MinusDI)
}

func TestADX_Insufficient(t *testing.T) {
	bars := bartest.Linear("X", bartest.Date(2025, 3, 3), 28, 10, 0.1)
	_, err := ADX(bars, 14)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
