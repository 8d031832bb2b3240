package factor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorscan/internal/bartest"
	"factorscan/pkg/model"
)

var end = bartest.Date(2025, 9, 12)

func TestReturn(t *testing.T) {
	r, err := Return(101, 100)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, 1e-12)

	_, err = Return(10, 0)
	assert.Error(t, err)
}

func TestRelativeStrengthScore_Clamp(t *testing.T) {
	tests := []struct {
		name         string
		stock, bench float64
		want         float64
	}{
		{"outperform saturates", 30, 0, 100},
		{"underperform saturates", -30, 0, 0},
		{"one point ahead", 2, 1, 52},
		{"one point behind", 1, 2, 48},
		{"equal", 1.5, 1.5, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RelativeStrengthScore(tt.stock, tt.bench, 2))
		})
	}
}

func TestRelativeStrengthScore_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		stock := rng.NormFloat64() * 20
		bench := rng.NormFloat64() * 20

		s := RelativeStrengthScore(stock, bench, 2)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 100.0)
		assert.Equal(t, 50.0, RelativeStrengthScore(stock, stock, 2))
	}
}

func TestRelativeStrengthRatio(t *testing.T) {
	assert.Equal(t, 2.0, RelativeStrengthRatio(1.2, 0.0005))
	assert.Equal(t, 0.5, RelativeStrengthRatio(-1.2, -0.0005))
	assert.Equal(t, 1.0, RelativeStrengthRatio(0, 0))
	assert.InDelta(t, 3.0, RelativeStrengthRatio(3, 1), 1e-12)
}

func TestVolatility_Insufficient(t *testing.T) {
	s := NewScorer(DefaultConfig())
	_, err := s.Volatility(bartest.Linear("X", end, MinVolatilityBars-1, 100, 1))
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.ErrorIs(t, err, model.ErrInsufficientHistory)

	_, err = s.Volatility(bartest.Linear("X", end, MinVolatilityBars, 100, 1))
	assert.NoError(t, err)
}

func TestVolatility_FlatSeries(t *testing.T) {
	rows := make([]bartest.OHLC, 30)
	for i := range rows {
		rows[i] = bartest.OHLC{O: 40, H: 40, L: 40, C: 40}
	}
	v, err := NewScorer(DefaultConfig()).Volatility(bartest.FromOHLC("FLAT", bartest.Date(2025, 1, 2), rows))
	require.NoError(t, err)

	// zero ATR costs 20 points; an undefined %b contributes nothing
	assert.Equal(t, 30.0, v.Score)
	assert.False(t, v.Bands.PositionDefined())
}

func TestVolatility_ScoreBounds(t *testing.T) {
	s := NewScorer(DefaultConfig())
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 100; trial++ {
		closes := make([]float64, 40)
		price := 50.0
		for i := range closes {
			price *= 1 + rng.NormFloat64()*0.04
			closes[i] = price
		}
		bars := bartest.FromCloses("RND", bartest.TradingDaysEndingAt(end, 40), closes)
		v, err := s.Volatility(bars)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v.Score, 0.0)
		assert.LessOrEqual(t, v.Score, 100.0)
	}
}

func TestATRAdjustment(t *testing.T) {
	s := NewScorer(DefaultConfig())
	tests := []struct {
		ratio, want float64
	}{
		{0, -20},
		{1, 0},
		{2, 20},
		{3.5, 20},
		{5, 20},
		{7, 10},
		{20, -30},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, s.atrAdjustment(tt.ratio), 1e-12, "ratio %v", tt.ratio)
	}
}

func TestPctBAdjustment(t *testing.T) {
	s := NewScorer(DefaultConfig())
	tests := []struct {
		pos, want float64
	}{
		{0.25, 30},
		{0.2, 30},
		{0.3, 30},
		{0.1, 15},
		{0.5, 0},
		{1, -30},
		{0, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, s.pctBAdjustment(tt.pos), 1e-9, "%%b %v", tt.pos)
	}
}

func TestMomentum(t *testing.T) {
	s := NewScorer(DefaultConfig())

	up, err := s.Momentum(bartest.Linear("UP", end, 20, 100, 1))
	require.NoError(t, err)
	assert.Equal(t, 90.0, up.Score)
	assert.Greater(t, up.SMAFast, up.SMASlow)
	assert.Greater(t, up.Histogram, 0.0)

	down, err := s.Momentum(bartest.Linear("DOWN", end, 20, 100, -1))
	require.NoError(t, err)
	assert.Equal(t, 10.0, down.Score)

	_, err = s.Momentum(bartest.Linear("SHORT", end, MinMomentumBars-1, 100, 1))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func directional(n int, step float64) []bartest.OHLC {
	rows := make([]bartest.OHLC, n)
	for i := range rows {
		base := 100 + float64(i)*step
		rows[i] = bartest.OHLC{O: base, H: base + 1, L: base - 1, C: base + step/2}
	}
	return rows
}

func TestTrendStrength(t *testing.T) {
	s := NewScorer(DefaultConfig())
	start := bartest.Date(2025, 1, 2)

	up, err := s.TrendStrength(bartest.FromOHLC("UP", start, directional(40, 1)))
	require.NoError(t, err)
	assert.Equal(t, 80.0, up.Score)
	assert.Greater(t, up.ADX, 25.0)

	down, err := s.TrendStrength(bartest.FromOHLC("DOWN", start, directional(40, -1)))
	require.NoError(t, err)
	assert.Equal(t, 20.0, down.Score)

	// Alternating bars: directional movement cancels out
	rows := make([]bartest.OHLC, 40)
	for i := range rows {
		shift := 0.0
		if i%2 == 1 {
			shift = 0.5
		}
		rows[i] = bartest.OHLC{O: 100 + shift, H: 101 + shift, L: 99 + shift, C: 100 + shift}
	}
	weak, err := s.TrendStrength(bartest.FromOHLC("CHOP", start, rows))
	require.NoError(t, err)
	assert.Equal(t, 40.0, weak.Score)

	_, err = s.TrendStrength(bartest.FromOHLC("SHORT", start, directional(28, 1)))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestMinBars(t *testing.T) {
	assert.Equal(t, 29, NewScorer(DefaultConfig()).MinBars())
}
