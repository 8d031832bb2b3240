package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorscan/internal/aggregate"
	"factorscan/internal/barstore"
	"factorscan/internal/bartest"
	"factorscan/pkg/model"
)

var evalDate = bartest.Date(2025, 9, 12)

func newPipeline(t *testing.T, modify ...func(*Config)) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 4
	for _, m := range modify {
		m(&cfg)
	}
	p, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	p.SetClock(func() time.Time { return time.Date(2025, 9, 12, 22, 0, 0, 0, time.UTC) })
	return p
}

func dailyStore(t *testing.T, extra ...[]model.Bar) *barstore.Store {
	t.Helper()
	bars := bartest.Linear("SPY", evalDate, 80, 400, 0.5)
	bars = append(bars, bartest.Linear("AAPL", evalDate, 80, 100, 1)...)
	bars = append(bars, bartest.Linear("MSFT", evalDate, 80, 300, -1)...)
	for _, e := range extra {
		bars = append(bars, e...)
	}
	s, stats := barstore.New(bars)
	require.Zero(t, stats.Rejected)
	return s
}

func TestRun_ScoresUniverse(t *testing.T) {
	p := newPipeline(t)
	report, err := p.Run(context.Background(), dailyStore(t), []string{"aapl", "MSFT", "AAPL"}, evalDate)
	require.NoError(t, err)

	assert.Equal(t, model.StateDone, report.State)
	assert.Equal(t, model.StateDone, p.State())
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Universe, "duplicates and case variants collapse")
	require.Len(t, report.Results, 2)
	assert.Empty(t, report.Exclusions)
	assert.GreaterOrEqual(t, report.Results[0].FinalScore, report.Results[1].FinalScore)

	res, ok := report.Result("AAPL")
	require.True(t, ok)
	assert.Equal(t, report.RunID, res.RunID)
	assert.Equal(t, 179.0, res.Close)
	require.Len(t, res.Scores, 4)

	stockRet := (179.0 - 178.0) / 178.0 * 100
	benchRet := (439.5 - 439.0) / 439.0 * 100
	rs, _ := res.Score(model.FactorRelativeStrength)
	assert.InDelta(t, 50+2*(stockRet-benchRet), rs, 1e-9)
	assert.InDelta(t, stockRet, res.Indicators.StockReturn, 1e-9)
	assert.InDelta(t, benchRet, res.Indicators.BenchmarkReturn, 1e-9)

	var mean float64
	for _, f := range model.Factors {
		v, ok := res.Score(f)
		require.True(t, ok, f)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
		mean += v / 4
	}
	assert.InDelta(t, mean, res.FinalScore, 1e-9)

	require.NotNil(t, res.Pattern)
	assert.True(t, res.Pattern.Date.Equal(evalDate))
	for _, fp := range res.ForwardPrices {
		assert.Nil(t, fp, "no bars after the evaluation date")
	}
}

func TestRun_InsufficientHistoryExcluded(t *testing.T) {
	p := newPipeline(t)
	short := bartest.Linear("SHORT", evalDate, 20, 50, 0.2)
	report, err := p.Run(context.Background(), dailyStore(t, short), []string{"AAPL", "SHORT"}, evalDate)
	require.NoError(t, err)

	assert.True(t, report.Excluded("SHORT", model.FactorVolatility))
	assert.True(t, report.Excluded("SHORT", model.FactorTrendStrength))
	assert.False(t, report.Excluded("SHORT", model.FactorMomentum))
	_, ok := report.Result("SHORT")
	assert.False(t, ok, "excluded symbol must not get a fabricated result")

	require.Len(t, report.Exclusions, 2)
	assert.Equal(t, model.FactorVolatility, report.Exclusions[0].Factor)
	assert.Equal(t, model.FactorTrendStrength, report.Exclusions[1].Factor)
	for _, e := range report.Exclusions {
		assert.Equal(t, model.ReasonInsufficientHistory, e.Reason)
	}

	_, ok = report.Result("AAPL")
	assert.True(t, ok)
}

func TestRun_MissingAnchorBar(t *testing.T) {
	p := newPipeline(t)
	stale := bartest.Linear("STALE", bartest.Date(2025, 9, 5), 80, 20, 0.1)
	report, err := p.Run(context.Background(), dailyStore(t, stale), []string{"STALE", "AAPL"}, evalDate)
	require.NoError(t, err)

	require.Len(t, report.Exclusions, 1)
	e := report.Exclusions[0]
	assert.Equal(t, "STALE", e.Symbol)
	assert.Equal(t, model.ReasonMissingBar, e.Reason)
	assert.Empty(t, e.Factor)
	assert.Len(t, report.Results, 1)
}

func TestRun_GlobalFailures(t *testing.T) {
	t.Run("empty universe", func(t *testing.T) {
		p := newPipeline(t)
		report, err := p.Run(context.Background(), dailyStore(t), []string{" ", ""}, evalDate)
		assert.ErrorIs(t, err, model.ErrEmptyUniverse)
		assert.Equal(t, model.StateFailed, report.State)
		assert.Equal(t, model.StateFailed, p.State())
		assert.NotEmpty(t, report.Err)
	})

	t.Run("no benchmark data", func(t *testing.T) {
		p := newPipeline(t, func(c *Config) { c.Benchmark = "QQQ" })
		report, err := p.Run(context.Background(), dailyStore(t), []string{"AAPL"}, evalDate)
		assert.ErrorIs(t, err, model.ErrNoBenchmarkData)
		assert.Equal(t, model.StateFailed, report.State)
		assert.Empty(t, report.Results)
	})

	t.Run("benchmark without a previous bar", func(t *testing.T) {
		p := newPipeline(t, func(c *Config) { c.Benchmark = "ONE" })
		one := []model.Bar{{Symbol: "ONE", Date: evalDate, Open: 1, High: 1, Low: 1, Close: 1}}
		_, err := p.Run(context.Background(), dailyStore(t, one), []string{"AAPL"}, evalDate)
		assert.ErrorIs(t, err, model.ErrNoBenchmarkData)
	})
}

func TestRun_ForwardPrices(t *testing.T) {
	p := newPipeline(t)
	report, err := p.Run(context.Background(), dailyStore(t), []string{"AAPL"}, bartest.Date(2025, 9, 8))
	require.NoError(t, err)

	res, ok := report.Result("AAPL")
	require.True(t, ok)
	want := []float64{176, 177, 178, 179}
	for i, w := range want {
		require.NotNil(t, res.ForwardPrices[i], "slot %d", i)
		assert.Equal(t, w, *res.ForwardPrices[i])
	}
	assert.Nil(t, res.ForwardPrices[4], "missing future bar stays unset")
}

func TestRun_PreviousBarFallback(t *testing.T) {
	var aapl []model.Bar
	for _, b := range bartest.Linear("GAP", evalDate, 80, 100, 1) {
		if !b.Date.Equal(bartest.Date(2025, 9, 11)) {
			aapl = append(aapl, b)
		}
	}
	p := newPipeline(t)
	report, err := p.Run(context.Background(), dailyStore(t, aapl), []string{"GAP"}, evalDate)
	require.NoError(t, err)

	res, ok := report.Result("GAP")
	require.True(t, ok)
	assert.InDelta(t, (179.0-177.0)/177.0*100, res.Indicators.StockReturn, 1e-9)
}

func TestRun_ThresholdsAndWeights(t *testing.T) {
	store := dailyStore(t)

	base, err := newPipeline(t).Run(context.Background(), store, []string{"AAPL"}, evalDate)
	require.NoError(t, err)
	res, _ := base.Result("AAPL")

	// Long threshold just at the score classifies as Long
	p := newPipeline(t, func(c *Config) {
		c.LongThreshold = res.FinalScore
		c.ShortThreshold = res.FinalScore - 1
	})
	report, err := p.Run(context.Background(), store, []string{"AAPL"}, evalDate)
	require.NoError(t, err)
	assert.Equal(t, model.SignalLong, report.Results[0].FinalSignal)

	// Only momentum counts
	p = newPipeline(t, func(c *Config) {
		c.Weights = map[model.FactorName]float64{
			model.FactorRelativeStrength: 0,
			model.FactorVolatility:       0,
			model.FactorMomentum:         1,
			model.FactorTrendStrength:    0,
		}
	})
	report, err = p.Run(context.Background(), store, []string{"AAPL"}, evalDate)
	require.NoError(t, err)
	mom, _ := report.Results[0].Score(model.FactorMomentum)
	assert.Equal(t, mom, report.Results[0].FinalScore)
	assert.Equal(t, 90.0, mom)
	assert.Equal(t, model.SignalLong, report.Results[0].FinalSignal)
}

func TestRun_StateTransitions(t *testing.T) {
	p := newPipeline(t)
	var states []model.RunState
	p.OnStateChange(func(_ string, s model.RunState) { states = append(states, s) })

	assert.Equal(t, model.StateIdle, p.State())
	_, err := p.Run(context.Background(), dailyStore(t), []string{"AAPL"}, evalDate)
	require.NoError(t, err)
	assert.Equal(t, []model.RunState{
		model.StateLoading,
		model.StatePerSymbolScoring,
		model.StateAggregating,
		model.StateDone,
	}, states)
}

func TestRun_Cancellation(t *testing.T) {
	var symbols []string
	var extra [][]model.Bar
	for _, s := range []string{"A1", "A2", "A3", "A4", "A5", "A6"} {
		symbols = append(symbols, s)
		extra = append(extra, bartest.Linear(s, evalDate, 60, 50, 0.5))
	}
	store := dailyStore(t, extra...)

	ctx, cancel := context.WithCancel(context.Background())
	p := newPipeline(t, func(c *Config) { c.Workers = 1 })
	var once sync.Once
	p.SetProgressCallback(func(scored, total int) {
		once.Do(cancel)
	})

	report, err := p.Run(ctx, store, symbols, evalDate)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, model.StateDone, report.State)
	assert.Len(t, report.Results, 1, "the symbol finished before cancellation is kept")
}

func TestRun_WeeklyCadence(t *testing.T) {
	daily := bartest.Linear("SPY", evalDate, 260, 400, 0.5)
	daily = append(daily, bartest.Linear("AAPL", evalDate, 260, 100, 1)...)
	store, _ := barstore.New(aggregate.WeeklyAll(daily))

	p := newPipeline(t, func(c *Config) { c.Cadence = model.Weekly })
	// Wednesday; the weekly bar for this ISO week is dated Friday Aug 29
	report, err := p.Run(context.Background(), store, []string{"AAPL"}, bartest.Date(2025, 8, 27))
	require.NoError(t, err)

	res, ok := report.Result("AAPL")
	require.True(t, ok, "exclusions: %+v", report.Exclusions)
	assert.Equal(t, model.Weekly, res.Cadence)
	assert.True(t, res.EvaluationDate.Equal(bartest.Date(2025, 8, 29)))
	assert.Equal(t, 350.0, res.Close)

	require.NotNil(t, res.ForwardPrices[0])
	require.NotNil(t, res.ForwardPrices[1])
	assert.Equal(t, 354.0, *res.ForwardPrices[0])
	assert.Equal(t, 359.0, *res.ForwardPrices[1])
	assert.Nil(t, res.ForwardPrices[2])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no benchmark", func(c *Config) { c.Benchmark = "" }},
		{"bad cadence", func(c *Config) { c.Cadence = "monthly" }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"short lookback", func(c *Config) { c.Lookback = 20 }},
		{"inverted thresholds", func(c *Config) { c.ShortThreshold = 80 }},
		{"negative weight", func(c *Config) { c.Weights[model.FactorMomentum] = -1 }},
		{"missing weight", func(c *Config) { delete(c.Weights, model.FactorVolatility) }},
		{"too many forward periods", func(c *Config) { c.ForwardPeriods = 6 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}
