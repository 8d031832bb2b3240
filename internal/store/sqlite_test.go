package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorscan/pkg/model"
)

var day = time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "factorscan.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fp(v float64) *float64 { return &v }

func result(runID, symbol string, final float64, signal model.Signal) model.AnalysisResult {
	r := model.AnalysisResult{
		RunID:          runID,
		Symbol:         symbol,
		EvaluationDate: day,
		Cadence:        model.Daily,
		Close:          100,
		Scores:         map[model.FactorName]model.FactorScore{},
		FinalScore:     final,
		FinalSignal:    signal,
		Indicators:     model.IndicatorSnapshot{StockReturn: 1.5, ADX: 31, BBPosition: fp(0.25)},
		ComputedAt:     time.UnixMilli(1757714400000).UTC(),
	}
	for i, f := range model.Factors {
		r.Scores[f] = model.FactorScore{Name: f, Symbol: symbol, Date: day, Value: float64(40 + 10*i)}
	}
	return r
}

func report(runID string, results ...model.AnalysisResult) *model.RunReport {
	return &model.RunReport{
		RunID:          runID,
		EvaluationDate: day,
		Cadence:        model.Daily,
		Benchmark:      "SPY",
		State:          model.StateDone,
		Universe:       len(results) + 1,
		Results:        results,
		Exclusions: []model.Exclusion{
			{Symbol: "NEW", Factor: model.FactorVolatility, Reason: model.ReasonInsufficientHistory, Detail: "20 bars"},
		},
		StartedAt:  time.UnixMilli(1757714000000).UTC(),
		FinishedAt: time.UnixMilli(1757714400000).UTC(),
	}
}

func TestSQLite_PragmasOnEveryConnection(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	// hold several connections at once so the pool has to open new ones
	for i := 0; i < 3; i++ {
		conn, err := s.db.Conn(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		var timeout int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 5000, timeout, "connection %d", i)

		var mode string
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode, "connection %d", i)
	}
}

func TestSQLite_SaveAndQuery(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	aapl := result("run-1", "AAPL", 75, model.SignalLong)
	aapl.ForwardPrices[0] = fp(101)
	aapl.Pattern = &model.Pattern{Name: model.PatternHammer, Direction: model.Bullish, Trend: model.TrendDown}
	msft := result("run-1", "MSFT", 45, model.SignalNeutral)

	require.NoError(t, s.SaveReport(ctx, report("run-1", aapl, msft)))

	got, err := s.Results(ctx, Query{Date: day, Cadence: model.Daily})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AAPL", got[0].Symbol, "best score first")

	r := got[0]
	assert.Equal(t, "run-1", r.RunID)
	assert.True(t, r.EvaluationDate.Equal(day))
	assert.Equal(t, 75.0, r.FinalScore)
	assert.Equal(t, model.SignalLong, r.FinalSignal)
	assert.Equal(t, aapl.Scores, r.Scores)
	require.NotNil(t, r.ForwardPrices[0])
	assert.Equal(t, 101.0, *r.ForwardPrices[0])
	assert.Nil(t, r.ForwardPrices[1])
	require.NotNil(t, r.Pattern)
	assert.Equal(t, model.PatternHammer, r.Pattern.Name)
	assert.Equal(t, aapl.Indicators, r.Indicators)
	assert.True(t, r.ComputedAt.Equal(aapl.ComputedAt))

	longs, err := s.Results(ctx, Query{Signal: model.SignalLong})
	require.NoError(t, err)
	require.Len(t, longs, 1)

	one, err := s.Results(ctx, Query{Symbol: "msft"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Nil(t, one[0].Pattern)

	limited, err := s.Results(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_UpsertMergesPartialRows(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	first := result("run-1", "AAPL", 75, model.SignalLong)
	first.ForwardPrices[0] = fp(101)
	first.ForwardPrices[1] = fp(102)
	first.Pattern = &model.Pattern{Name: model.PatternHammer, Direction: model.Bullish, Trend: model.TrendDown}
	require.NoError(t, s.SaveReport(ctx, report("run-1", first)))

	// Re-run later: a new forward price is known, an earlier one is absent
	second := result("run-2", "AAPL", 72, model.SignalLong)
	second.ForwardPrices[1] = fp(102.5)
	second.ForwardPrices[2] = fp(103)
	require.NoError(t, s.SaveReport(ctx, report("run-2", second)))

	got, err := s.Results(ctx, Query{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	assert.Equal(t, "run-2", r.RunID)
	assert.Equal(t, 72.0, r.FinalScore)
	require.NotNil(t, r.ForwardPrices[0])
	assert.Equal(t, 101.0, *r.ForwardPrices[0], "kept from the earlier row")
	assert.Equal(t, 102.5, *r.ForwardPrices[1], "non-null value wins")
	assert.Equal(t, 103.0, *r.ForwardPrices[2])
	assert.Nil(t, r.ForwardPrices[3])
	require.NotNil(t, r.Pattern, "pattern kept from the earlier row")
}

func TestSQLite_RunsAndExclusions(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rep := report("run-1", result("run-1", "AAPL", 75, model.SignalLong))
	require.NoError(t, s.SaveReport(ctx, rep))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, model.StateDone, runs[0].State)
	assert.Equal(t, 1, runs[0].Results)
	assert.Equal(t, 1, runs[0].Exclusions)
	assert.False(t, runs[0].Cancelled)
	assert.True(t, runs[0].EvaluationDate.Equal(day))

	excl, err := s.Exclusions(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rep.Exclusions, excl)

	// Saving the same run again does not duplicate exclusions
	require.NoError(t, s.SaveReport(ctx, rep))
	excl, err = s.Exclusions(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, excl, 1)
}

func TestSQLite_LatestDate(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	latest, err := s.LatestDate(ctx, model.Daily)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	require.NoError(t, s.SaveReport(ctx, report("run-1", result("run-1", "AAPL", 75, model.SignalLong))))
	latest, err = s.LatestDate(ctx, model.Daily)
	require.NoError(t, err)
	assert.True(t, latest.Equal(day))

	latest, err = s.LatestDate(ctx, model.Weekly)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())
}

func TestSQLite_Favorites(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFavorites(ctx, "default", []string{"msft", " AAPL", "", "MSFT", "nvda"}))
	got, err := s.LoadFavorites(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "AAPL", "NVDA"}, got)

	require.NoError(t, s.SaveFavorites(ctx, "default", []string{"TSLA"}))
	got, err = s.LoadFavorites(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"TSLA"}, got)

	got, err = s.LoadFavorites(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNoop(t *testing.T) {
	var s ResultStore = Noop{}
	ctx := context.Background()

	require.NoError(t, s.SaveReport(ctx, report("x")))
	got, err := s.Results(ctx, Query{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, s.Close())
}
