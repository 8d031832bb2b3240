// Package pipeline runs the per-symbol factor scoring for one evaluation date.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"factorscan/internal/calendar"
	"factorscan/internal/factor"
	"factorscan/internal/indicator"
	"factorscan/internal/pattern"
	"factorscan/pkg/model"
)

// BarSource is the read side of a bar snapshot
type BarSource interface {
	Get(symbol string, date time.Time) (model.Bar, error)
	Window(symbol string, endDate time.Time, length int) []model.Bar
	AtOrBefore(symbol string, date time.Time) (model.Bar, error)
	Before(symbol string, date time.Time) (model.Bar, error)
	After(symbol string, date time.Time, n int) []model.Bar
}

// ProgressCallback is called after each symbol is scored
type ProgressCallback func(scored, total int)

// StateCallback is called on every state transition
type StateCallback func(runID string, state model.RunState)

// Pipeline scores a universe against a benchmark. Runs on the same
// Pipeline are serialized; State reports the current run's progress.
type Pipeline struct {
	cfg      Config
	scorer   *factor.Scorer
	detector *pattern.Detector
	log      zerolog.Logger
	now      func() time.Time

	progressFunc ProgressCallback
	stateFunc    StateCallback

	runMu sync.Mutex
	mu    sync.RWMutex
	state model.RunState
}

// New creates a pipeline
func New(cfg Config, log zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		scorer:   factor.NewScorer(cfg.Factors),
		detector: pattern.NewDetector(cfg.Pattern),
		log:      log.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
		state:    model.StateIdle,
	}, nil
}

// SetProgressCallback sets the progress callback function
func (p *Pipeline) SetProgressCallback(fn ProgressCallback) {
	p.progressFunc = fn
}

// OnStateChange registers a state transition hook
func (p *Pipeline) OnStateChange(fn StateCallback) {
	p.stateFunc = fn
}

// SetClock replaces the wall clock used for timestamps
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// State returns the state of the current (or last) run
func (p *Pipeline) State() model.RunState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() Config {
	return p.cfg
}

func (p *Pipeline) setState(report *model.RunReport, s model.RunState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	report.State = s

	p.log.Debug().Str("run_id", report.RunID).Str("state", string(s)).Msg("state change")
	if p.stateFunc != nil {
		p.stateFunc(report.RunID, s)
	}
}

func (p *Pipeline) fail(report *model.RunReport, err error) (*model.RunReport, error) {
	report.Err = err.Error()
	report.FinishedAt = p.now()
	p.setState(report, model.StateFailed)
	p.log.Error().Err(err).Str("run_id", report.RunID).Msg("run failed")
	return report, err
}

// benchmarkContext is the benchmark move every symbol is compared against
type benchmarkContext struct {
	anchor model.Bar
	prev   model.Bar
	ret    float64
}

// Run scores every symbol in universe on evaluationDate. Only an empty
// universe or missing benchmark data fail the run; per-symbol problems end
// up in the report's exclusions. Cancelling ctx stops scheduling new
// symbols and keeps the results already computed.
func (p *Pipeline) Run(ctx context.Context, bars BarSource, universe []string, evaluationDate time.Time) (*model.RunReport, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	evalDate := model.DateOf(evaluationDate)
	report := &model.RunReport{
		RunID:          uuid.NewString(),
		EvaluationDate: evalDate,
		Cadence:        p.cfg.Cadence,
		Benchmark:      p.cfg.Benchmark,
		Results:        []model.AnalysisResult{},
		Exclusions:     []model.Exclusion{},
		StartedAt:      p.now(),
	}
	log := p.log.With().Str("run_id", report.RunID).Logger()

	p.setState(report, model.StateLoading)

	symbols := normalizeUniverse(universe)
	report.Universe = len(symbols)
	if len(symbols) == 0 {
		return p.fail(report, model.ErrEmptyUniverse)
	}

	bench, err := p.loadBenchmark(bars, evalDate)
	if err != nil {
		return p.fail(report, err)
	}
	log.Info().
		Str("evaluation_date", evalDate.Format(model.DateLayout)).
		Str("cadence", string(p.cfg.Cadence)).
		Int("symbols", len(symbols)).
		Float64("benchmark_return", bench.ret).
		Msg("run started")

	p.setState(report, model.StatePerSymbolScoring)
	results, exclusions, cancelled := p.scoreAll(ctx, bars, symbols, bench, report.RunID)

	p.setState(report, model.StateAggregating)
	sortResults(results)
	sortExclusions(exclusions)
	report.Results = results
	report.Exclusions = exclusions
	report.Cancelled = cancelled
	report.FinishedAt = p.now()

	p.setState(report, model.StateDone)
	log.Info().
		Int("results", len(results)).
		Int("exclusions", len(exclusions)).
		Bool("cancelled", cancelled).
		Dur("duration", report.Duration()).
		Msg("run finished")
	return report, nil
}

func (p *Pipeline) loadBenchmark(bars BarSource, evalDate time.Time) (benchmarkContext, error) {
	sym := p.cfg.Benchmark
	anchor, err := p.anchorBar(bars, sym, evalDate)
	if err != nil {
		return benchmarkContext{}, fmt.Errorf("benchmark %s: %w: %v", sym, model.ErrNoBenchmarkData, err)
	}
	prev, err := p.previousBar(bars, sym, anchor.Date)
	if err != nil {
		return benchmarkContext{}, fmt.Errorf("benchmark %s: %w: %v", sym, model.ErrNoBenchmarkData, err)
	}
	ret, err := factor.Return(anchor.Close, prev.Close)
	if err != nil {
		return benchmarkContext{}, fmt.Errorf("benchmark %s: %w: %v", sym, model.ErrNoBenchmarkData, err)
	}
	return benchmarkContext{anchor: anchor, prev: prev, ret: ret}, nil
}

// anchorBar finds the bar a symbol is evaluated on. Daily runs need a bar
// on the evaluation date itself; weekly runs take the weekly bar whose ISO
// week contains it.
func (p *Pipeline) anchorBar(bars BarSource, symbol string, evalDate time.Time) (model.Bar, error) {
	if p.cfg.Cadence != model.Weekly {
		return bars.Get(symbol, evalDate)
	}

	y, w := evalDate.ISOWeek()
	sameWeek := func(b model.Bar) bool {
		by, bw := b.Date.ISOWeek()
		return by == y && bw == w
	}
	if b, err := bars.AtOrBefore(symbol, evalDate); err == nil && sameWeek(b) {
		return b, nil
	}
	if next := bars.After(symbol, evalDate, 1); len(next) == 1 && sameWeek(next[0]) {
		return next[0], nil
	}
	return model.Bar{}, fmt.Errorf("%s week %d-W%02d: %w", symbol, y, w, model.ErrMissingBar)
}

// previousBar resolves the comparison bar. Daily runs look up the previous
// trading day and fall back to the nearest earlier bar when that day is
// missing from the archive; weekly runs use the prior weekly bar.
func (p *Pipeline) previousBar(bars BarSource, symbol string, anchorDate time.Time) (model.Bar, error) {
	if p.cfg.Cadence == model.Weekly {
		return bars.Before(symbol, anchorDate)
	}
	prev, err := bars.Get(symbol, calendar.PreviousTradingDay(anchorDate))
	if err == nil {
		return prev, nil
	}
	if !errors.Is(err, model.ErrMissingBar) {
		return model.Bar{}, err
	}
	return bars.Before(symbol, anchorDate)
}

func (p *Pipeline) scoreAll(ctx context.Context, bars BarSource, symbols []string, bench benchmarkContext, runID string) ([]model.AnalysisResult, []model.Exclusion, bool) {
	type outcome struct {
		result     *model.AnalysisResult
		exclusions []model.Exclusion
	}

	jobChan := make(chan string, len(symbols))
	outChan := make(chan outcome, len(symbols))
	for _, s := range symbols {
		jobChan <- s
	}
	close(jobChan)

	var (
		scoredCount int64
		cancelled   atomic.Bool
		wg          sync.WaitGroup
	)
	workers := min(p.cfg.Workers, len(symbols))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobChan {
				if ctx.Err() != nil {
					cancelled.Store(true)
					return
				}
				res, excl := p.scoreSymbol(bars, sym, bench, runID)
				outChan <- outcome{result: res, exclusions: excl}

				count := atomic.AddInt64(&scoredCount, 1)
				if p.progressFunc != nil {
					p.progressFunc(int(count), len(symbols))
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(outChan)
	}()

	results := []model.AnalysisResult{}
	exclusions := []model.Exclusion{}
	for o := range outChan {
		if o.result != nil {
			results = append(results, *o.result)
		}
		exclusions = append(exclusions, o.exclusions...)
	}
	return results, exclusions, cancelled.Load()
}

func exclusion(symbol string, name model.FactorName, err error) model.Exclusion {
	reason := model.ReasonInsufficientHistory
	if errors.Is(err, model.ErrMissingBar) {
		reason = model.ReasonMissingBar
	}
	return model.Exclusion{Symbol: symbol, Factor: name, Reason: reason, Detail: err.Error()}
}

// scoreSymbol runs the four scorers for one symbol. Any scorer that cannot
// produce a value excludes the symbol; every failing scorer gets its own
// exclusion record.
func (p *Pipeline) scoreSymbol(bars BarSource, symbol string, bench benchmarkContext, runID string) (*model.AnalysisResult, []model.Exclusion) {
	anchor, err := p.anchorBar(bars, symbol, bench.anchor.Date)
	if err != nil {
		return nil, []model.Exclusion{exclusion(symbol, "", err)}
	}

	var excl []model.Exclusion
	var snap model.IndicatorSnapshot
	scores := make(map[model.FactorName]float64, len(model.Factors))

	prev, err := p.previousBar(bars, symbol, anchor.Date)
	if err == nil {
		var ret float64
		if ret, err = factor.Return(anchor.Close, prev.Close); err == nil {
			snap.StockReturn = ret
			snap.BenchmarkReturn = bench.ret
			snap.RSRatio = factor.RelativeStrengthRatio(ret, bench.ret)
			scores[model.FactorRelativeStrength] = p.scorer.RelativeStrength(ret, bench.ret)
		}
	}
	if err != nil {
		if errors.Is(err, model.ErrMissingBar) {
			// no earlier bar at all: the series starts on the anchor
			err = fmt.Errorf("%s has no bar before %s: %w", symbol, anchor.Date.Format(model.DateLayout), model.ErrInsufficientHistory)
		}
		excl = append(excl, exclusion(symbol, model.FactorRelativeStrength, err))
	}

	window := bars.Window(symbol, anchor.Date, p.cfg.Lookback)

	if v, err := p.scorer.Volatility(window); err != nil {
		excl = append(excl, exclusion(symbol, model.FactorVolatility, err))
	} else {
		scores[model.FactorVolatility] = v.Score
		snap.ATRRatio = v.ATR.Ratio
		snap.BBWidth = v.Bands.Width
		if v.Bands.PositionDefined() {
			pos := v.Bands.Position
			snap.BBPosition = &pos
		}
	}

	if m, err := p.scorer.Momentum(window); err != nil {
		excl = append(excl, exclusion(symbol, model.FactorMomentum, err))
	} else {
		scores[model.FactorMomentum] = m.Score
		snap.SMAFast = m.SMAFast
		snap.SMASlow = m.SMASlow
		snap.MACDHistogram = m.Histogram
	}

	if tr, err := p.scorer.TrendStrength(window); err != nil {
		excl = append(excl, exclusion(symbol, model.FactorTrendStrength, err))
	} else {
		scores[model.FactorTrendStrength] = tr.Score
		snap.ADX = tr.ADX
	}

	if len(excl) > 0 {
		p.log.Debug().Str("symbol", symbol).Int("exclusions", len(excl)).Msg("symbol excluded")
		return nil, excl
	}

	if rsi, err := indicator.RSI(model.Closes(window), indicator.DefaultRSIPeriod); err == nil {
		snap.RSI = rsi
	}

	res := &model.AnalysisResult{
		RunID:          runID,
		Symbol:         symbol,
		EvaluationDate: anchor.Date,
		Cadence:        p.cfg.Cadence,
		Close:          anchor.Close,
		Scores:         make(map[model.FactorName]model.FactorScore, len(scores)),
		Indicators:     snap,
		ComputedAt:     p.now(),
	}
	for name, v := range scores {
		res.Scores[name] = model.FactorScore{Name: name, Symbol: symbol, Date: anchor.Date, Value: v}
	}
	res.FinalScore = p.cfg.finalScore(scores)
	res.FinalSignal = p.cfg.classify(res.FinalScore)
	res.ForwardPrices = p.forwardPrices(bars, symbol, anchor.Date)

	if len(window) >= p.detector.Config().MinBars {
		if pat, err := p.detector.Latest(window); err == nil {
			res.Pattern = &pat
		}
	}
	return res, nil
}

// forwardPrices fills the next ForwardPeriods closes after the anchor. A
// missing future bar leaves its slot nil.
func (p *Pipeline) forwardPrices(bars BarSource, symbol string, anchorDate time.Time) [model.ForwardPeriods]*float64 {
	var out [model.ForwardPeriods]*float64
	n := min(p.cfg.ForwardPeriods, model.ForwardPeriods)

	if p.cfg.Cadence == model.Weekly {
		for i, b := range bars.After(symbol, anchorDate, n) {
			c := b.Close
			out[i] = &c
		}
		return out
	}

	for i := 0; i < n; i++ {
		day := calendar.NthTradingDayAfter(anchorDate, i+1)
		if b, err := bars.Get(symbol, day); err == nil {
			c := b.Close
			out[i] = &c
		}
	}
	return out
}

func normalizeUniverse(universe []string) []string {
	seen := make(map[string]bool, len(universe))
	out := make([]string, 0, len(universe))
	for _, s := range universe {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func sortResults(results []model.AnalysisResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].Symbol < results[j].Symbol
	})
}

func factorOrder(name model.FactorName) int {
	for i, f := range model.Factors {
		if f == name {
			return i + 1
		}
	}
	return 0
}

func sortExclusions(excl []model.Exclusion) {
	sort.Slice(excl, func(i, j int) bool {
		if excl[i].Symbol != excl[j].Symbol {
			return excl[i].Symbol < excl[j].Symbol
		}
		return factorOrder(excl[i].Factor) < factorOrder(excl[j].Factor)
	})
}
