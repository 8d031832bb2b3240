package model

import "time"

// Direction is the bias implied by a candlestick pattern
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Trend is the prevailing trend at a bar (EMA10 vs EMA30)
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// PatternName identifies a candlestick pattern from the catalog
type PatternName string

const (
	PatternNormal           PatternName = "Normal"
	PatternHammer           PatternName = "Hammer"
	PatternShootingStar     PatternName = "Shooting Star"
	PatternBullishEngulfing PatternName = "Bullish Engulfing"
	PatternBearishEngulfing PatternName = "Bearish Engulfing"
	PatternPiercing         PatternName = "Piercing Pattern"
	PatternDarkCloudCover   PatternName = "Dark Cloud Cover"
	PatternMorningStar      PatternName = "Morning Star"
	PatternEveningStar      PatternName = "Evening Star"
	PatternFallingWindow    PatternName = "Falling Window"
	PatternDumplingTop      PatternName = "Dumpling Top"
)

// Pattern is the detector's verdict for one bar. Name is PatternNormal when
// the bar was scanned and nothing in the catalog matched.
type Pattern struct {
	Index     int         `json:"index"`
	Date      time.Time   `json:"date"`
	Name      PatternName `json:"pattern"`
	Direction Direction   `json:"direction"`
	Trend     Trend       `json:"trend"`
}

// Matched reports whether a catalog pattern was found
func (p Pattern) Matched() bool {
	return p.Name != PatternNormal && p.Name != ""
}

// FactorName names one of the four sub-scores
type FactorName string

const (
	FactorRelativeStrength FactorName = "relativeStrength"
	FactorVolatility       FactorName = "volatility"
	FactorMomentum         FactorName = "momentum"
	FactorTrendStrength    FactorName = "trendStrength"
)

// Factors lists the sub-scores in composite order
var Factors = []FactorName{
	FactorRelativeStrength,
	FactorVolatility,
	FactorMomentum,
	FactorTrendStrength,
}

// FactorScore is a single 0-100 sub-score
type FactorScore struct {
	Name   FactorName `json:"name"`
	Symbol string     `json:"symbol"`
	Date   time.Time  `json:"date"`
	Value  float64    `json:"value"`
}

// Signal is the composite classification
type Signal string

const (
	SignalLong    Signal = "Long"
	SignalNeutral Signal = "Neutral"
	SignalShort   Signal = "Short"
)

// ForwardPeriods is the number of forward price slots on a result
const ForwardPeriods = 5

// IndicatorSnapshot carries the raw indicator values behind the scores
type IndicatorSnapshot struct {
	StockReturn     float64  `json:"stock_return"`
	BenchmarkReturn float64  `json:"benchmark_return"`
	RSRatio         float64  `json:"rs_ratio"`
	RSI             float64  `json:"rsi,omitempty"`
	ATRRatio        float64  `json:"atr_ratio"`
	BBWidth         float64  `json:"bb_width"`
	BBPosition      *float64 `json:"bb_position,omitempty"`
	SMAFast         float64  `json:"sma_fast"`
	SMASlow         float64  `json:"sma_slow"`
	MACDHistogram   float64  `json:"macd_histogram"`
	ADX             float64  `json:"adx"`
}

// AnalysisResult is one output row per symbol per evaluation date
type AnalysisResult struct {
	RunID          string                     `json:"run_id"`
	Symbol         string                     `json:"symbol"`
	EvaluationDate time.Time                  `json:"evaluation_date"`
	Cadence        Cadence                    `json:"cadence"`
	Close          float64                    `json:"close"`
	Scores         map[FactorName]FactorScore `json:"scores"`
	FinalScore     float64                    `json:"final_score"`
	FinalSignal    Signal                     `json:"final_signal"`
	ForwardPrices  [ForwardPeriods]*float64   `json:"forward_prices"`
	Pattern        *Pattern                   `json:"pattern,omitempty"`
	Indicators     IndicatorSnapshot          `json:"indicators"`
	ComputedAt     time.Time                  `json:"computed_at"`
}

// Score returns the value of a named sub-score, if present
func (r AnalysisResult) Score(name FactorName) (float64, bool) {
	s, ok := r.Scores[name]
	return s.Value, ok
}

// ExclusionReason classifies why a symbol produced no result
type ExclusionReason string

const (
	ReasonInsufficientHistory ExclusionReason = "InsufficientHistory"
	ReasonMissingBar          ExclusionReason = "MissingBar"
)

// Exclusion records a symbol skipped by a run. Factor is empty when the
// exclusion is not tied to a single scorer.
type Exclusion struct {
	Symbol string          `json:"symbol"`
	Factor FactorName      `json:"factor,omitempty"`
	Reason ExclusionReason `json:"reason"`
	Detail string          `json:"detail"`
}

// RunState tracks a pipeline run
type RunState string

const (
	StateIdle             RunState = "Idle"
	StateLoading          RunState = "Loading"
	StatePerSymbolScoring RunState = "PerSymbolScoring"
	StateAggregating      RunState = "Aggregating"
	StateDone             RunState = "Done"
	StateFailed           RunState = "Failed"
)

// RunReport is the outcome of one pipeline run
type RunReport struct {
	RunID          string           `json:"run_id"`
	EvaluationDate time.Time        `json:"evaluation_date"`
	Cadence        Cadence          `json:"cadence"`
	Benchmark      string           `json:"benchmark"`
	State          RunState         `json:"state"`
	Universe       int              `json:"universe"`
	Results        []AnalysisResult `json:"results"`
	Exclusions     []Exclusion      `json:"exclusions"`
	Cancelled      bool             `json:"cancelled,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	Err            string           `json:"error,omitempty"`
}

// Duration returns how long the run took
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Excluded reports whether symbol appears in the diagnostics, optionally for
// a specific factor (empty matches any)
func (r *RunReport) Excluded(symbol string, factor FactorName) bool {
	for _, e := range r.Exclusions {
		if e.Symbol == symbol && (factor == "" || e.Factor == factor) {
			return true
		}
	}
	return false
}

// Result looks up a symbol's result
func (r *RunReport) Result(symbol string) (AnalysisResult, bool) {
	for _, res := range r.Results {
		if res.Symbol == symbol {
			return res, true
		}
	}
	return AnalysisResult{}, false
}
