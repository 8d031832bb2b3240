// Package factor maps indicator output to the four 0-100 sub-scores.
//
// Every score starts from a neutral 50 and is clamped to [0,100]. A scorer
// whose window is too short returns ErrInsufficientData instead of a
// midpoint.
package factor

import (
	"fmt"
	"math"

	"factorscan/internal/indicator"
	"factorscan/pkg/model"
)

// ErrInsufficientData is returned when a scorer's window is too short
var ErrInsufficientData = fmt.Errorf("factor: %w", model.ErrInsufficientHistory)

// Minimum window lengths per scorer
const (
	MinVolatilityBars = 21
	MinMomentumBars   = 15
)

// Neutral is the score of an uninformative reading
const Neutral = 50.0

// Config holds scorer periods and transforms
type Config struct {
	// Relative strength
	RSScale float64 `yaml:"rs_scale"`

	// Volatility
	ATRPeriod    int     `yaml:"atr_period"`
	BBPeriod     int     `yaml:"bb_period"`
	BBMultiplier float64 `yaml:"bb_multiplier"`
	ATRBandLow   float64 `yaml:"atr_band_low"`  // healthy ATR%, lower edge
	ATRBandHigh  float64 `yaml:"atr_band_high"` // healthy ATR%, upper edge
	PctBLow      float64 `yaml:"pctb_low"`
	PctBHigh     float64 `yaml:"pctb_high"`

	// Momentum
	SMAFast    int `yaml:"sma_fast"`
	SMASlow    int `yaml:"sma_slow"`
	MACDFast   int `yaml:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow"`
	MACDSignal int `yaml:"macd_signal"`

	// Trend strength
	ADXPeriod int     `yaml:"adx_period"`
	WeakADX   float64 `yaml:"weak_adx"`
	StrongADX float64 `yaml:"strong_adx"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		RSScale:      2,
		ATRPeriod:    indicator.DefaultATRPeriod,
		BBPeriod:     indicator.DefaultBBPeriod,
		BBMultiplier: indicator.DefaultBBMultiplier,
		ATRBandLow:   2,
		ATRBandHigh:  5,
		PctBLow:      0.2,
		PctBHigh:     0.3,
		SMAFast:      3,
		SMASlow:      12,
		MACDFast:     indicator.DefaultMACDFast,
		MACDSlow:     indicator.DefaultMACDSlow,
		MACDSignal:   indicator.DefaultMACDSignal,
		ADXPeriod:    indicator.DefaultADXPeriod,
		WeakADX:      15,
		StrongADX:    25,
	}
}

// Score adjustments
const (
	atrInBand      = 20.0
	atrAtZero      = -20.0
	atrPerPoint    = 5.0
	atrFloor       = -30.0
	pctBInBand     = 30.0
	pctBSlope      = 150.0
	pctBFloor      = -30.0
	crossoverPts   = 25.0
	histogramPts   = 15.0
	weakTrendScore = 40.0
	moderatePts    = 15.0
	strongPts      = 30.0
)

// Clamp bounds a score to [0,100]
func Clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func insufficient(factor model.FactorName, have, need int) error {
	return fmt.Errorf("%s needs %d bars, have %d: %w", factor, need, have, ErrInsufficientData)
}

// Scorer computes sub-scores with a fixed configuration
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Return is the percent change from prev to cur
func Return(cur, prev float64) (float64, error) {
	if prev <= 0 {
		return 0, fmt.Errorf("return: non-positive base price %v", prev)
	}
	return (cur - prev) / prev * 100, nil
}

// RelativeStrengthScore is clamp(50 + scale*(stock - bench)). Equal returns
// give exactly 50.
func RelativeStrengthScore(stockReturn, benchReturn, scale float64) float64 {
	return Clamp(Neutral + scale*(stockReturn-benchReturn))
}

// RelativeStrengthRatio divides the stock return by the benchmark return. A
// benchmark return within 0.001 of zero yields a fixed ratio instead: 2 when
// the stock rose, 0.5 when it fell, 1 when it was flat.
func RelativeStrengthRatio(stockReturn, benchReturn float64) float64 {
	if math.Abs(benchReturn) < 0.001 {
		switch {
		case stockReturn > 0:
			return 2
		case stockReturn < 0:
			return 0.5
		default:
			return 1
		}
	}
	return stockReturn / benchReturn
}

// RelativeStrength scores a return differential
func (s *Scorer) RelativeStrength(stockReturn, benchReturn float64) float64 {
	return RelativeStrengthScore(stockReturn, benchReturn, s.cfg.RSScale)
}

// VolatilityReading is the volatility score and its inputs
type VolatilityReading struct {
	Score float64
	ATR   indicator.ATRResult
	Bands indicator.Bands
}

// Volatility rewards an ATR% inside the healthy band and a %b near the
// lower band.
func (s *Scorer) Volatility(bars []model.Bar) (VolatilityReading, error) {
	if len(bars) < MinVolatilityBars {
		return VolatilityReading{}, insufficient(model.FactorVolatility, len(bars), MinVolatilityBars)
	}

	atr, err := indicator.ATR(bars, s.cfg.ATRPeriod)
	if err != nil {
		return VolatilityReading{}, fmt.Errorf("%s: %w", model.FactorVolatility, err)
	}
	bands, err := indicator.Bollinger(model.Closes(bars), s.cfg.BBPeriod, s.cfg.BBMultiplier)
	if err != nil {
		return VolatilityReading{}, fmt.Errorf("%s: %w", model.FactorVolatility, err)
	}

	score := Neutral + s.atrAdjustment(atr.Ratio)
	if bands.PositionDefined() {
		score += s.pctBAdjustment(bands.Position)
	}
	return VolatilityReading{Score: Clamp(score), ATR: atr, Bands: bands}, nil
}

func (s *Scorer) atrAdjustment(ratio float64) float64 {
	lo, hi := s.cfg.ATRBandLow, s.cfg.ATRBandHigh
	switch {
	case ratio >= lo && ratio <= hi:
		return atrInBand
	case ratio < lo:
		if lo <= 0 {
			return atrAtZero
		}
		return atrAtZero + (atrInBand-atrAtZero)*math.Max(ratio, 0)/lo
	default:
		return math.Max(atrFloor, atrInBand-atrPerPoint*(ratio-hi))
	}
}

func (s *Scorer) pctBAdjustment(pos float64) float64 {
	lo, hi := s.cfg.PctBLow, s.cfg.PctBHigh
	var dist float64
	switch {
	case pos < lo:
		dist = lo - pos
	case pos > hi:
		dist = pos - hi
	default:
		return pctBInBand
	}
	return math.Max(pctBFloor, pctBInBand-pctBSlope*dist)
}

// MomentumReading is the momentum score and its inputs
type MomentumReading struct {
	Score     float64
	SMAFast   float64
	SMASlow   float64
	Histogram float64
}

// Momentum adds or subtracts for the SMA crossover state and the sign of the
// MACD histogram.
func (s *Scorer) Momentum(bars []model.Bar) (MomentumReading, error) {
	if len(bars) < MinMomentumBars {
		return MomentumReading{}, insufficient(model.FactorMomentum, len(bars), MinMomentumBars)
	}

	closes := model.Closes(bars)
	fast := indicator.Last(indicator.SMA(closes, s.cfg.SMAFast))
	slow := indicator.Last(indicator.SMA(closes, s.cfg.SMASlow))
	if math.IsNaN(fast) || math.IsNaN(slow) {
		return MomentumReading{}, insufficient(model.FactorMomentum, len(bars), max(s.cfg.SMAFast, s.cfg.SMASlow))
	}
	macd, err := indicator.MACD(closes, s.cfg.MACDFast, s.cfg.MACDSlow, s.cfg.MACDSignal)
	if err != nil {
		return MomentumReading{}, fmt.Errorf("%s: %w", model.FactorMomentum, err)
	}
	hist := macd.LastHistogram()

	score := Neutral
	switch {
	case fast > slow:
		score += crossoverPts
	case fast < slow:
		score -= crossoverPts
	}
	switch {
	case hist > 0:
		score += histogramPts
	case hist < 0:
		score -= histogramPts
	}

	return MomentumReading{Score: Clamp(score), SMAFast: fast, SMASlow: slow, Histogram: hist}, nil
}

// TrendReading is the trend-strength score and its inputs
type TrendReading struct {
	Score float64
	indicator.DirectionalIndex
}

// TrendStrength scores ADX: a weak trend sits just below neutral, moderate
// and strong trends move the score by 15 or 30 points in the direction of
// the dominant directional indicator.
func (s *Scorer) TrendStrength(bars []model.Bar) (TrendReading, error) {
	need := 2*s.cfg.ADXPeriod + 1
	if len(bars) < need {
		return TrendReading{}, insufficient(model.FactorTrendStrength, len(bars), need)
	}
	di, err := indicator.ADX(bars, s.cfg.ADXPeriod)
	if err != nil {
		return TrendReading{}, fmt.Errorf("%s: %w", model.FactorTrendStrength, err)
	}

	if di.ADX < s.cfg.WeakADX {
		return TrendReading{Score: weakTrendScore, DirectionalIndex: di}, nil
	}

	pts := moderatePts
	if di.ADX >= s.cfg.StrongADX {
		pts = strongPts
	}
	score := Neutral
	switch {
	case di.PlusDI > di.MinusDI:
		score += pts
	case di.PlusDI < di.MinusDI:
		score -= pts
	}
	return TrendReading{Score: Clamp(score), DirectionalIndex: di}, nil
}

// MinBars is the longest window any scorer needs
func (s *Scorer) MinBars() int {
	return max(MinVolatilityBars, MinMomentumBars, 2*s.cfg.ADXPeriod+1,
		s.cfg.ATRPeriod+1, s.cfg.BBPeriod, s.cfg.SMASlow)
}

// Config returns the scorer's configuration
func (s *Scorer) Config() Config {
	return s.cfg
}
