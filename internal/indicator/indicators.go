// Package indicator computes technical indicators over price windows.
//
// Series functions return a slice aligned with the input where undefined
// positions hold NaN; scalar functions return ErrInsufficientData when the
// window is shorter than their lookback. Nothing in this package panics on
// short input.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"factorscan/pkg/model"
)

// ErrInsufficientData reports a window shorter than an indicator's lookback
var ErrInsufficientData = fmt.Errorf("indicator: %w", model.ErrInsufficientHistory)

// Default periods
const (
	DefaultRSIPeriod    = 14
	DefaultATRPeriod    = 14
	DefaultADXPeriod    = 14
	DefaultBBPeriod     = 20
	DefaultBBMultiplier = 2.0
	DefaultMACDFast     = 12
	DefaultMACDSlow     = 26
	DefaultMACDSignal   = 9
)

func insufficient(name string, have, need int) error {
	return fmt.Errorf("%s needs %d values, have %d: %w", name, need, have, ErrInsufficientData)
}

// IsInsufficient reports whether err is an insufficient-data error
func IsInsufficient(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// SMA returns the simple moving average series. Indices before period-1 are
// NaN; nil is returned when len(values) < period.
func SMA(values []float64, period int) []float64 {
	if period < 1 || len(values) < period {
		return nil
	}
	out := talib.Sma(values, period)
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}
	return out
}

// EMA returns the exponential moving average series seeded with the first
// value: ema[i] = v[i]*k + ema[i-1]*(1-k), k = 2/(period+1).
// nil is returned for empty input or period < 1.
func EMA(values []float64, period int) []float64 {
	if period < 1 || len(values) == 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// Last returns the final element of a series, NaN if empty
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// MACDSeries holds the MACD line, its signal line and the histogram
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// LastHistogram returns the most recent histogram value
func (m MACDSeries) LastHistogram() float64 {
	return Last(m.Histogram)
}

// MACD computes EMA(fast) - EMA(slow), its EMA(signal) and the difference.
// The fast average must be fully formed, so len(values) >= fast.
func MACD(values []float64, fast, slow, signal int) (MACDSeries, error) {
	if fast < 1 || slow < 1 || signal < 1 {
		return MACDSeries{}, fmt.Errorf("macd: invalid periods %d/%d/%d", fast, slow, signal)
	}
	if len(values) < fast {
		return MACDSeries{}, insufficient("macd", len(values), fast)
	}

	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	line := make([]float64, len(values))
	for i := range values {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)
	hist := make([]float64, len(values))
	for i := range values {
		hist[i] = line[i] - sig[i]
	}
	return MACDSeries{Line: line, Signal: sig, Histogram: hist}, nil
}

// RSI computes Wilder's relative strength index of the final close. The
// first average is the mean of the first period changes, later changes are
// smoothed as avg = (avg*(period-1) + x) / period. A window with no losses
// saturates at 100.
func RSI(closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("rsi: invalid period %d", period)
	}
	if len(closes) < period+1 {
		return 0, insufficient("rsi", len(closes), period+1)
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// TrueRange is max(h-l, |h-prevClose|, |l-prevClose|)
func TrueRange(bar model.Bar, prevClose float64) float64 {
	return math.Max(bar.High-bar.Low, math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}

// ATRResult holds the average true range and its ratio to the last close
type ATRResult struct {
	ATR   float64
	Ratio float64 // ATR / close * 100
}

// ATR averages the true range over the last period bars. The oldest bar in
// the window only supplies a previous close, so period+1 bars are needed.
func ATR(bars []model.Bar, period int) (ATRResult, error) {
	if period < 1 {
		return ATRResult{}, fmt.Errorf("atr: invalid period %d", period)
	}
	if len(bars) < period+1 {
		return ATRResult{}, insufficient("atr", len(bars), period+1)
	}

	start := len(bars) - period
	ranges := make([]float64, 0, period)
	for i := start; i < len(bars); i++ {
		ranges = append(ranges, TrueRange(bars[i], bars[i-1].Close))
	}
	atr := stat.Mean(ranges, nil)

	res := ATRResult{ATR: atr}
	if last := bars[len(bars)-1].Close; last > 0 {
		res.Ratio = atr / last * 100
	}
	return res, nil
}

// Bands are Bollinger Bands over the trailing window
type Bands struct {
	Middle   float64
	Upper    float64
	Lower    float64
	StdDev   float64
	Width    float64 // (upper-lower)/middle * 100
	Position float64 // %b of the last close, clamped to [0,1]; NaN on a flat band
}

// PositionDefined reports whether %b is meaningful (non-zero band width)
func (b Bands) PositionDefined() bool {
	return !math.IsNaN(b.Position)
}

// Bollinger computes bands from the population standard deviation of the
// last period closes.
func Bollinger(closes []float64, period int, k float64) (Bands, error) {
	if period < 1 {
		return Bands{}, fmt.Errorf("bollinger: invalid period %d", period)
	}
	if len(closes) < period {
		return Bands{}, insufficient("bollinger", len(closes), period)
	}

	window := closes[len(closes)-period:]
	mean, std := stat.PopMeanStdDev(window, nil)

	b := Bands{
		Middle:   mean,
		Upper:    mean + k*std,
		Lower:    mean - k*std,
		StdDev:   std,
		Position: math.NaN(),
	}
	if mean != 0 {
		b.Width = (b.Upper - b.Lower) / mean * 100
	}

	spread := b.Upper - b.Lower
	if spread > 0 {
		pos := (closes[len(closes)-1] - b.Lower) / spread
		b.Position = math.Max(0, math.Min(1, pos))
	}
	return b, nil
}

// DirectionalIndex carries ADX and the directional indicators
type DirectionalIndex struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADX computes Wilder's average directional index. talib needs 2*period-1
// bars of lookback; one more bar is required so the last value is smoothed
// at least once.
func ADX(bars []model.Bar, period int) (DirectionalIndex, error) {
	if period < 2 {
		return DirectionalIndex{}, fmt.Errorf("adx: invalid period %d", period)
	}
	need := 2*period + 1
	if len(bars) < need {
		return DirectionalIndex{}, insufficient("adx", len(bars), need)
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
	}

	return DirectionalIndex{
		ADX:     Last(talib.Adx(highs, lows, closes, period)),
		PlusDI:  Last(talib.PlusDI(highs, lows, closes, period)),
		MinusDI: Last(talib.MinusDI(highs, lows, closes, period)),
	}, nil
}
