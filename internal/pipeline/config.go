package pipeline

import (
	"fmt"

	"factorscan/internal/factor"
	"factorscan/internal/pattern"
	"factorscan/pkg/model"
)

// Config controls a pipeline run
type Config struct {
	Benchmark      string
	Cadence        model.Cadence
	Workers        int
	Lookback       int // bars per symbol window
	ForwardPeriods int
	LongThreshold  float64
	ShortThreshold float64
	Weights        map[model.FactorName]float64
	Factors        factor.Config
	Pattern        pattern.Config
}

// DefaultConfig returns a daily configuration benchmarked against SPY
func DefaultConfig() Config {
	return Config{
		Benchmark:      "SPY",
		Cadence:        model.Daily,
		Workers:        8,
		Lookback:       60,
		ForwardPeriods: model.ForwardPeriods,
		LongThreshold:  70,
		ShortThreshold: 30,
		Weights:        DefaultWeights(),
		Factors:        factor.DefaultConfig(),
		Pattern:        pattern.DefaultConfig(),
	}
}

// DefaultWeights weights every factor equally
func DefaultWeights() map[model.FactorName]float64 {
	w := make(map[model.FactorName]float64, len(model.Factors))
	for _, f := range model.Factors {
		w[f] = 1
	}
	return w
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Benchmark == "" {
		return fmt.Errorf("pipeline: benchmark symbol is required")
	}
	if c.Cadence != model.Daily && c.Cadence != model.Weekly {
		return fmt.Errorf("pipeline: unknown cadence %q", c.Cadence)
	}
	if c.Workers < 1 {
		return fmt.Errorf("pipeline: workers must be at least 1")
	}
	if need := factor.NewScorer(c.Factors).MinBars(); c.Lookback < need {
		return fmt.Errorf("pipeline: lookback %d is shorter than the %d bars the scorers need", c.Lookback, need)
	}
	if c.ForwardPeriods < 0 || c.ForwardPeriods > model.ForwardPeriods {
		return fmt.Errorf("pipeline: forward periods must be between 0 and %d", model.ForwardPeriods)
	}
	if c.ShortThreshold >= c.LongThreshold {
		return fmt.Errorf("pipeline: short threshold %.1f must be below long threshold %.1f", c.ShortThreshold, c.LongThreshold)
	}

	var total float64
	for _, f := range model.Factors {
		w, ok := c.Weights[f]
		if !ok {
			return fmt.Errorf("pipeline: missing weight for %s", f)
		}
		if w < 0 {
			return fmt.Errorf("pipeline: weight for %s is negative", f)
		}
		total += w
	}
	if total == 0 {
		return fmt.Errorf("pipeline: weights sum to zero")
	}
	return nil
}

// finalScore is the weighted mean of the sub-scores
func (c Config) finalScore(scores map[model.FactorName]float64) float64 {
	var sum, total float64
	for _, f := range model.Factors {
		w := c.Weights[f]
		sum += w * scores[f]
		total += w
	}
	return factor.Clamp(sum / total)
}

func (c Config) classify(score float64) model.Signal {
	switch {
	case score >= c.LongThreshold:
		return model.SignalLong
	case score <= c.ShortThreshold:
		return model.SignalShort
	default:
		return model.SignalNeutral
	}
}
