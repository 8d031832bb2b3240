// Package pattern recognizes candlestick patterns in the context of the
// prevailing EMA trend.
package pattern

import (
	"fmt"
	"sort"

	"factorscan/internal/indicator"
	"factorscan/pkg/model"
)

// ErrInsufficientBars is returned when a sequence is too short for the
// trend classifier
var ErrInsufficientBars = fmt.Errorf("pattern: %w", model.ErrInsufficientHistory)

// Config holds detection thresholds
type Config struct {
	MinBars   int `yaml:"min_bars"`   // bars required before scanning (slow EMA length)
	TrendFast int `yaml:"trend_fast"` // EMA period of the fast trend line
	TrendSlow int `yaml:"trend_slow"` // EMA period of the slow trend line

	MinVolume int64   `yaml:"min_volume"` // anchor bar volume floor
	MinPrice  float64 `yaml:"min_price"`  // anchor close floor, 0 = unbounded
	MaxPrice  float64 `yaml:"max_price"`  // anchor close ceiling, 0 = unbounded

	ShadowBodyRatio   float64 `yaml:"shadow_body_ratio"`   // long shadow >= ratio * body (hammer, shooting star)
	MaxOppositeShadow float64 `yaml:"max_opposite_shadow"` // short shadow <= fraction of body
	LargeBodyRatio    float64 `yaml:"large_body_ratio"`    // star first bar: body >= fraction of its range
	StarBodyRatio     float64 `yaml:"star_body_ratio"`     // star middle bar: body <= fraction of first body
	WindowGapPct      float64 `yaml:"window_gap_pct"`      // falling window: minimum gap as a fraction of prior low

	DumplingWindow     int `yaml:"dumpling_window"`      // bars in the dumpling top window
	DumplingLeadIn     int `yaml:"dumpling_lead_in"`     // leading bars that must rise
	DumplingLeadBreaks int `yaml:"dumpling_lead_breaks"` // non-rising closes tolerated in the lead-in
	DumplingMaxBreaks  int `yaml:"dumpling_max_breaks"`  // non-declining closes tolerated after the peak
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		MinBars:            30,
		TrendFast:          10,
		TrendSlow:          30,
		ShadowBodyRatio:    2.0,
		MaxOppositeShadow:  0.10,
		LargeBodyRatio:     0.6,
		StarBodyRatio:      0.3,
		WindowGapPct:       0.005,
		DumplingWindow:     20,
		DumplingLeadIn:     10,
		DumplingLeadBreaks: 0,
		DumplingMaxBreaks:  0,
	}
}

// Detector scans bar sequences. It holds no per-scan state and can be
// shared between goroutines.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Config returns the detector's thresholds
func (d *Detector) Config() Config {
	return d.cfg
}

// check evaluates one catalog entry at index i
type check struct {
	name      model.PatternName
	direction model.Direction
	trend     *model.Trend // required trend, nil = any
	match     func(d *Detector, bars []model.Bar, i int) bool
}

var (
	up   = model.TrendUp
	down = model.TrendDown
)

// catalog is evaluated top to bottom; the first match wins
var catalog = []check{
	{model.PatternHammer, model.Bullish, &down, (*Detector).hammer},
	{model.PatternShootingStar, model.Bearish, &up, (*Detector).shootingStar},
	{model.PatternBullishEngulfing, model.Bullish, &down, (*Detector).bullishEngulfing},
	{model.PatternBearishEngulfing, model.Bearish, &up, (*Detector).bearishEngulfing},
	{model.PatternPiercing, model.Bullish, &down, (*Detector).piercing},
	{model.PatternDarkCloudCover, model.Bearish, &up, (*Detector).darkCloudCover},
	{model.PatternMorningStar, model.Bullish, &down, (*Detector).morningStar},
	{model.PatternEveningStar, model.Bearish, &up, (*Detector).eveningStar},
	{model.PatternFallingWindow, model.Bearish, nil, (*Detector).fallingWindow},
	{model.PatternDumplingTop, model.Bearish, nil, (*Detector).dumplingTop},
}

// Scan labels every bar. Bars matching nothing, or failing the volume and
// price filters, are reported as Normal.
func (d *Detector) Scan(bars []model.Bar) ([]model.Pattern, error) {
	if len(bars) < d.cfg.MinBars {
		return nil, fmt.Errorf("scan needs %d bars, have %d: %w", d.cfg.MinBars, len(bars), ErrInsufficientBars)
	}

	trends := d.Trends(bars)
	out := make([]model.Pattern, len(bars))
	for i := range bars {
		out[i] = d.classify(bars, trends, i)
	}
	return out, nil
}

// Latest returns the pattern on the final bar
func (d *Detector) Latest(bars []model.Bar) (model.Pattern, error) {
	patterns, err := d.Scan(bars)
	if err != nil {
		return model.Pattern{}, err
	}
	return patterns[len(patterns)-1], nil
}

// Trends classifies each index as up when EMA(fast) > EMA(slow). The EMAs
// are causal, so the value at i only depends on closes[0..i].
func (d *Detector) Trends(bars []model.Bar) []model.Trend {
	closes := model.Closes(bars)
	fast := indicator.EMA(closes, d.cfg.TrendFast)
	slow := indicator.EMA(closes, d.cfg.TrendSlow)

	out := make([]model.Trend, len(bars))
	for i := range bars {
		if fast[i] > slow[i] {
			out[i] = model.TrendUp
		} else {
			out[i] = model.TrendDown
		}
	}
	return out
}

func (d *Detector) classify(bars []model.Bar, trends []model.Trend, i int) model.Pattern {
	p := model.Pattern{
		Index:     i,
		Date:      bars[i].Date,
		Name:      model.PatternNormal,
		Direction: model.Neutral,
		Trend:     trends[i],
	}
	if !d.passesFilters(bars[i]) {
		return p
	}

	for _, c := range catalog {
		if c.trend != nil && *c.trend != trends[i] {
			continue
		}
		if c.match(d, bars, i) {
			p.Name = c.name
			p.Direction = c.direction
			return p
		}
	}
	return p
}

func (d *Detector) passesFilters(b model.Bar) bool {
	if b.Volume < d.cfg.MinVolume {
		return false
	}
	if d.cfg.MinPrice > 0 && b.Close < d.cfg.MinPrice {
		return false
	}
	if d.cfg.MaxPrice > 0 && b.Close > d.cfg.MaxPrice {
		return false
	}
	return true
}

func (d *Detector) hammer(bars []model.Bar, i int) bool {
	b := bars[i]
	body := b.Body()
	return body > 0 &&
		b.LowerShadow() >= d.cfg.ShadowBodyRatio*body &&
		b.UpperShadow() <= d.cfg.MaxOppositeShadow*body
}

func (d *Detector) shootingStar(bars []model.Bar, i int) bool {
	b := bars[i]
	body := b.Body()
	return body > 0 &&
		b.UpperShadow() >= d.cfg.ShadowBodyRatio*body &&
		b.LowerShadow() <= d.cfg.MaxOppositeShadow*body
}

func (d *Detector) bullishEngulfing(bars []model.Bar, i int) bool {
	if i < 1 {
		return false
	}
	prev, cur := bars[i-1], bars[i]
	return prev.IsBearish() && cur.IsBullish() &&
		cur.Open <= prev.Close && cur.Close >= prev.Open &&
		cur.Body() > prev.Body()
}

func (d *Detector) bearishEngulfing(bars []model.Bar, i int) bool {
	if i < 1 {
		return false
	}
	prev, cur := bars[i-1], bars[i]
	return prev.IsBullish() && cur.IsBearish() &&
		cur.Open >= prev.Close && cur.Close <= prev.Open &&
		cur.Body() > prev.Body()
}

func (d *Detector) piercing(bars []model.Bar, i int) bool {
	if i < 1 {
		return false
	}
	prev, cur := bars[i-1], bars[i]
	mid := (prev.Open + prev.Close) / 2
	return prev.IsBearish() && cur.IsBullish() &&
		cur.Open < prev.Low &&
		cur.Close > mid && cur.Close < prev.Open
}

func (d *Detector) darkCloudCover(bars []model.Bar, i int) bool {
	if i < 1 {
		return false
	}
	prev, cur := bars[i-1], bars[i]
	mid := (prev.Open + prev.Close) / 2
	return prev.IsBullish() && cur.IsBearish() &&
		cur.Open > prev.High &&
		cur.Close < mid && cur.Close > prev.Open
}

func (d *Detector) largeBody(b model.Bar) bool {
	r := b.Range()
	return r > 0 && b.Body() >= d.cfg.LargeBodyRatio*r
}

func (d *Detector) morningStar(bars []model.Bar, i int) bool {
	if i < 2 {
		return false
	}
	first, star, last := bars[i-2], bars[i-1], bars[i]
	mid := (first.Open + first.Close) / 2
	return first.IsBearish() && d.largeBody(first) &&
		star.Body() <= d.cfg.StarBodyRatio*first.Body() &&
		star.BodyHigh() < first.Close &&
		last.IsBullish() && last.Close > mid
}

func (d *Detector) eveningStar(bars []model.Bar, i int) bool {
	if i < 2 {
		return false
	}
	first, star, last := bars[i-2], bars[i-1], bars[i]
	mid := (first.Open + first.Close) / 2
	return first.IsBullish() && d.largeBody(first) &&
		star.Body() <= d.cfg.StarBodyRatio*first.Body() &&
		star.BodyLow() > first.Close &&
		last.IsBearish() && last.Close < mid
}

func (d *Detector) fallingWindow(bars []model.Bar, i int) bool {
	if i < 1 {
		return false
	}
	prev, cur := bars[i-1], bars[i]
	if prev.Low <= 0 {
		return false
	}
	gap := (prev.Low - cur.High) / prev.Low
	return gap >= d.cfg.WindowGapPct && prev.Close > prev.Low
}

// dumplingTop looks for a rounded top: a rising lead-in, one unique peak in
// the middle half of the window, then closes falling bar over bar to the
// end of the window.
func (d *Detector) dumplingTop(bars []model.Bar, i int) bool {
	n := d.cfg.DumplingWindow
	if n < 4 || i < n-1 {
		return false
	}
	w := bars[i-n+1 : i+1]

	lead := d.cfg.DumplingLeadIn
	if lead < 2 || lead > n {
		return false
	}

	peak := 0
	unique := true
	for j := 1; j < n; j++ {
		switch {
		case w[j].Close > w[peak].Close:
			peak, unique = j, true
		case w[j].Close == w[peak].Close:
			unique = false
		}
	}
	if !unique || peak < n/4 || peak >= n-n/4 {
		return false
	}

	// the lead-in climbs bar over bar until it reaches the peak
	end := min(lead-1, peak)
	if w[end].Close <= w[0].Close {
		return false
	}
	stalls := 0
	for j := 1; j <= end; j++ {
		if w[j].Close <= w[j-1].Close {
			stalls++
		}
	}
	if stalls > d.cfg.DumplingLeadBreaks {
		return false
	}

	breaks := 0
	for j := peak + 1; j < n; j++ {
		if w[j].Close >= w[j-1].Close {
			breaks++
		}
	}
	return breaks <= d.cfg.DumplingMaxBreaks
}

// Summary counts matched patterns by name, most frequent first
func Summary(patterns []model.Pattern) []NameCount {
	counts := make(map[model.PatternName]int)
	for _, p := range patterns {
		if p.Matched() {
			counts[p.Name]++
		}
	}
	out := make([]NameCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, NameCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// NameCount is one row of Summary
type NameCount struct {
	Name  model.PatternName
	Count int
}
