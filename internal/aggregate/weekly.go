// Package aggregate rolls daily bars up into weekly bars.
package aggregate

import (
	"sort"
	"strings"

	"factorscan/pkg/model"
)

type weekKey struct {
	year, week int
}

// Weekly buckets one symbol's daily bars by ISO (year, week). Each weekly
// bar opens at the first day's open, closes at the last day's close, spans
// the bucket's extremes and sums its volume. Its date is the last trading
// day in the bucket. Input order does not matter.
func Weekly(bars []model.Bar) []model.Bar {
	if len(bars) == 0 {
		return nil
	}

	sorted := make([]model.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	var (
		out []model.Bar
		cur model.Bar
		key weekKey
	)
	for i, b := range sorted {
		y, w := b.Date.ISOWeek()
		k := weekKey{y, w}
		if i == 0 || k != key {
			if i > 0 {
				out = append(out, cur)
			}
			key = k
			cur = model.Bar{
				Symbol: strings.ToUpper(b.Symbol),
				Date:   model.DateOf(b.Date),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			}
			cur.AdjustedClose = copyFloat(b.AdjustedClose)
			continue
		}

		cur.Date = model.DateOf(b.Date)
		cur.Close = b.Close
		cur.High = max(cur.High, b.High)
		cur.Low = min(cur.Low, b.Low)
		cur.Volume += b.Volume
		cur.AdjustedClose = copyFloat(b.AdjustedClose)
	}
	return append(out, cur)
}

// WeeklyAll aggregates a mixed-symbol archive. Output is grouped by symbol
// in alphabetical order, each group sorted by week-end date.
func WeeklyAll(bars []model.Bar) []model.Bar {
	bySymbol := make(map[string][]model.Bar)
	for _, b := range bars {
		sym := strings.ToUpper(b.Symbol)
		bySymbol[sym] = append(bySymbol[sym], b)
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var out []model.Bar
	for _, s := range symbols {
		out = append(out, Weekly(bySymbol[s])...)
	}
	return out
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
