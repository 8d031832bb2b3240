// Package barstore holds an indexed, read-only snapshot of OHLCV bars.
package barstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"factorscan/pkg/model"
)

// ErrNotFound is returned for a point lookup with no bar
var ErrNotFound = fmt.Errorf("bar not found: %w", model.ErrMissingBar)

// LoadStats summarizes an index build
type LoadStats struct {
	Accepted   int
	Rejected   int
	Superseded int
	Symbols    int
}

// Store is an immutable snapshot of bars per symbol. It is safe for
// concurrent readers; a new archive means a new Store.
type Store struct {
	series map[string][]model.Bar
	dates  map[string][]time.Time
	index  map[string]map[time.Time]int
}

// New builds a Store from an unordered archive in a single pass. Invalid bars
// are rejected; a later bar for the same symbol and date supersedes an earlier one.
func New(bars []model.Bar) (*Store, LoadStats) {
	var stats LoadStats
	latest := make(map[string]map[time.Time]model.Bar)

	for _, b := range bars {
		b.Symbol = strings.ToUpper(strings.TrimSpace(b.Symbol))
		b.Date = model.DateOf(b.Date)
		if err := b.Validate(); err != nil {
			stats.Rejected++
			continue
		}

		byDate, ok := latest[b.Symbol]
		if !ok {
			byDate = make(map[time.Time]model.Bar)
			latest[b.Symbol] = byDate
		}
		if _, dup := byDate[b.Date]; dup {
			stats.Superseded++
		} else {
			stats.Accepted++
		}
		byDate[b.Date] = b
	}

	s := &Store{
		series: make(map[string][]model.Bar, len(latest)),
		dates:  make(map[string][]time.Time, len(latest)),
		index:  make(map[string]map[time.Time]int, len(latest)),
	}

	for sym, byDate := range latest {
		series := make([]model.Bar, 0, len(byDate))
		for _, b := range byDate {
			series = append(series, b)
		}
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

		dates := make([]time.Time, len(series))
		pos := make(map[time.Time]int, len(series))
		for i, b := range series {
			dates[i] = b.Date
			pos[b.Date] = i
		}

		s.series[sym] = series
		s.dates[sym] = dates
		s.index[sym] = pos
	}

	stats.Symbols = len(s.series)
	return s, stats
}

// Get returns the bar for symbol on date
func (s *Store) Get(symbol string, date time.Time) (model.Bar, error) {
	pos, ok := s.index[symbol][model.DateOf(date)]
	if !ok {
		return model.Bar{}, fmt.Errorf("%s %s: %w", symbol, date.Format(model.DateLayout), ErrNotFound)
	}
	return s.series[symbol][pos], nil
}

// Has reports whether a bar exists for symbol on date
func (s *Store) Has(symbol string, date time.Time) bool {
	_, ok := s.index[symbol][model.DateOf(date)]
	return ok
}

// Window returns up to length of the most recent bars dated on or before
// endDate, oldest first. A short result means insufficient history, not an error.
func (s *Store) Window(symbol string, endDate time.Time, length int) []model.Bar {
	if length <= 0 {
		return nil
	}
	end := s.upperBound(symbol, endDate)
	if end == 0 {
		return nil
	}
	start := end - length
	if start < 0 {
		start = 0
	}
	return s.series[symbol][start:end:end]
}

// AtOrBefore returns the latest bar dated on or before date
func (s *Store) AtOrBefore(symbol string, date time.Time) (model.Bar, error) {
	end := s.upperBound(symbol, date)
	if end == 0 {
		return model.Bar{}, fmt.Errorf("%s on or before %s: %w", symbol, date.Format(model.DateLayout), ErrNotFound)
	}
	return s.series[symbol][end-1], nil
}

// Before returns the latest bar dated strictly before date
func (s *Store) Before(symbol string, date time.Time) (model.Bar, error) {
	return s.AtOrBefore(symbol, model.DateOf(date).AddDate(0, 0, -1))
}

// After returns up to n bars dated strictly after date, oldest first
func (s *Store) After(symbol string, date time.Time, n int) []model.Bar {
	if n <= 0 {
		return nil
	}
	start := s.upperBound(symbol, date)
	series := s.series[symbol]
	end := start + n
	if end > len(series) {
		end = len(series)
	}
	if start >= end {
		return nil
	}
	return series[start:end:end]
}

// AvailableDates returns the sorted bar dates for symbol
func (s *Store) AvailableDates(symbol string) []time.Time {
	dates := s.dates[symbol]
	out := make([]time.Time, len(dates))
	copy(out, dates)
	return out
}

// Series returns the full ordered series for symbol
func (s *Store) Series(symbol string) []model.Bar {
	series := s.series[symbol]
	return series[:len(series):len(series)]
}

// Symbols returns the stored symbols in sorted order
func (s *Store) Symbols() []string {
	out := make([]string, 0, len(s.series))
	for sym := range s.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of bars
func (s *Store) Len() int {
	n := 0
	for _, series := range s.series {
		n += len(series)
	}
	return n
}

// Bars flattens the store ordered by symbol then date
func (s *Store) Bars() []model.Bar {
	out := make([]model.Bar, 0, s.Len())
	for _, sym := range s.Symbols() {
		out = append(out, s.series[sym]...)
	}
	return out
}

// upperBound returns the number of bars for symbol dated on or before date
func (s *Store) upperBound(symbol string, date time.Time) int {
	dates := s.dates[symbol]
	date = model.DateOf(date)
	return sort.Search(len(dates), func(i int) bool { return dates[i].After(date) })
}

// Archive hands out Store snapshots. Load swaps in a new snapshot while runs
// keep reading the one they were given.
type Archive struct {
	writeMu sync.Mutex // serializes Load and Merge
	mu      sync.RWMutex
	current *Store
}

// NewArchive creates an archive with an empty snapshot
func NewArchive() *Archive {
	empty, _ := New(nil)
	return &Archive{current: empty}
}

// Load replaces the backing archive and rebuilds the index
func (a *Archive) Load(bars []model.Bar) LoadStats {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.swap(bars)
}

// Merge adds bars to the current snapshot. Incoming bars supersede stored
// bars for the same symbol and date. Concurrent merges never drop each
// other's bars.
func (a *Archive) Merge(bars []model.Bar) LoadStats {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.swap(append(a.Snapshot().Bars(), bars...))
}

func (a *Archive) swap(bars []model.Bar) LoadStats {
	s, stats := New(bars)
	a.mu.Lock()
	a.current = s
	a.mu.Unlock()
	return stats
}

// Snapshot returns the current immutable Store
func (a *Archive) Snapshot() *Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}
