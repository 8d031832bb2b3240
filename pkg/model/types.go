package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors shared by the scoring core. Packages wrap these with
// context and callers branch with errors.Is.
var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrMissingBar          = errors.New("missing bar")
	ErrInvalidRecord       = errors.New("invalid archive record")
	ErrEmptyUniverse       = errors.New("empty universe")
	ErrNoBenchmarkData     = errors.New("no benchmark data")
)

// DateLayout is the calendar-date format used in archives, configs and the API
const DateLayout = "2006-01-02"

// DateOf truncates t to its calendar date at UTC midnight.
// The calendar date is taken in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a normalized date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}

// Cadence is the bar granularity a run operates on
type Cadence string

const (
	Daily  Cadence = "daily"
	Weekly Cadence = "weekly"
)

// Bar represents a single OHLCV observation. For weekly bars Date is the
// period-end date (the last constituent trading day).
type Bar struct {
	Symbol        string    `json:"symbol" msgpack:"s"`
	Date          time.Time `json:"date" msgpack:"d"`
	Open          float64   `json:"open" msgpack:"o"`
	High          float64   `json:"high" msgpack:"h"`
	Low           float64   `json:"low" msgpack:"l"`
	Close         float64   `json:"close" msgpack:"c"`
	Volume        int64     `json:"volume" msgpack:"v"`
	AdjustedClose *float64  `json:"adjusted_close,omitempty" msgpack:"a,omitempty"`
}

// Validate checks the OHLC ordering invariants
func (b Bar) Validate() error {
	switch {
	case b.Symbol == "" || b.Symbol != strings.ToUpper(b.Symbol):
		return fmt.Errorf("%w: symbol %q must be a non-empty uppercase ticker", ErrInvalidRecord, b.Symbol)
	case b.Date.IsZero():
		return fmt.Errorf("%w: %s has no date", ErrInvalidRecord, b.Symbol)
	case b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0:
		return fmt.Errorf("%w: %s %s has non-positive price", ErrInvalidRecord, b.Symbol, b.Date.Format(DateLayout))
	case b.Volume < 0:
		return fmt.Errorf("%w: %s %s has negative volume", ErrInvalidRecord, b.Symbol, b.Date.Format(DateLayout))
	}

	lo, hi := b.BodyLow(), b.BodyHigh()
	if b.Low > lo || hi > b.High {
		return fmt.Errorf("%w: %s %s violates low <= open/close <= high", ErrInvalidRecord, b.Symbol, b.Date.Format(DateLayout))
	}
	return nil
}

// Body returns the absolute size of the real body
func (b Bar) Body() float64 {
	if b.Close > b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// BodyHigh returns max(open, close)
func (b Bar) BodyHigh() float64 {
	if b.Close > b.Open {
		return b.Close
	}
	return b.Open
}

// BodyLow returns min(open, close)
func (b Bar) BodyLow() float64 {
	if b.Close < b.Open {
		return b.Close
	}
	return b.Open
}

// UpperShadow returns high - max(open, close)
func (b Bar) UpperShadow() float64 { return b.High - b.BodyHigh() }

// LowerShadow returns min(open, close) - low
func (b Bar) LowerShadow() float64 { return b.BodyLow() - b.Low }

// Range returns high - low
func (b Bar) Range() float64 { return b.High - b.Low }

func (b Bar) IsBullish() bool { return b.Close > b.Open }
func (b Bar) IsBearish() bool { return b.Close < b.Open }

// Closes extracts the close prices of bars
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
