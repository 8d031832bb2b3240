// Package archive reads and writes bar archives: CSV for interchange and
// msgpack snapshots for fast reloads.
package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"factorscan/pkg/model"
)

// Header is the column layout written by WriteCSV
var Header = []string{"symbol", "date", "open", "high", "low", "close", "volume", "adjusted_close"}

var required = []string{"symbol", "date", "open", "high", "low", "close", "volume"}

// ReadStats counts rows seen by ReadCSV
type ReadStats struct {
	Rows     int
	Accepted int
	Skipped  int
}

// ReadCSV parses an archive. Columns are located by header name, so extra
// or reordered columns are fine. A malformed row is skipped, logged and
// counted; only an unreadable stream or a missing column is an error.
func ReadCSV(r io.Reader, log zerolog.Logger) ([]model.Bar, ReadStats, error) {
	var stats ReadStats

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, nil
	}
	if err != nil {
		return nil, stats, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(head))
	for i, h := range head {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, stats, fmt.Errorf("%w: missing column %q", model.ErrInvalidRecord, name)
		}
	}

	var bars []model.Bar
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.Rows++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Skipped++
				log.Warn().Err(err).Int("line", perr.Line).Msg("skipping malformed row")
				continue
			}
			return bars, stats, fmt.Errorf("read row %d: %w", stats.Rows, err)
		}
		line, _ := cr.FieldPos(0)

		bar, err := parseRow(rec, cols)
		if err == nil {
			err = bar.Validate()
		}
		if err != nil {
			stats.Skipped++
			log.Warn().Err(err).Int("line", line).Msg("skipping malformed row")
			continue
		}
		bars = append(bars, bar)
		stats.Accepted++
	}
	return bars, stats, nil
}

func field(rec []string, cols map[string]int, name string) (string, bool) {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return "", false
	}
	return strings.TrimSpace(rec[i]), true
}

func parsePrice(rec []string, cols map[string]int, name string) (float64, error) {
	s, ok := field(rec, cols, name)
	if !ok || s == "" {
		return 0, fmt.Errorf("%w: missing %s", model.ErrInvalidRecord, name)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", model.ErrInvalidRecord, name, s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

func parseRow(rec []string, cols map[string]int) (model.Bar, error) {
	var (
		bar model.Bar
		err error
	)

	sym, _ := field(rec, cols, "symbol")
	bar.Symbol = strings.ToUpper(sym)

	ds, _ := field(rec, cols, "date")
	if bar.Date, err = model.ParseDate(ds); err != nil {
		return bar, fmt.Errorf("%w: date %q", model.ErrInvalidRecord, ds)
	}

	if bar.Open, err = parsePrice(rec, cols, "open"); err != nil {
		return bar, err
	}
	if bar.High, err = parsePrice(rec, cols, "high"); err != nil {
		return bar, err
	}
	if bar.Low, err = parsePrice(rec, cols, "low"); err != nil {
		return bar, err
	}
	if bar.Close, err = parsePrice(rec, cols, "close"); err != nil {
		return bar, err
	}

	vs, _ := field(rec, cols, "volume")
	if bar.Volume, err = parseVolume(vs); err != nil {
		return bar, err
	}

	if s, ok := field(rec, cols, "adjusted_close"); ok && s != "" {
		adj, err := parsePrice(rec, cols, "adjusted_close")
		if err != nil {
			return bar, err
		}
		bar.AdjustedClose = &adj
	}
	return bar, nil
}

// parseVolume accepts integers and integral decimals such as "1200.0"
func parseVolume(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%w: volume %q", model.ErrInvalidRecord, s)
	}
	return d.IntPart(), nil
}

func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// WriteCSV writes bars with the standard header
func WriteCSV(w io.Writer, bars []model.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, b := range bars {
		adj := ""
		if b.AdjustedClose != nil {
			adj = formatPrice(*b.AdjustedClose)
		}
		rec := []string{
			b.Symbol,
			b.Date.Format(model.DateLayout),
			formatPrice(b.Open),
			formatPrice(b.High),
			formatPrice(b.Low),
			formatPrice(b.Close),
			strconv.FormatInt(b.Volume, 10),
			adj,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSVFile opens and parses a CSV archive
func ReadCSVFile(path string, log zerolog.Logger) ([]model.Bar, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, log.With().Str("file", filepath.Base(path)).Logger())
}

// WriteCSVFile writes bars to path, creating parent directories
func WriteCSVFile(path string, bars []model.Bar) error {
	return writeFile(path, func(w io.Writer) error { return WriteCSV(w, bars) })
}

func writeFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
