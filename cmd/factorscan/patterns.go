package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"factorscan/internal/aggregate"
	"factorscan/internal/pattern"
	"factorscan/internal/symbols"
	"factorscan/pkg/model"
)

func newPatternsCmd() *cobra.Command {
	var (
		cadence string
		date    string
		last    int
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "patterns [SYMBOL...]",
		Short: "Show candlestick patterns from the archive",
		Long: `Runs the candlestick detector over archived bars. With --all every
bar of the last --last bars is listed, otherwise only matches.
Without symbols the configured universe is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			evalDate, err := resolveDate(date)
			if err != nil {
				return err
			}

			syms := args
			if len(syms) == 0 {
				if syms, err = a.symbols.Resolve(cmd.Context(), a.cfg.Schedule.Universe); err != nil {
					return err
				}
			} else if syms, err = symbols.Normalize(syms); err != nil {
				return err
			}

			arc, err := a.archive()
			if err != nil {
				return err
			}
			snap := arc.Snapshot()
			detector := pattern.NewDetector(a.cfg.Pattern)

			var found []patternRow
			var scanned []model.Pattern
			for _, sym := range syms {
				series := snap.Window(sym, evalDate, len(snap.Series(sym)))
				if strings.EqualFold(cadence, string(model.Weekly)) {
					series = aggregate.Weekly(series)
				}

				patterns, err := detector.Scan(series)
				if errors.Is(err, model.ErrInsufficientHistory) {
					a.log.Debug().Str("symbol", sym).Int("bars", len(series)).Msg("too few bars")
					continue
				}
				if err != nil {
					return fmt.Errorf("%s: %w", sym, err)
				}

				if last > 0 && len(patterns) > last {
					patterns = patterns[len(patterns)-last:]
				}
				scanned = append(scanned, patterns...)
				for _, p := range patterns {
					if all || p.Matched() {
						found = append(found, patternRow{Symbol: sym, Pattern: p})
					}
				}
			}

			if format == "json" {
				return outputJSON(found)
			}

			fmt.Printf("%d symbols, %d bars scanned, %d shown\n\n", len(syms), len(scanned), len(found))
			if len(found) > 0 {
				table := tablewriter.NewTable(os.Stdout,
					tablewriter.WithHeader([]string{"Date", "Symbol", "Pattern", "Direction", "Trend"}),
				)
				for _, r := range found {
					table.Append([]string{
						r.Pattern.Date.Format(model.DateLayout),
						r.Symbol,
						string(r.Pattern.Name),
						string(r.Pattern.Direction),
						string(r.Pattern.Trend),
					})
				}
				table.Render()
			}

			if summary := pattern.Summary(scanned); len(summary) > 0 {
				fmt.Println("\n--- Summary ---")
				table := tablewriter.NewTable(os.Stdout,
					tablewriter.WithHeader([]string{"Pattern", "Count"}),
				)
				for _, nc := range summary {
					table.Append([]string{string(nc.Name), fmt.Sprintf("%d", nc.Count)})
				}
				table.Render()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cadence, "cadence", "daily", "bar cadence: daily, weekly")
	cmd.Flags().StringVar(&date, "date", "", "last bar date YYYY-MM-DD (default: latest settled session)")
	cmd.Flags().IntVar(&last, "last", 5, "bars per symbol to report, 0 = all")
	cmd.Flags().BoolVar(&all, "all", false, "include bars without a pattern")
	return cmd
}

type patternRow struct {
	Symbol  string        `json:"symbol"`
	Pattern model.Pattern `json:"pattern"`
}
