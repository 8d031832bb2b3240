package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"factorscan/internal/daemon"
	"factorscan/pkg/model"
)

func newScanCmd() *cobra.Command {
	var (
		cadence  string
		date     string
		universe string
		fetch    bool
		top      int
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Score a universe on an evaluation date",
		Long: `Scores every symbol of the universe on the evaluation date and stores
the results. The date defaults to the latest settled trading session.

Universe specs: a built-in name (nasdaq100, dow30, sectors, test),
favorites[:list], @file.txt or a comma-separated list of symbols.`,
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

			runner, err := a.runner(universe)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			syms, err := runner.Universe(ctx)
			if err != nil {
				return fmt.Errorf("resolving universe: %w", err)
			}

			if fetch {
				if err := refresh(ctx, a, runner, syms, evalDate); err != nil {
					return err
				}
			}

			fmt.Printf("Scoring %d symbols (%s, %s)...\n", len(syms), cadence, evalDate.Format(model.DateLayout))
			bar := newProgressBar(len(syms), "Scoring")
			runner.SetProgressCallback(func(scored, total int) {
				bar.Set(scored)
			})

			report, err := runner.Run(ctx, daemon.Request{
				Cadence:  model.Cadence(strings.ToLower(cadence)),
				Date:     evalDate,
				Universe: syms,
			})
			bar.Finish()
			fmt.Println()
			if err != nil {
				return fmt.Errorf("scoring: %w", err)
			}

			if format == "json" {
				return outputJSON(report)
			}
			outputReport(report, top)
			return nil
		},
	}

	cmd.Flags().StringVar(&cadence, "cadence", "daily", "bar cadence: daily, weekly")
	cmd.Flags().StringVar(&date, "date", "", "evaluation date YYYY-MM-DD (default: latest settled session)")
	cmd.Flags().StringVar(&universe, "universe", "", "universe spec (default: schedule.universe)")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "refresh the archive from the data providers first")
	cmd.Flags().IntVar(&top, "top", 25, "rows to show per signal, 0 = all")
	return cmd
}

func resolveDate(s string) (time.Time, error) {
	if s == "" {
		return daemon.DefaultMarketSchedule().EvaluationDate(time.Now()), nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputReport(report *model.RunReport, top int) {
	results := append([]model.AnalysisResult(nil), report.Results...)
	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].Symbol < results[j].Symbol
	})

	bySignal := make(map[model.Signal][]model.AnalysisResult)
	for _, r := range results {
		bySignal[r.FinalSignal] = append(bySignal[r.FinalSignal], r)
	}

	fmt.Printf("Run %s: %d scored, %d exclusions, %s\n",
		report.RunID, len(report.Results), len(report.Exclusions),
		daemon.FormatDuration(report.Duration()))
	if report.Cancelled {
		fmt.Println("Run was cancelled; results are partial.")
	}

	for _, sig := range []model.Signal{model.SignalLong, model.SignalShort} {
		rows := bySignal[sig]
		if sig == model.SignalShort {
			// weakest first
			sort.SliceStable(rows, func(i, j int) bool { return rows[i].FinalScore < rows[j].FinalScore })
		}
		fmt.Printf("\n%s signals: %d\n", sig, len(rows))
		if len(rows) == 0 {
			continue
		}
		if top > 0 && len(rows) > top {
			rows = rows[:top]
		}
		resultTable(rows)
	}
	fmt.Printf("\nNeutral: %d\n", len(bySignal[model.SignalNeutral]))

	if verbose && len(report.Exclusions) > 0 {
		fmt.Println("\n--- Exclusions ---")
		table := tablewriter.NewTable(os.Stdout,
			tablewriter.WithHeader([]string{"Symbol", "Factor", "Reason", "Detail"}),
		)
		for _, e := range report.Exclusions {
			table.Append([]string{e.Symbol, string(e.Factor), string(e.Reason), e.Detail})
		}
		table.Render()
	}
}

func resultTable(rows []model.AnalysisResult) {
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Close", "RS", "Vol", "Mom", "Trend", "Final", "Pattern"}),
	)
	for _, r := range rows {
		pattern := "-"
		if r.Pattern != nil && r.Pattern.Matched() {
			pattern = fmt.Sprintf("%s (%s)", r.Pattern.Name, r.Pattern.Direction)
		}
		table.Append([]string{
			r.Symbol,
			fmt.Sprintf("%.2f", r.Close),
			score(r, model.FactorRelativeStrength),
			score(r, model.FactorVolatility),
			score(r, model.FactorMomentum),
			score(r, model.FactorTrendStrength),
			fmt.Sprintf("%.1f", r.FinalScore),
			pattern,
		})
	}
	table.Render()
}

func score(r model.AnalysisResult, name model.FactorName) string {
	v, ok := r.Score(name)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.0f", v)
}
