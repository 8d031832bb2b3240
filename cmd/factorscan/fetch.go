package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"factorscan/internal/daemon"
	"factorscan/pkg/model"
)

func newFetchCmd() *cobra.Command {
	var (
		date     string
		universe string
		days     int
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download daily bars into the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			if days > 0 {
				a.cfg.Scanner.History = days
			}
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
			return refresh(ctx, a, runner, syms, evalDate)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "last date to fetch YYYY-MM-DD (default: latest settled session)")
	cmd.Flags().StringVar(&universe, "universe", "", "universe spec (default: schedule.universe)")
	cmd.Flags().IntVar(&days, "days", 0, "calendar days of history (default: scanner.history_days)")
	return cmd
}

// refresh downloads the universe plus the benchmark with a progress bar and
// reports the symbols that failed
func refresh(ctx context.Context, a *app, runner *daemon.Runner, syms []string, date time.Time) error {
	fmt.Printf("Fetching %d symbols through %s...\n", len(syms)+1, date.Format(model.DateLayout))

	bar := newProgressBar(len(syms)+1, "Fetching")
	runner.SetFetchProgressCallback(func(fetched, total int) {
		bar.Set(fetched)
	})
	res, err := runner.Refresh(ctx, syms, date)
	bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %d symbols (%d bars) in %s\n",
		len(res.Fetched), len(res.Bars), daemon.FormatDuration(res.Duration))

	if len(res.Failed) > 0 {
		failed := make([]string, 0, len(res.Failed))
		for sym := range res.Failed {
			failed = append(failed, sym)
		}
		sort.Strings(failed)

		fmt.Printf("\n%d symbols failed:\n", len(failed))
		table := tablewriter.NewTable(os.Stdout,
			tablewriter.WithHeader([]string{"Symbol", "Error"}),
		)
		for _, sym := range failed {
			msg := res.Failed[sym].Error()
			if len(msg) > 70 && !verbose {
				msg = msg[:70] + "..."
			}
			table.Append([]string{sym, msg})
		}
		table.Render()
	}
	if a.cfg.Store.Archive != "" && !dryRun {
		fmt.Printf("Archive saved to %s\n", a.cfg.Store.Archive)
	}
	return nil
}
