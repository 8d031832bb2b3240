package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"factorscan/internal/daemon"
	"factorscan/internal/symbols"
	"factorscan/pkg/model"
)

func newFavoritesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage saved symbol lists",
	}

	var list string
	cmd.PersistentFlags().StringVar(&list, "list", symbols.DefaultFavorites, "favorites list name")

	cmd.AddCommand(&cobra.Command{
		Use:   "save SPEC...",
		Short: "Replace a list with symbols, a universe or @file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			syms, err := a.symbols.Resolve(cmd.Context(), strings.Join(args, ","))
			if err != nil {
				return err
			}
			if err := a.store.SaveFavorites(cmd.Context(), list, syms); err != nil {
				return err
			}
			fmt.Printf("Saved %d symbols to %q\n", len(syms), list)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print a saved list",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			syms, err := a.store.LoadFavorites(cmd.Context(), list)
			if err != nil {
				return err
			}
			if format == "json" {
				return outputJSON(syms)
			}
			if len(syms) == 0 {
				fmt.Printf("List %q is empty\n", list)
				return nil
			}
			fmt.Println(strings.Join(syms, "\n"))
			return nil
		},
	})

	return cmd
}

func newUniversesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "universes",
		Short: "List the built-in universes",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Universe", "Symbols", "First"}),
			)
			for _, name := range symbols.Universes() {
				list := symbols.GetUniverse(symbols.Universe(name))
				first := strings.Join(list[:min(5, len(list))], ", ")
				table.Append([]string{name, fmt.Sprintf("%d", len(list)), first})
			}
			table.Render()
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the US market session and the latest stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			status := daemon.DefaultMarketSchedule().Status(time.Now())
			fmt.Printf("Market: %s (%s ET)\n", status.Reason, status.CurrentTimeET.Format("Mon 2006-01-02 15:04"))
			if status.Holiday != "" {
				fmt.Printf("Holiday: %s\n", status.Holiday)
			}
			fmt.Printf("Last settled session: %s\n\n", status.LastSession.Format(model.DateLayout))

			runs, err := a.store.Runs(cmd.Context(), 10)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No stored runs")
				return nil
			}

			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Run", "Date", "Cadence", "State", "Results", "Excluded", "Took"}),
			)
			for _, r := range runs {
				state := string(r.State)
				if r.Cancelled {
					state += " (cancelled)"
				}
				table.Append([]string{
					r.RunID[:min(8, len(r.RunID))],
					r.EvaluationDate.Format(model.DateLayout),
					string(r.Cadence),
					state,
					fmt.Sprintf("%d/%d", r.Results, r.Universe),
					fmt.Sprintf("%d", r.Exclusions),
					daemon.FormatDuration(r.FinishedAt.Sub(r.StartedAt)),
				})
			}
			table.Render()
			return nil
		},
	}
}
