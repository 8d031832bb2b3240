package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"factorscan/internal/aggregate"
	"factorscan/internal/archive"
	"factorscan/internal/barstore"
)

func newAggregateCmd() *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Convert a daily archive into weekly bars",
		Long: `Buckets daily bars by ISO week and writes the weekly archive.
The output format follows the file extension (.csv or .msgpack).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			if in == "" {
				in = a.cfg.Store.Archive
			}
			bars, stats, err := archive.Load(in, a.log)
			if err != nil {
				return err
			}
			daily, loaded := barstore.New(bars)

			weekly := aggregate.WeeklyAll(daily.Bars())
			if err := archive.Save(out, weekly); err != nil {
				return err
			}

			fmt.Printf("Read %d rows (%d skipped, %d rejected), wrote %d weekly bars for %d symbols to %s\n",
				stats.Rows, stats.Skipped, loaded.Rejected, len(weekly), loaded.Symbols, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "daily archive (default: store.archive)")
	cmd.Flags().StringVar(&out, "out", "data/weekly.csv", "weekly archive to write")
	return cmd
}
