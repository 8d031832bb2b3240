package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"factorscan/internal/daemon"
	"factorscan/internal/web"
	"factorscan/pkg/model"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		schedule bool
		fetch    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored results over HTTP",
		Long: `Starts the results API. POST /api/scan triggers a run in the
background. With --schedule the daily and weekly cron jobs run too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			runner, err := a.runner("")
			if err != nil {
				return err
			}

			srv := web.NewServer(addr, a.store, runner, a.symbols, a.log)
			runner.SetProgressCallback(srv.Progress)
			runner.OnStateChange(srv.StateChanged)

			ctx, cancel := signalContext()
			defer cancel()

			errCh := make(chan error, 2)
			go func() { errCh <- srv.Start() }()

			if schedule {
				d, err := a.daemon(runner, fetch)
				if err != nil {
					return err
				}
				go func() { errCh <- d.Run(ctx) }()
			}

			select {
			case <-ctx.Done():
			case err = <-errCh:
				if err != nil {
					a.log.Error().Err(err).Msg("server stopped")
				}
			}
			cancel()

			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				return fmt.Errorf("shutdown: %w", serr)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "also run the cron schedule")
	cmd.Flags().BoolVar(&fetch, "fetch", true, "scheduled runs refresh the archive first")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	var (
		now   string
		fetch bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily and weekly scoring jobs on their cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.runner("")
			if err != nil {
				return err
			}
			d, err := a.daemon(runner, fetch)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if now != "" {
				report, err := d.RunNow(ctx, model.Cadence(now))
				if err != nil {
					return err
				}
				outputReport(report, 25)
				return nil
			}

			status := daemon.DefaultMarketSchedule().Status(time.Now())
			a.log.Info().
				Str("market", status.Reason).
				Str("last_session", status.LastSession.Format(model.DateLayout)).
				Str("daily", a.cfg.Schedule.Daily).
				Str("weekly", a.cfg.Schedule.Weekly).
				Msg("scheduler started")

			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&now, "now", "", "run one cadence immediately and exit: daily, weekly")
	cmd.Flags().BoolVar(&fetch, "fetch", true, "refresh the archive before each run")
	return cmd
}

func (a *app) daemon(runner *daemon.Runner, fetch bool) (*daemon.Daemon, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return daemon.New(daemon.Config{
		Daily:    a.cfg.Schedule.Daily,
		Weekly:   a.cfg.Schedule.Weekly,
		Location: loc,
		Market:   daemon.DefaultMarketSchedule(),
		Fetch:    fetch,
	}, runner, a.log)
}
