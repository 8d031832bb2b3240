package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"factorscan/internal/archive"
	"factorscan/internal/barstore"
	"factorscan/internal/config"
	"factorscan/internal/daemon"
	"factorscan/internal/logger"
	"factorscan/internal/provider"
	"factorscan/internal/store"
	"factorscan/internal/symbols"
)

var (
	cfgFile  string
	logLevel string
	dbPath   string
	dryRun   bool
	format   string
	verbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "factorscan",
		Short: "Multi-factor technical scoring for US equities",
		Long: `factorscan scores a universe of US stocks against a benchmark on four
technical factors (relative strength, volatility, momentum, trend strength),
combines them into a Long/Neutral/Short signal and tags candlestick patterns.

Examples:
  factorscan fetch --universe nasdaq100
  factorscan scan --cadence weekly --date 2025-09-12
  factorscan patterns AAPL MSFT --all
  factorscan serve --schedule`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override result database path")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "do not persist results")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show detailed output")

	rootCmd.AddCommand(
		newScanCmd(),
		newFetchCmd(),
		newPatternsCmd(),
		newAggregateCmd(),
		newServeCmd(),
		newScheduleCmd(),
		newFavoritesCmd(),
		newUniversesCmd(),
		newStatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is the wiring shared by the subcommands
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   store.ResultStore
	symbols *symbols.Loader
}

func setup() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger.SetGlobalLogger(log)

	a := &app{cfg: cfg, log: log, store: store.Noop{}}
	if !dryRun && cfg.Store.Path != "" {
		st, err := store.OpenSQLite(cfg.Store.Path, log)
		if err != nil {
			return nil, err
		}
		a.store = st
	}
	a.symbols = symbols.NewLoader(a.store)
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing store")
	}
}

// provider chains the configured sources: Finnhub and Alpha Vantage when a
// key is set, Yahoo always
func (a *app) provider() provider.Provider {
	client := &http.Client{Timeout: a.cfg.Scanner.Timeout}
	opts := []provider.Option{
		provider.WithHTTPClient(client),
		provider.WithLogger(a.log),
	}

	fallback := provider.NewFallbackProvider(a.log,
		provider.NewFinnhubProvider(a.cfg.API.Finnhub.Key, a.cfg.API.Finnhub.RateLimit, opts...),
		provider.NewAlphaVantageProvider(a.cfg.API.AlphaVantage.Key, a.cfg.API.AlphaVantage.RateLimit, opts...),
		provider.NewYahooProvider(a.cfg.API.Yahoo.RateLimit, opts...),
	)
	if verbose {
		a.log.Info().Strs("providers", fallback.Providers()).Msg("data providers")
	}
	return provider.NewCachingProvider(fallback)
}

func (a *app) collector() *provider.Collector {
	c := provider.NewCollector(a.provider(), a.cfg.Scanner.Workers, a.cfg.Scanner.Attempts, a.log)
	c.SetRetryDelay(a.cfg.Scanner.RetryDelay)
	return c
}

// archive loads the configured bar archive. A missing file yields an empty
// archive so a first fetch can create it.
func (a *app) archive() (*barstore.Archive, error) {
	arc := barstore.NewArchive()
	path := a.cfg.Store.Archive
	if path == "" {
		return arc, nil
	}

	bars, stats, err := archive.Load(path, a.log)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.log.Warn().Str("path", path).Msg("archive not found, starting empty")
			return arc, nil
		}
		return nil, err
	}
	loaded := arc.Load(bars)
	a.log.Info().
		Str("path", path).
		Int("rows", stats.Rows).
		Int("skipped", stats.Skipped).
		Int("bars", loaded.Accepted).
		Int("symbols", loaded.Symbols).
		Msg("archive loaded")
	return arc, nil
}

func (a *app) runner(universe string) (*daemon.Runner, error) {
	arc, err := a.archive()
	if err != nil {
		return nil, err
	}
	if universe == "" {
		universe = a.cfg.Schedule.Universe
	}
	archivePath := a.cfg.Store.Archive
	if dryRun {
		archivePath = ""
	}
	return daemon.NewRunner(daemon.RunnerConfig{
		Pipeline:    a.cfg.ScoringConfig(),
		Universe:    universe,
		History:     a.cfg.Scanner.History,
		ArchivePath: archivePath,
	}, a.collector(), arc, a.store, a.symbols, a.log), nil
}

// signalContext is cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
