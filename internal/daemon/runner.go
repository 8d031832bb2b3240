package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"factorscan/internal/aggregate"
	"factorscan/internal/archive"
	"factorscan/internal/barstore"
	"factorscan/internal/pipeline"
	"factorscan/internal/provider"
	"factorscan/internal/store"
	"factorscan/internal/symbols"
	"factorscan/pkg/model"
)

// RunnerConfig controls a scoring job
type RunnerConfig struct {
	Pipeline    pipeline.Config
	Universe    string // symbols.Loader spec used when a request names none
	History     int    // calendar days fetched before the evaluation date
	ArchivePath string // archive file rewritten after a fetch, empty = keep in memory
}

// Request is one scoring job
type Request struct {
	Cadence  model.Cadence
	Date     time.Time
	Universe []string // nil = RunnerConfig.Universe
	Fetch    bool     // refresh the archive from the provider first
}

// Runner ties the pieces of a run together: refresh the archive, build the
// cadence's bar view, score, save
type Runner struct {
	cfg       RunnerConfig
	collector *provider.Collector
	archive   *barstore.Archive
	store     store.ResultStore
	symbols   *symbols.Loader
	log       zerolog.Logger

	saveMu sync.Mutex // one archive file writer at a time

	progressFunc pipeline.ProgressCallback
	stateFunc    pipeline.StateCallback
}

// NewRunner creates a runner. collector may be nil when runs only read the
// archive; st may be store.Noop{}.
func NewRunner(cfg RunnerConfig, collector *provider.Collector, arc *barstore.Archive, st store.ResultStore, loader *symbols.Loader, log zerolog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		collector: collector,
		archive:   arc,
		store:     st,
		symbols:   loader,
		log:       log.With().Str("component", "runner").Logger(),
	}
}

// SetProgressCallback forwards per-symbol scoring progress
func (r *Runner) SetProgressCallback(fn pipeline.ProgressCallback) {
	r.progressFunc = fn
}

// SetFetchProgressCallback forwards per-symbol download progress of Refresh
func (r *Runner) SetFetchProgressCallback(fn provider.ProgressCallback) {
	if r.collector != nil {
		r.collector.SetProgressCallback(fn)
	}
}

// OnStateChange forwards pipeline state transitions
func (r *Runner) OnStateChange(fn pipeline.StateCallback) {
	r.stateFunc = fn
}

// Universe resolves the configured universe spec
func (r *Runner) Universe(ctx context.Context) ([]string, error) {
	return r.symbols.Resolve(ctx, r.cfg.Universe)
}

// Refresh downloads [date-History, date] for the universe and the benchmark
// and merges it into the archive. Newly fetched bars supersede archived ones.
func (r *Runner) Refresh(ctx context.Context, universe []string, date time.Time) (*provider.CollectResult, error) {
	if r.collector == nil {
		return nil, fmt.Errorf("refresh: no provider configured")
	}

	syms := append([]string{r.cfg.Pipeline.Benchmark}, universe...)
	from := date.AddDate(0, 0, -r.cfg.History)

	res, err := r.collector.Collect(ctx, syms, from, date)
	if err != nil {
		return res, fmt.Errorf("refresh: %w", err)
	}

	stats := r.archive.Merge(res.Bars)
	r.log.Info().
		Int("fetched", len(res.Bars)).
		Int("bars", stats.Accepted).
		Int("symbols", stats.Symbols).
		Msg("archive refreshed")

	if r.cfg.ArchivePath != "" {
		r.saveMu.Lock()
		defer r.saveMu.Unlock()
		// the snapshot taken under saveMu includes every merge before it
		if err := archive.Save(r.cfg.ArchivePath, r.archive.Snapshot().Bars()); err != nil {
			return res, fmt.Errorf("refresh: %w", err)
		}
	}
	return res, nil
}

// Run executes one request and saves the report. The report is returned
// and saved even when the run failed or was cancelled.
func (r *Runner) Run(ctx context.Context, req Request) (*model.RunReport, error) {
	universe := req.Universe
	if universe == nil {
		var err error
		if universe, err = r.Universe(ctx); err != nil {
			return nil, err
		}
	}

	if req.Fetch {
		if _, err := r.Refresh(ctx, universe, req.Date); err != nil {
			return nil, err
		}
	}

	cfg := r.cfg.Pipeline
	if req.Cadence != "" {
		cfg.Cadence = req.Cadence
	}

	p, err := pipeline.New(cfg, r.log)
	if err != nil {
		return nil, err
	}
	p.SetProgressCallback(r.progressFunc)
	p.OnStateChange(r.stateFunc)

	report, runErr := p.Run(ctx, r.bars(cfg.Cadence, req.Date), universe, req.Date)
	if report != nil {
		// a cancelled run still saves its partial results
		if err := r.store.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			r.log.Error().Err(err).Str("run_id", report.RunID).Msg("saving report")
			if runErr == nil {
				runErr = fmt.Errorf("save report: %w", err)
			}
		}
	}
	return report, runErr
}

// bars returns the archive snapshot at the requested cadence. Weekly bars
// are built from daily bars dated on or before date, so the evaluation
// week's bar ends on the evaluation day.
func (r *Runner) bars(cadence model.Cadence, date time.Time) pipeline.BarSource {
	snap := r.archive.Snapshot()
	if cadence != model.Weekly {
		return snap
	}
	cutoff := model.DateOf(date)
	daily := snap.Bars()
	kept := daily[:0]
	for _, b := range daily {
		if !b.Date.After(cutoff) {
			kept = append(kept, b)
		}
	}
	weekly, _ := barstore.New(aggregate.WeeklyAll(kept))
	return weekly
}
