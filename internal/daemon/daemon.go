// Package daemon runs scheduled scoring jobs.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"factorscan/pkg/model"
)

// Job is what the daemon triggers
type Job interface {
	Run(ctx context.Context, req Request) (*model.RunReport, error)
}

// Config holds the cron expressions. An empty expression disables that
// cadence.
type Config struct {
	Daily    string
	Weekly   string
	Location *time.Location
	Market   MarketSchedule
	Fetch    bool // refresh the archive before each run
}

// Daemon triggers daily and weekly runs on a cron schedule. A cadence's
// evaluation date is scored at most once; a trigger that lands on a
// holiday or before the session settles re-resolves to a date already
// done and is skipped.
type Daemon struct {
	cfg  Config
	job  Job
	cron *cron.Cron
	log  zerolog.Logger
	now  func() time.Time
	ctx  context.Context

	mu   sync.Mutex
	last map[model.Cadence]time.Time
}

// New creates a daemon and registers its tasks
func New(cfg Config, job Job, log zerolog.Logger) (*Daemon, error) {
	if cfg.Location == nil {
		cfg.Location = ETLocation()
	}
	log = log.With().Str("component", "daemon").Logger()

	d := &Daemon{
		cfg:  cfg,
		job:  job,
		log:  log,
		now:  time.Now,
		ctx:  context.Background(),
		last: make(map[model.Cadence]time.Time),
	}
	d.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
	)

	if err := d.register(cfg.Daily, model.Daily); err != nil {
		return nil, err
	}
	if err := d.register(cfg.Weekly, model.Weekly); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Daemon) register(spec string, cadence model.Cadence) error {
	if spec == "" {
		return nil
	}
	if _, err := d.cron.AddFunc(spec, func() { d.trigger(cadence) }); err != nil {
		return fmt.Errorf("register %s task: %w", cadence, err)
	}
	d.log.Info().Str("cadence", string(cadence)).Str("cron", spec).Msg("task registered")
	return nil
}

// Run starts the scheduler and blocks until ctx is done. A running job is
// cancelled through ctx and awaited.
func (d *Daemon) Run(ctx context.Context) error {
	d.ctx = ctx
	d.cron.Start()
	d.log.Info().Int("tasks", len(d.cron.Entries())).Msg("scheduler started")

	for _, e := range d.cron.Entries() {
		d.log.Debug().Time("next", e.Next).Msg("next run")
	}

	<-ctx.Done()
	<-d.cron.Stop().Done()
	d.log.Info().Msg("scheduler stopped")
	return nil
}

// RunNow scores the current evaluation date for cadence immediately,
// ignoring whether it was already done
func (d *Daemon) RunNow(ctx context.Context, cadence model.Cadence) (*model.RunReport, error) {
	date := d.cfg.Market.EvaluationDate(d.now())
	report, err := d.job.Run(ctx, Request{Cadence: cadence, Date: date, Fetch: d.cfg.Fetch})
	if err == nil {
		d.markDone(cadence, date)
	}
	return report, err
}

func (d *Daemon) trigger(cadence model.Cadence) {
	date := d.cfg.Market.EvaluationDate(d.now())
	log := d.log.With().Str("cadence", string(cadence)).Str("date", date.Format(model.DateLayout)).Logger()

	if d.done(cadence, date) {
		log.Info().Msg("already scored, skipping")
		return
	}

	log.Info().Msg("running scheduled task")
	report, err := d.job.Run(d.ctx, Request{Cadence: cadence, Date: date, Fetch: d.cfg.Fetch})
	if err != nil {
		log.Error().Err(err).Msg("scheduled run failed")
		return
	}
	d.markDone(cadence, date)

	log.Info().
		Str("run_id", report.RunID).
		Int("results", len(report.Results)).
		Int("exclusions", len(report.Exclusions)).
		Bool("cancelled", report.Cancelled).
		Dur("took", report.Duration()).
		Msg("scheduled run finished")
}

func (d *Daemon) done(cadence model.Cadence, date time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last[cadence].Equal(date)
}

func (d *Daemon) markDone(cadence model.Cadence, date time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last[cadence] = date
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
