// Package store persists run reports, analysis results and favorites.
package store

import (
	"context"
	"time"

	"factorscan/pkg/model"
)

// Query filters stored results. Zero fields match everything.
type Query struct {
	Date    time.Time
	Cadence model.Cadence
	Symbol  string
	Signal  model.Signal
	Limit   int
}

// RunSummary is a stored run without its result rows
type RunSummary struct {
	RunID          string         `json:"run_id"`
	EvaluationDate time.Time      `json:"evaluation_date"`
	Cadence        model.Cadence  `json:"cadence"`
	Benchmark      string         `json:"benchmark"`
	State          model.RunState `json:"state"`
	Universe       int            `json:"universe"`
	Results        int            `json:"results"`
	Exclusions     int            `json:"exclusions"`
	Cancelled      bool           `json:"cancelled"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Err            string         `json:"error,omitempty"`
}

// ResultStore is the persistence boundary for scoring runs
type ResultStore interface {
	// SaveReport records the run, upserts its results and stores its exclusions
	SaveReport(ctx context.Context, report *model.RunReport) error
	Results(ctx context.Context, q Query) ([]model.AnalysisResult, error)
	Exclusions(ctx context.Context, runID string) ([]model.Exclusion, error)
	Runs(ctx context.Context, limit int) ([]RunSummary, error)
	LatestDate(ctx context.Context, cadence model.Cadence) (time.Time, error)

	SaveFavorites(ctx context.Context, list string, symbols []string) error
	LoadFavorites(ctx context.Context, list string) ([]string, error)

	Close() error
}

// Noop discards writes and returns empty reads. Used for dry runs.
type Noop struct{}

var _ ResultStore = Noop{}

func (Noop) SaveReport(context.Context, *model.RunReport) error { return nil }

func (Noop) Results(context.Context, Query) ([]model.AnalysisResult, error) {
	return []model.AnalysisResult{}, nil
}

func (Noop) Exclusions(context.Context, string) ([]model.Exclusion, error) {
	return []model.Exclusion{}, nil
}

func (Noop) Runs(context.Context, int) ([]RunSummary, error) { return []RunSummary{}, nil }

func (Noop) LatestDate(context.Context, model.Cadence) (time.Time, error) {
	return time.Time{}, nil
}

func (Noop) SaveFavorites(context.Context, string, []string) error { return nil }

func (Noop) LoadFavorites(context.Context, string) ([]string, error) { return nil, nil }

func (Noop) Close() error { return nil }
