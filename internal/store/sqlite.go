package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"factorscan/pkg/model"
)

// SQLite stores results in a single SQLite database file
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

var _ ResultStore = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database and runs migrations
func OpenSQLite(path string, log zerolog.Logger) (*SQLite, error) {
	// pragmas in the DSN apply to every pooled connection. WAL lets the API
	// read while a scheduled run writes.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLite{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id          TEXT PRIMARY KEY,
			evaluation_date TEXT NOT NULL,
			cadence         TEXT NOT NULL,
			benchmark       TEXT,
			state           TEXT NOT NULL,
			universe        INTEGER,
			results         INTEGER,
			exclusions      INTEGER,
			cancelled       INTEGER,
			started_at      INTEGER,
			finished_at     INTEGER,
			error           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS results (
			symbol            TEXT NOT NULL,
			evaluation_date   TEXT NOT NULL,
			cadence           TEXT NOT NULL,
			run_id            TEXT,
			close             REAL,
			relative_strength REAL,
			volatility        REAL,
			momentum          REAL,
			trend_strength    REAL,
			final_score       REAL,
			final_signal      TEXT,
			fwd1              REAL,
			fwd2              REAL,
			fwd3              REAL,
			fwd4              REAL,
			fwd5              REAL,
			pattern           TEXT,
			pattern_direction TEXT,
			pattern_trend     TEXT,
			indicators        TEXT,
			computed_at       INTEGER,
			PRIMARY KEY (symbol, evaluation_date, cadence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_date ON results(evaluation_date, cadence)`,

		`CREATE TABLE IF NOT EXISTS exclusions (
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			factor TEXT,
			reason TEXT NOT NULL,
			detail TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exclusions_run ON exclusions(run_id)`,

		`CREATE TABLE IF NOT EXISTS favorites (
			list     TEXT NOT NULL,
			symbol   TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (list, symbol)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// upsertResult merges with any earlier row for the same key: columns the
// new row leaves NULL keep their stored value.
const upsertResult = `INSERT INTO results
	(symbol, evaluation_date, cadence, run_id, close,
	 relative_strength, volatility, momentum, trend_strength,
	 final_score, final_signal, fwd1, fwd2, fwd3, fwd4, fwd5,
	 pattern, pattern_direction, pattern_trend, indicators, computed_at)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(symbol, evaluation_date, cadence) DO UPDATE SET
		run_id            = excluded.run_id,
		close             = COALESCE(excluded.close, results.close),
		relative_strength = COALESCE(excluded.relative_strength, results.relative_strength),
		volatility        = COALESCE(excluded.volatility, results.volatility),
		momentum          = COALESCE(excluded.momentum, results.momentum),
		trend_strength    = COALESCE(excluded.trend_strength, results.trend_strength),
		final_score       = COALESCE(excluded.final_score, results.final_score),
		final_signal      = COALESCE(excluded.final_signal, results.final_signal),
		fwd1              = COALESCE(excluded.fwd1, results.fwd1),
		fwd2              = COALESCE(excluded.fwd2, results.fwd2),
		fwd3              = COALESCE(excluded.fwd3, results.fwd3),
		fwd4              = COALESCE(excluded.fwd4, results.fwd4),
		fwd5              = COALESCE(excluded.fwd5, results.fwd5),
		pattern           = COALESCE(excluded.pattern, results.pattern),
		pattern_direction = COALESCE(excluded.pattern_direction, results.pattern_direction),
		pattern_trend     = COALESCE(excluded.pattern_trend, results.pattern_trend),
		indicators        = COALESCE(excluded.indicators, results.indicators),
		computed_at       = excluded.computed_at`

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func scoreArg(r model.AnalysisResult, name model.FactorName) sql.NullFloat64 {
	v, ok := r.Score(name)
	return sql.NullFloat64{Float64: v, Valid: ok}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SaveReport writes the run, its results and its exclusions in one transaction
func (s *SQLite) SaveReport(ctx context.Context, report *model.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(run_id, evaluation_date, cadence, benchmark, state, universe, results,
		 exclusions, cancelled, started_at, finished_at, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		report.RunID, report.EvaluationDate.Format(model.DateLayout), string(report.Cadence),
		report.Benchmark, string(report.State), report.Universe, len(report.Results),
		len(report.Exclusions), report.Cancelled,
		report.StartedAt.UnixMilli(), report.FinishedAt.UnixMilli(), nullString(report.Err),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertResult)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range report.Results {
		indicators, err := json.Marshal(r.Indicators)
		if err != nil {
			return fmt.Errorf("encode indicators for %s: %w", r.Symbol, err)
		}
		var pattern, direction, trend sql.NullString
		if r.Pattern != nil {
			pattern = nullString(string(r.Pattern.Name))
			direction = nullString(string(r.Pattern.Direction))
			trend = nullString(string(r.Pattern.Trend))
		}

		_, err = stmt.ExecContext(ctx,
			r.Symbol, r.EvaluationDate.Format(model.DateLayout), string(r.Cadence), r.RunID, r.Close,
			scoreArg(r, model.FactorRelativeStrength), scoreArg(r, model.FactorVolatility),
			scoreArg(r, model.FactorMomentum), scoreArg(r, model.FactorTrendStrength),
			r.FinalScore, string(r.FinalSignal),
			nullFloat(r.ForwardPrices[0]), nullFloat(r.ForwardPrices[1]), nullFloat(r.ForwardPrices[2]),
			nullFloat(r.ForwardPrices[3]), nullFloat(r.ForwardPrices[4]),
			pattern, direction, trend, string(indicators), r.ComputedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", r.Symbol, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM exclusions WHERE run_id = ?`, report.RunID); err != nil {
		return fmt.Errorf("clear exclusions: %w", err)
	}
	for _, e := range report.Exclusions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO exclusions (run_id, symbol, factor, reason, detail) VALUES (?,?,?,?,?)`,
			report.RunID, e.Symbol, nullString(string(e.Factor)), string(e.Reason), e.Detail)
		if err != nil {
			return fmt.Errorf("insert exclusion %s: %w", e.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Debug().Str("run_id", report.RunID).Int("results", len(report.Results)).Msg("report saved")
	return nil
}

// Results returns stored results, best score first
func (s *SQLite) Results(ctx context.Context, q Query) ([]model.AnalysisResult, error) {
	var (
		where []string
		args  []any
	)
	if !q.Date.IsZero() {
		where = append(where, "evaluation_date = ?")
		args = append(args, model.DateOf(q.Date).Format(model.DateLayout))
	}
	if q.Cadence != "" {
		where = append(where, "cadence = ?")
		args = append(args, string(q.Cadence))
	}
	if q.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(q.Symbol))
	}
	if q.Signal != "" {
		where = append(where, "final_signal = ?")
		args = append(args, string(q.Signal))
	}

	query := `SELECT symbol, evaluation_date, cadence, run_id, close,
		relative_strength, volatility, momentum, trend_strength,
		final_score, final_signal, fwd1, fwd2, fwd3, fwd4, fwd5,
		pattern, pattern_direction, pattern_trend, indicators, computed_at
		FROM results`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY evaluation_date DESC, final_score DESC, symbol"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := []model.AnalysisResult{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanResult(rows *sql.Rows) (model.AnalysisResult, error) {
	var (
		r                      model.AnalysisResult
		date, cadence          string
		runID, signal          sql.NullString
		pattern, dir, trend    sql.NullString
		indicators             sql.NullString
		closePx, final         sql.NullFloat64
		rs, vol, mom, trendStr sql.NullFloat64
		fwd                    [model.ForwardPeriods]sql.NullFloat64
		computedAt             sql.NullInt64
	)
	err := rows.Scan(&r.Symbol, &date, &cadence, &runID, &closePx,
		&rs, &vol, &mom, &trendStr,
		&final, &signal, &fwd[0], &fwd[1], &fwd[2], &fwd[3], &fwd[4],
		&pattern, &dir, &trend, &indicators, &computedAt)
	if err != nil {
		return r, fmt.Errorf("scan result: %w", err)
	}

	if r.EvaluationDate, err = model.ParseDate(date); err != nil {
		return r, fmt.Errorf("stored date %q: %w", date, err)
	}
	r.Cadence = model.Cadence(cadence)
	r.RunID = runID.String
	r.Close = closePx.Float64
	r.FinalScore = final.Float64
	r.FinalSignal = model.Signal(signal.String)
	if computedAt.Valid {
		r.ComputedAt = time.UnixMilli(computedAt.Int64).UTC()
	}

	r.Scores = make(map[model.FactorName]model.FactorScore, len(model.Factors))
	for name, v := range map[model.FactorName]sql.NullFloat64{
		model.FactorRelativeStrength: rs,
		model.FactorVolatility:       vol,
		model.FactorMomentum:         mom,
		model.FactorTrendStrength:    trendStr,
	} {
		if v.Valid {
			r.Scores[name] = model.FactorScore{Name: name, Symbol: r.Symbol, Date: r.EvaluationDate, Value: v.Float64}
		}
	}

	for i, f := range fwd {
		if f.Valid {
			v := f.Float64
			r.ForwardPrices[i] = &v
		}
	}

	if pattern.Valid {
		r.Pattern = &model.Pattern{
			Date:      r.EvaluationDate,
			Name:      model.PatternName(pattern.String),
			Direction: model.Direction(dir.String),
			Trend:     model.Trend(trend.String),
		}
	}

	if indicators.Valid && indicators.String != "" {
		if err := json.Unmarshal([]byte(indicators.String), &r.Indicators); err != nil {
			return r, fmt.Errorf("decode indicators for %s: %w", r.Symbol, err)
		}
	}
	return r, nil
}

// Exclusions returns the exclusions recorded for a run
func (s *SQLite) Exclusions(ctx context.Context, runID string) ([]model.Exclusion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, factor, reason, detail FROM exclusions WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query exclusions: %w", err)
	}
	defer rows.Close()

	out := []model.Exclusion{}
	for rows.Next() {
		var (
			e      model.Exclusion
			factor sql.NullString
			reason string
			detail sql.NullString
		)
		if err := rows.Scan(&e.Symbol, &factor, &reason, &detail); err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		e.Factor = model.FactorName(factor.String)
		e.Reason = model.ExclusionReason(reason)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs lists the most recent runs first
func (s *SQLite) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, evaluation_date, cadence, benchmark, state,
		universe, results, exclusions, cancelled, started_at, finished_at, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var (
			r                 RunSummary
			date, cadence, st string
			bench, errMsg     sql.NullString
			started, finished int64
		)
		if err := rows.Scan(&r.RunID, &date, &cadence, &bench, &st,
			&r.Universe, &r.Results, &r.Exclusions, &r.Cancelled,
			&started, &finished, &errMsg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.EvaluationDate, _ = model.ParseDate(date)
		r.Cadence = model.Cadence(cadence)
		r.State = model.RunState(st)
		r.Benchmark = bench.String
		r.Err = errMsg.String
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestDate returns the most recent evaluation date with stored results,
// or the zero time when there are none
func (s *SQLite) LatestDate(ctx context.Context, cadence model.Cadence) (time.Time, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(evaluation_date) FROM results WHERE cadence = ?`, string(cadence)).Scan(&date)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("query latest date: %w", err)
	}
	if !date.Valid {
		return time.Time{}, nil
	}
	return model.ParseDate(date.String)
}

// SaveFavorites replaces a named favorites list
func (s *SQLite) SaveFavorites(ctx context.Context, list string, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM favorites WHERE list = ?`, list); err != nil {
		return fmt.Errorf("clear favorites: %w", err)
	}
	pos := 0
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO favorites (list, symbol, position) VALUES (?,?,?)`, list, sym, pos)
		if err != nil {
			return fmt.Errorf("insert favorite %s: %w", sym, err)
		}
		pos++
	}
	return tx.Commit()
}

// LoadFavorites returns a favorites list in saved order
func (s *SQLite) LoadFavorites(ctx context.Context, list string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol FROM favorites WHERE list = ? ORDER BY position`, list)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
