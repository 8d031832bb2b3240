package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"factorscan/internal/daemon"
	"factorscan/internal/store"
	"factorscan/internal/symbols"
	"factorscan/pkg/model"
)

const (
	scanIdle    = "idle"
	scanRunning = "running"
	scanDone    = "done"
	scanFailed  = "failed"
)

// scanState is the progress of the background run started by POST /api/scan
type scanState struct {
	Status     string         `json:"status"`
	Cadence    model.Cadence  `json:"cadence,omitempty"`
	Date       string         `json:"date,omitempty"`
	State      model.RunState `json:"state,omitempty"`
	Scored     int            `json:"scored"`
	Total      int            `json:"total"`
	RunID      string         `json:"run_id,omitempty"`
	Results    int            `json:"results"`
	Exclusions int            `json:"exclusions"`
	Cancelled  bool           `json:"cancelled,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Err        string         `json:"error,omitempty"`
}

// ScanRequest is the POST /api/scan body. All fields are optional.
type ScanRequest struct {
	Cadence  model.Cadence `json:"cadence"`
	Date     string        `json:"date"`     // YYYY-MM-DD, default the latest settled session
	Universe string        `json:"universe"` // a symbols.Loader spec
	Fetch    bool          `json:"fetch"`
}

// UniverseInfo describes a built-in universe
type UniverseInfo struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.market.Status(s.now())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"market":       status.Reason,
		"last_session": status.LastSession.Format(model.DateLayout),
	})
}

// parseQuery reads the result filters shared by the result endpoints
func parseQuery(r *http.Request) (store.Query, error) {
	q := store.Query{Limit: 100}
	v := r.URL.Query()

	if d := v.Get("date"); d != "" {
		date, err := model.ParseDate(d)
		if err != nil {
			return q, errors.New("invalid date, expected YYYY-MM-DD")
		}
		q.Date = date
	}
	if c := v.Get("cadence"); c != "" {
		q.Cadence = model.Cadence(strings.ToLower(c))
		if q.Cadence != model.Daily && q.Cadence != model.Weekly {
			return q, errors.New("cadence must be daily or weekly")
		}
	}
	if sig := v.Get("signal"); sig != "" {
		q.Signal = model.Signal(sig)
	}
	q.Symbol = strings.ToUpper(v.Get("symbol"))
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = min(n, 1000)
	}
	return q, nil
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeResults(w, r, q)
}

// handleLatestResults returns the results of the most recent evaluation date
// for a cadence (daily unless ?cadence=weekly)
func (s *Server) handleLatestResults(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Cadence == "" {
		q.Cadence = model.Daily
	}

	latest, err := s.store.LatestDate(r.Context(), q.Cadence)
	if err != nil {
		s.log.Error().Err(err).Msg("latest date")
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	if latest.IsZero() {
		writeJSON(w, http.StatusOK, []model.AnalysisResult{})
		return
	}
	q.Date = latest
	s.writeResults(w, r, q)
}

func (s *Server) handleSymbolResults(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.Symbol = strings.ToUpper(chi.URLParam(r, "symbol"))
	if !symbols.IsValidSymbol(q.Symbol) {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	s.writeResults(w, r, q)
}

func (s *Server) writeResults(w http.ResponseWriter, r *http.Request, q store.Query) {
	results, err := s.store.Results(r.Context(), q)
	if err != nil {
		s.log.Error().Err(err).Msg("query results")
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("query runs")
		writeError(w, http.StatusInternalServerError, "failed to load runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleExclusions(w http.ResponseWriter, r *http.Request) {
	exclusions, err := s.store.Exclusions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.log.Error().Err(err).Msg("query exclusions")
		writeError(w, http.StatusInternalServerError, "failed to load exclusions")
		return
	}
	writeJSON(w, http.StatusOK, exclusions)
}

func (s *Server) handleGetFavorites(w http.ResponseWriter, r *http.Request) {
	list := chi.URLParam(r, "list")
	syms, err := s.store.LoadFavorites(r.Context(), list)
	if err != nil {
		s.log.Error().Err(err).Str("list", list).Msg("load favorites")
		writeError(w, http.StatusInternalServerError, "failed to load favorites")
		return
	}
	if syms == nil {
		syms = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": list, "symbols": syms})
}

func (s *Server) handlePutFavorites(w http.ResponseWriter, r *http.Request) {
	list := chi.URLParam(r, "list")

	var body struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	syms, err := symbols.Normalize(body.Symbols)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SaveFavorites(r.Context(), list, syms); err != nil {
		s.log.Error().Err(err).Str("list", list).Msg("save favorites")
		writeError(w, http.StatusInternalServerError, "failed to save favorites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": list, "symbols": syms})
}

func (s *Server) handleUniverses(w http.ResponseWriter, r *http.Request) {
	names := symbols.Universes()
	out := make([]UniverseInfo, 0, len(names))
	for _, name := range names {
		out = append(out, UniverseInfo{ID: name, Count: len(symbols.GetUniverse(symbols.Universe(name)))})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	s.scanMu.RLock()
	state := s.scan
	s.scanMu.RUnlock()
	writeJSON(w, http.StatusOK, state)
}

// handleScan starts a run in the background. Clients poll GET /api/scan.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.job == nil {
		writeError(w, http.StatusServiceUnavailable, "scanning is not configured")
		return
	}

	var body ScanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	req := daemon.Request{Cadence: model.Cadence(strings.ToLower(string(body.Cadence))), Fetch: body.Fetch}
	if req.Cadence == "" {
		req.Cadence = model.Daily
	}
	if req.Cadence != model.Daily && req.Cadence != model.Weekly {
		writeError(w, http.StatusBadRequest, "cadence must be daily or weekly")
		return
	}

	req.Date = s.market.EvaluationDate(s.now())
	if body.Date != "" {
		date, err := model.ParseDate(body.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		req.Date = date
	}

	if body.Universe != "" {
		if s.symbols == nil {
			writeError(w, http.StatusBadRequest, "universe selection is not configured")
			return
		}
		syms, err := s.symbols.Resolve(r.Context(), body.Universe)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Universe = syms
	}

	s.scanMu.Lock()
	if s.scan.Status == scanRunning {
		s.scanMu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	s.scan = scanState{
		Status:    scanRunning,
		Cadence:   req.Cadence,
		Date:      req.Date.Format(model.DateLayout),
		State:     model.StateIdle,
		Total:     len(req.Universe),
		StartedAt: s.now(),
	}
	s.scanMu.Unlock()

	s.log.Info().
		Str("cadence", string(req.Cadence)).
		Str("date", req.Date.Format(model.DateLayout)).
		Bool("fetch", req.Fetch).
		Msg("scan requested")

	go s.runScan(ctx, cancel, req)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	s.scanMu.RLock()
	running := s.scan.Status == scanRunning
	cancel := s.scanCancel
	s.scanMu.RUnlock()

	if !running || cancel == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_running"})
		return
	}
	cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) runScan(ctx context.Context, cancel context.CancelFunc, req daemon.Request) {
	defer cancel()

	report, err := s.job.Run(ctx, req)

	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	s.scanCancel = nil
	s.scan.FinishedAt = s.now()
	s.scan.Status = scanDone
	if report != nil {
		s.scan.RunID = report.RunID
		s.scan.State = report.State
		s.scan.Total = report.Universe
		s.scan.Results = len(report.Results)
		s.scan.Exclusions = len(report.Exclusions)
		s.scan.Cancelled = report.Cancelled
	}
	if err != nil {
		s.scan.Status = scanFailed
		s.scan.Err = err.Error()
		s.log.Error().Err(err).Msg("scan failed")
		return
	}
	s.log.Info().
		Str("run_id", s.scan.RunID).
		Int("results", s.scan.Results).
		Dur("duration", s.scan.FinishedAt.Sub(s.scan.StartedAt)).
		Msg("scan complete")
}

// Progress records per-symbol scoring progress of the background run.
// It matches pipeline.ProgressCallback.
func (s *Server) Progress(scored, total int) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scan.Status != scanRunning {
		return
	}
	s.scan.Scored = scored
	s.scan.Total = total
}

// StateChanged records pipeline state transitions of the background run.
// It matches pipeline.StateCallback.
func (s *Server) StateChanged(runID string, state model.RunState) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scan.Status != scanRunning {
		return
	}
	s.scan.RunID = runID
	s.scan.State = state
}
