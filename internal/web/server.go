// Package web serves stored results and favorites as JSON and lets clients
// trigger a scoring run.
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"factorscan/internal/daemon"
	"factorscan/internal/store"
	"factorscan/internal/symbols"
)

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	srv     *http.Server
	store   store.ResultStore
	job     daemon.Job
	symbols *symbols.Loader
	log     zerolog.Logger
	now     func() time.Time
	market  daemon.MarketSchedule

	scanMu     sync.RWMutex
	scan       scanState
	scanCancel context.CancelFunc
}

// NewServer creates the server. job may be nil, which disables POST /api/scan.
func NewServer(addr string, st store.ResultStore, job daemon.Job, loader *symbols.Loader, log zerolog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		store:   st,
		job:     job,
		symbols: loader,
		log:     log.With().Str("component", "server").Logger(),
		now:     time.Now,
		market:  daemon.DefaultMarketSchedule(),
		scan:    scanState{Status: scanIdle},
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/results", s.handleResults)
		r.Get("/results/latest", s.handleLatestResults)
		r.Get("/symbols/{symbol}/results", s.handleSymbolResults)

		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}/exclusions", s.handleExclusions)

		r.Get("/favorites/{list}", s.handleGetFavorites)
		r.Put("/favorites/{list}", s.handlePutFavorites)

		r.Get("/universes", s.handleUniverses)

		r.Get("/scan", s.handleScanStatus)
		r.Post("/scan", s.handleScan)
		r.Delete("/scan", s.handleCancelScan)
	})
}

// Handler exposes the router (tests, embedding)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting HTTP server")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown cancels a running scan and stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	s.scanMu.Lock()
	if s.scanCancel != nil {
		s.scanCancel()
	}
	s.scanMu.Unlock()
	return s.srv.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
