// Package server exposes the orchestrator over HTTP: turn handling, email
// drafts, health, and metrics, plus the cron-scheduled session sweeps.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/convoflow/convoflow/internal/config"
	"github.com/convoflow/convoflow/internal/email"
	"github.com/convoflow/convoflow/internal/observability"
	"github.com/convoflow/convoflow/internal/sessions"
	"github.com/convoflow/convoflow/internal/turn"
)

// Server is the HTTP front of the orchestrator.
type Server struct {
	cfg     *config.Config
	orch    *turn.Orchestrator
	drafts  *email.Pipeline
	sweeper *sessions.Sweeper
	log     *observability.Logger

	httpServer *http.Server
	cron       *cron.Cron
}

// New builds the server. drafts and sweeper may be nil; their routes and
// schedules are skipped.
func New(cfg *config.Config, orch *turn.Orchestrator, drafts *email.Pipeline, sweeper *sessions.Sweeper, log *observability.Logger) *Server {
	return &Server{
		cfg:     cfg,
		orch:    orch,
		drafts:  drafts,
		sweeper: sweeper,
		log:     log,
	}
}

// Routes assembles the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/v1/turns", s.handleTurn)
	if s.drafts != nil {
		r.Post("/v1/email-drafts", s.handleEmailDraft)
	}
	return r
}

// Start begins serving and schedules the session sweep. It blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	if s.sweeper != nil {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc("@every 1h", s.runSweep); err != nil {
			return err
		}
		s.cron.Start()
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info(context.Background(), "http server starting", "addr", s.cfg.Server.Addr)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the cron schedule and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.log.Error(ctx, "session sweep failed", "error", err.Error())
		return
	}
	if removed > 0 {
		s.log.Info(ctx, "session sweep completed", "removed", removed)
	}
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
