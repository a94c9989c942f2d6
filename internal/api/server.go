package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/config"
	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/JakeFAU/bizdirectory-crawler/internal/metrics"
	"github.com/JakeFAU/bizdirectory-crawler/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const requestTimeout = 60 * time.Second

// Scheduler is the subset of *scheduler.Scheduler the API drives.
type Scheduler interface {
	Add(target crawler.CrawlTarget) error
	Remove(name string) error
	Get(name string) (crawler.CrawlTarget, error)
	List() []crawler.CrawlTarget
	RunOne(ctx context.Context, name string) (crawler.CrawlRunResult, error)
	Start(ctx context.Context) bool
	Stop() bool
	Status(now time.Time) scheduler.Status
}

// Server wires HTTP handlers to the scheduler and business store.
type Server struct {
	router  chi.Router
	baseCtx context.Context
	sched   Scheduler
	store   crawler.BusinessStore
	clock   crawler.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ctx bounds loops
// and runs started through the API, so they outlive the triggering request.
func NewServer(
	ctx context.Context,
	sched Scheduler,
	store crawler.BusinessStore,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		baseCtx: ctx,
		sched:   sched,
		store:   store,
		clock:   clock,
		logger:  logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Runs are synchronous and may take minutes.
		r.Post("/targets/{name}/run", s.runTarget)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Route("/crawler", func(r chi.Router) {
				r.Get("/status", s.status)
				r.Get("/stats", s.stats)
				r.Post("/start", s.start)
				r.Post("/stop", s.stop)
			})
			r.Get("/targets", s.listTargets)
			r.Post("/targets", s.addTarget)
			r.Get("/targets/{name}", s.getTarget)
			r.Delete("/targets/{name}", s.removeTarget)
			r.Get("/businesses", s.listBusinesses)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps target management sentinels onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawler.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, crawler.ErrDuplicateTarget):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, crawler.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
