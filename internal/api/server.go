// Package api exposes the operator interface of the probe: start and stop a
// search, inspect its progress and history, and follow it live over a
// websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/loadtest"
	"github.com/FairForge/loadprobe/internal/metrics"
	"github.com/FairForge/loadprobe/internal/store"
)

// Server is the operator HTTP server.
type Server struct {
	manager    *Manager
	hub        *Hub
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	startTime  time.Time
}

// NewServer builds the router. gatherer backs /metrics; collector, when
// non-nil, instruments every route.
func NewServer(addr string, manager *Manager, hub *Hub, gatherer prometheus.Gatherer, collector *metrics.HTTPCollector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager:   manager,
		hub:       hub,
		logger:    logger,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}

	if collector != nil {
		s.router.Use(metrics.Middleware(collector))
	}
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.registerProbeRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) registerProbeRoutes() {
	s.router.Route("/api/v1/probe", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Get("/status", s.handleStatus)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		if s.hub != nil {
			r.Get("/events", s.hub.ServeHTTP)
		}
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown; it returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting operator api", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the active search, closes event streams and drains the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Warn("search did not finish before shutdown", zap.Error(err))
	}
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
			return
		}
	}

	id, err := s.manager.Start(req)
	if err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id": id,
		"status": "started",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Stop(); err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.manager.Runs(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, loadtest.ErrAlreadyRunning), errors.Is(err, ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, loadtest.ErrInvalidRate):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("API error", zap.Error(err), zap.Int("status", status))
	}
	s.respondJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}
