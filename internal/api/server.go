// Package api serves the reconciled indicator set over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/api/gateway"
	"github.com/lvonguyen/feedforge/internal/observability"
	"github.com/lvonguyen/feedforge/internal/pipeline"
	"github.com/lvonguyen/feedforge/internal/store"
)

const refreshSucceeded = "IOCs refreshed successfully"

// Runner triggers a reconciliation run.
type Runner interface {
	Run(ctx context.Context) pipeline.Result
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators of the HTTP server. Limiter, Telemetry and
// Checks are optional.
type Deps struct {
	Runner    Runner
	Store     *store.Store
	Limiter   *gateway.RateLimiter
	Telemetry *observability.Telemetry
	Checks    map[string]ReadinessCheck
	Version   string
	// RefreshTimeout bounds a synchronous refresh. Zero means no bound.
	RefreshTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	runner         Runner
	store          *store.Store
	limiter        *gateway.RateLimiter
	telemetry      *observability.Telemetry
	checks         map[string]ReadinessCheck
	version        string
	refreshTimeout time.Duration
	logger         *zap.Logger
	metrics        *observability.Metrics
}

// NewServer creates a server.
func NewServer(deps Deps) *Server {
	if deps.Telemetry == nil {
		deps.Telemetry = observability.NewNop()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	return &Server{
		runner:         deps.Runner,
		store:          deps.Store,
		limiter:        deps.Limiter,
		telemetry:      deps.Telemetry,
		checks:         deps.Checks,
		version:        deps.Version,
		refreshTimeout: deps.RefreshTimeout,
		logger:         deps.Telemetry.Logger().Named("api"),
		metrics:        deps.Telemetry.Metrics(),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.telemetry.MetricsHandler())

	r.Get("/iocs", s.handleIOCs)
	r.Get("/api/stats", s.handleStats)
	r.With(s.rateLimit).Post("/refresh", s.handleRefresh)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/iocs", s.handleIOCs)
		r.Get("/stats", s.handleStats)
		r.With(s.rateLimit).Post("/refresh", s.handleRefresh)
		r.Get("/history", s.handleHistory)
		r.Get("/integrity", s.handleIntegrity)
	})

	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(nil)(next)
}

// requestLogger records one log line and the request metrics per request.
// The path label is the matched route pattern to keep cardinality bounded.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		duration := time.Since(start)

		s.metrics.ObserveRequest(r.Method, path, status, duration)
		s.logger.Debug("Request completed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
		)
	})
}

// Health and readiness handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "feedforge",
		"version": s.version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": results,
	})
}

// Indicator handlers

func (s *Server) handleIOCs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("type")
	if kind == "" {
		kind = q.Get("kind")
	}

	iocs, err := s.store.Query(kind, q.Get("source"))
	if err != nil {
		s.logger.Error("Failed to retrieve IOCs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve IOCs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(iocs),
		"data":    iocs,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		s.logger.Error("Failed to retrieve statistics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"statistics": stats,
	})
}

// Pipeline handlers

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}

	// The run outlives a disconnected client so a half-written artifact is
	// never left behind.
	ctx := context.WithoutCancel(r.Context())
	if s.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.refreshTimeout)
		defer cancel()
	}

	s.logger.Info("Starting IOC refresh", zap.String("request_id", middleware.GetReqID(r.Context())))
	result := s.runner.Run(ctx)

	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "Pipeline failed"
		}
		writeError(w, http.StatusInternalServerError, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         refreshSucceeded,
		"processed_count": result.ProcessedCount,
		"run_id":          result.RunID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.History()
	if err != nil {
		s.logger.Error("Failed to load run history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load run history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(history),
		"data":    history,
	})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report := s.store.CheckIntegrity()

	status := http.StatusOK
	if report.Error != "" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"success":   report.Error == "",
		"integrity": report,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
