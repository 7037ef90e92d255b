package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
	"github.com/JakeFAU/hkjc-results-crawler/internal/job"
	"github.com/JakeFAU/hkjc-results-crawler/internal/metrics"
)

// DefaultRequestTimeout bounds every request handled by the router.
const DefaultRequestTimeout = 60 * time.Second

// JobController starts crawl runs and reports their status.
type JobController interface {
	Start(ctx context.Context) (crawler.JobStatus, error)
	Status(ctx context.Context) (crawler.JobStatus, error)
}

// ReportRenderer writes records as a downloadable document.
type ReportRenderer interface {
	Render(w io.Writer, records []crawler.RaceRecord) error
}

// Server wires HTTP handlers to the race store and the crawl job runner.
type Server struct {
	router   chi.Router
	races    crawler.RaceReader
	jobs     JobController
	renderer ReportRenderer
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	races crawler.RaceReader,
	jobs JobController,
	renderer ReportRenderer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		races:    races,
		jobs:     jobs,
		renderer: renderer,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(DefaultRequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/races", func(r chi.Router) {
		r.Get("/", s.listRaces)
		r.Get("/{date}", s.listRacesByDate)
	})
	r.Route("/download/races", func(r chi.Router) {
		r.Get("/", s.downloadRaces)
		r.Get("/{date}", s.downloadRacesByDate)
	})

	r.Route("/v1/crawl", func(r chi.Router) {
		r.Post("/", s.startCrawl)
		r.Get("/status", s.crawlStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.races.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	status, err := s.jobs.Start(r.Context())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, status)
	case errors.Is(err, job.ErrAlreadyRunning):
		s.writeJSON(w, http.StatusConflict, conflictResponse{Error: err.Error(), Job: status})
	default:
		s.logger.Error("start crawl failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "crawl could not be started")
	}
}

func (s *Server) crawlStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.jobs.Status(r.Context())
	if err != nil {
		s.logger.Error("crawl status failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "crawl status unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type conflictResponse struct {
	Error string            `json:"error"`
	Job   crawler.JobStatus `json:"job"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeJSON(logger, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(s.logger, w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
