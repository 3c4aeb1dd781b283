package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/metrics"
	queuememory "github.com/JakeFAU/healthsync/internal/queue/memory"
	"github.com/JakeFAU/healthsync/internal/runstore"
	"github.com/JakeFAU/healthsync/internal/syncer"
)

// Enqueuer accepts requests without blocking.
type Enqueuer interface {
	TryEnqueue(req syncer.Request) error
}

// RunStore tracks run records.
type RunStore interface {
	Create(ctx context.Context, run syncer.Report) error
	Update(ctx context.Context, run syncer.Report) error
	Get(ctx context.Context, runID string) (syncer.Report, error)
	List(ctx context.Context) ([]syncer.Report, error)
}

// Sources reports which source names can be synced.
type Sources interface {
	Has(name string) bool
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies the current time in the configured time zone.
type Clock interface {
	Now() time.Time
}

// Config holds API options.
type Config struct {
	// APIKey, when set, is required in the X-API-Key header on /v1 routes.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the queue and run store.
type Server struct {
	router  chi.Router
	queue   Enqueuer
	runs    RunStore
	sources Sources
	ids     IDGenerator
	clock   Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queue Enqueuer,
	runs RunStore,
	sources Sources,
	ids IDGenerator,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	metrics.Init()
	s := &Server{
		queue:   queue,
		runs:    runs,
		sources: sources,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/sync/{source}", s.submitSync)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{run_id}", s.getRun)
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

func (s *Server) submitSync(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "source")
	if !s.sources.Has(name) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", name))
		return
	}
	req, err := s.parseRequest(r, name)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.ids.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "generate run id")
		return
	}
	req.RunID = runID

	run := syncer.Report{
		RunID:  runID,
		Source: name,
		Day:    req.Day.Format(time.DateOnly),
		Status: syncer.StatusQueued,
		DryRun: req.DryRun,
	}
	if err := s.runs.Create(r.Context(), run); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.queue.TryEnqueue(req); err != nil {
		run.Status = syncer.StatusFailed
		run.Error = "not queued: " + err.Error()
		run.FinishedAt = s.clock.Now()
		if uerr := s.runs.Update(r.Context(), run); uerr != nil {
			s.logger.Warn("mark rejected run", zap.String("run_id", runID), zap.Error(uerr))
		}
		status := http.StatusInternalServerError
		if errors.Is(err, queuememory.ErrFull) || errors.Is(err, queuememory.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.logger.Info("sync queued",
		zap.String("run_id", runID),
		zap.String("source", name),
		zap.String("day", run.Day),
		zap.Bool("dry_run", req.DryRun),
	)
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) parseRequest(r *http.Request, name string) (syncer.Request, error) {
	now := s.clock.Now()
	req := syncer.Request{Source: name, Day: syncer.Yesterday(now)}
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err := syncer.ParseDay(raw, now.Location())
		if err != nil {
			return syncer.Request{}, errors.New("date must be YYYY-MM-DD")
		}
		req.Day = day
	}
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		dryRun, err := strconv.ParseBool(raw)
		if err != nil {
			return syncer.Request{}, errors.New("dry_run must be a boolean")
		}
		req.DryRun = dryRun
	}
	return req, nil
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "run_id"))
	if errors.Is(err, runstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, run)
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

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), []byte(expected)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
