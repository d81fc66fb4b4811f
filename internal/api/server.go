package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/captcha"
	"github.com/JakeFAU/bizregistry-scraper/internal/coordinator"
	"github.com/JakeFAU/bizregistry-scraper/internal/metrics"
	"github.com/JakeFAU/bizregistry-scraper/internal/proxypool"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// DefaultRequestTimeout bounds every request except the long-running
// CAPTCHA solve and proxy health check routes.
const DefaultRequestTimeout = 60 * time.Second

// JobService is the job lifecycle surface used by the handlers.
type JobService interface {
	Submit(ctx context.Context, req coordinator.SubmitRequest) (scraper.Job, error)
	Get(ctx context.Context, jobID string) (scraper.Job, error)
	List(ctx context.Context, filter scraper.JobFilter) ([]scraper.Job, error)
	Companies(ctx context.Context, jobID string, limit, offset int) ([]scraper.Company, error)
	Pause(ctx context.Context, jobID string) (scraper.Job, error)
	Resume(ctx context.Context, jobID string) (scraper.Job, error)
	Cancel(ctx context.Context, jobID string) (scraper.Job, error)
}

// ProxyService manages the proxy pool.
type ProxyService interface {
	List(ctx context.Context, filter scraper.ProxyFilter) ([]scraper.ProxyServer, error)
	Add(ctx context.Context, req proxypool.AddRequest) (scraper.ProxyServer, proxypool.TestResult, error)
	Test(ctx context.Context, id string) (scraper.ProxyServer, proxypool.TestResult, error)
	Update(ctx context.Context, id string, req proxypool.UpdateRequest) (scraper.ProxyServer, error)
	Delete(ctx context.Context, id string) error
	HealthCheckAll(ctx context.Context) (proxypool.HealthReport, error)
}

// Solver solves a single CAPTCHA challenge.
type Solver interface {
	Solve(ctx context.Context, req captcha.SolveRequest) (captcha.SolveResult, error)
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Config controls middleware behavior.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	Ready          ReadyFunc
}

// Server wires HTTP handlers to the job coordinator, proxy pool, and CAPTCHA
// gateway.
type Server struct {
	router  chi.Router
	jobs    JobService
	proxies ProxyService
	solver  Solver
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs JobService,
	proxies ProxyService,
	solver Solver,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	metrics.Init()
	s := &Server{
		jobs:    jobs,
		proxies: proxies,
		solver:  solver,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/companies", s.listCompanies)
				r.Post("/pause", s.pauseJob)
				r.Post("/resume", s.resumeJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Route("/proxies", func(r chi.Router) {
			// Health checks pause between batches and run past the request timeout.
			r.Post("/health-check", s.healthCheckProxies)
			r.Group(func(r chi.Router) {
				r.Use(timeoutMiddleware(cfg.RequestTimeout))
				r.Get("/", s.listProxies)
				r.Post("/", s.addProxy)
				r.Route("/{proxy_id}", func(r chi.Router) {
					r.Post("/test", s.testProxy)
					r.Patch("/", s.updateProxy)
					r.Delete("/", s.deleteProxy)
				})
			})
		})
		// Solving polls the provider for up to the configured poll budget.
		r.Post("/captcha/solve", s.solveCaptcha)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scraper.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, scraper.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scraper.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, scraper.ErrNoProviderConfigured):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("error_kind", scraper.ErrorKind(err)),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return scraper.Validationf("invalid JSON: %v", err)
	}
	return nil
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
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
