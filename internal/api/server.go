package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/dzeleniak/tleme/internal/auth"
	"github.com/dzeleniak/tleme/internal/health"
	"github.com/dzeleniak/tleme/internal/metrics"
	"github.com/dzeleniak/tleme/internal/stream"
	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
	"github.com/dzeleniak/tleme/internal/visibility"
)

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	Current() *tle.Catalog
}

// Evaluator computes the visible set for one observer and instant.
type Evaluator interface {
	EvaluateCatalog(ctx context.Context, cat *tle.Catalog, obs transform.Observer, t time.Time, thresholdDeg float64) (*visibility.Report, error)
}

// Locator resolves an observer from a client IP ("" means this host).
type Locator interface {
	ObserverForIP(ctx context.Context, ip string) (transform.Observer, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Addr             string
	Auth             auth.Config
	TrustProxy       bool
	RateLimit        float64 // requests per second per client IP; <= 0 disables
	RateBurst        int
	DefaultThreshold float64
	CatalogMaxAge    time.Duration
	MaxEpochAge      time.Duration // pass searches; <= 0 disables the check
}

// Deps are the collaborators the routes are served from. Locator and Stream
// may be nil, in which case the routes that need them report so.
type Deps struct {
	Catalogs CatalogSource
	Engine   Evaluator
	Locator  Locator
	Stream   *stream.Handler
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           newHandler(cfg, deps, logger),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

func newHandler(cfg Config, deps Deps, logger *slog.Logger) http.Handler {
	h := &handlers{
		catalogs:         deps.Catalogs,
		engine:           deps.Engine,
		locator:          deps.Locator,
		trustProxy:       cfg.TrustProxy,
		defaultThreshold: cfg.DefaultThreshold,
		maxEpochAge:      cfg.MaxEpochAge,
		logger:           logger,
		now:              time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(deps.Catalogs, cfg.CatalogMaxAge))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/targets", h.targets)
	mux.HandleFunc("GET /api/v1/targets/{id}", h.target)
	mux.HandleFunc("GET /api/v1/targets/{id}/passes", h.passes)
	mux.HandleFunc("GET /api/v1/visible", h.visible)
	mux.HandleFunc("GET /api/v1/location", h.location)
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/visible", deps.Stream.HandleVisible)
	}

	// Build middleware chain: metrics -> logging -> rate limit -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth)(handler)
	if cfg.RateLimit > 0 {
		limiter := newIPRateLimiter(cfg.RateLimit, cfg.RateBurst)
		handler = rateLimitMiddleware(limiter, cfg.TrustProxy, logger)(handler)
	}
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			// Spans started by handlers join the caller's trace.
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			r = r.WithContext(ctx)

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
