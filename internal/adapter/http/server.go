package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/sentinel-ingest/internal/observability"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Sampler returns up to n stored post texts.
type Sampler interface {
	Sample(ctx context.Context, n int) ([]string, error)
}

// Options configures the optional fetch route. A nil Sampler leaves
// /fetch unregistered.
type Options struct {
	Sampler  Sampler
	FetchMax int
	Limiter  *rate.Limiter // nil disables rate limiting
	Metrics  *observability.Metrics
}

// Server exposes health, readiness, metrics, and fetch HTTP endpoints.
type Server struct {
	httpServer *http.Server
	opts       Options
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and,
// when a sampler is configured, /fetch routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, opts Options, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	if opts.FetchMax <= 0 {
		opts.FetchMax = 100
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		opts:   opts,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if opts.Sampler != nil {
		mux.HandleFunc("GET /fetch", s.handleFetch)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleFetch serves GET /fetch?n=<count> as a JSON array of strings.
// n is clamped to [1, FetchMax]; a missing n means FetchMax.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Limiter != nil && !s.opts.Limiter.Allow() {
		s.countFetch("rate_limited", -1)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	n := s.opts.FetchMax
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.countFetch("bad_request", -1)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be an integer"})
			return
		}
		n = min(max(v, 1), s.opts.FetchMax)
	}

	texts, err := s.opts.Sampler.Sample(r.Context(), n)
	if err != nil {
		s.countFetch("error", -1)
		s.logger.Error("fetch sample failed", "n", n, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sample unavailable"})
		return
	}
	if len(texts) > n {
		texts = texts[:n]
	}

	s.countFetch("success", len(texts))
	writeJSON(w, http.StatusOK, texts)
}

func (s *Server) countFetch(outcome string, items int) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.FetchRequests.WithLabelValues(outcome).Inc()
	if items >= 0 {
		s.opts.Metrics.FetchedItems.Observe(float64(items))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
