// Package server exposes the fetch orchestrator over HTTP: GET / runs a batch
// and returns its report, /metrics serves Prometheus metrics and /healthz
// answers liveness checks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agbru/cityweather/internal/config"
	"github.com/agbru/cityweather/internal/format"
	"github.com/agbru/cityweather/internal/logging"
	"github.com/agbru/cityweather/internal/metrics"
	"github.com/agbru/cityweather/internal/orchestration"
	"github.com/agbru/cityweather/internal/ratelimit"
	"github.com/agbru/cityweather/internal/weather"
)

// Server timeouts.
const (
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 2 * time.Minute
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr string
	// Cities are fetched when a request does not name its own.
	Cities []string
	// Fetch is passed to orchestration.FetchAll. Logger and Recorder are
	// filled in by the server, and a Limiter built from Fetch.Limits when
	// none is given. Every request shares that limiter.
	Fetch        orchestration.Options
	Security     SecurityConfig
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// BatchTimeout bounds one request's batch, permit waits included. It
	// defaults to nine tenths of WriteTimeout and is clamped below it, so
	// cities still waiting when it expires are reported as failures instead
	// of the connection being cut.
	BatchTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server serves weather batches over HTTP.
type Server struct {
	cfg      Config
	provider weather.Provider
	metrics  *metrics.Metrics
	logger   logging.Logger
	clients  *clientLimiter
}

// errorResponse is the body of every non-2xx JSON reply.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// New creates a Server. A nil logger discards output and nil metrics get a
// fresh registry.
func New(cfg Config, provider weather.Provider, m *metrics.Metrics, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if m == nil {
		m = metrics.New()
	}
	if cfg.Security.AllowedMethods == nil {
		cfg.Security = DefaultSecurityConfig()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.BatchTimeout <= 0 || cfg.BatchTimeout >= cfg.WriteTimeout {
		cfg.BatchTimeout = cfg.WriteTimeout * 9 / 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Fetch.Limiter == nil {
		cfg.Fetch.Limiter = ratelimit.New(cfg.Fetch.Limits)
	}
	cfg.Fetch.Logger = logger
	cfg.Fetch.Recorder = m
	return &Server{
		cfg:      cfg,
		provider: provider,
		metrics:  m,
		logger:   logger,
		clients:  newClientLimiter(cfg.Security.ClientRequestsPerMinute, cfg.Security.ClientBurst),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.wrap("/", s.handleWeather))
	mux.HandleFunc("/metrics", s.wrap("/metrics", s.handleMetrics))
	mux.HandleFunc("/healthz", s.wrap("/healthz", s.handleHealth))
	return mux
}

// wrap applies the middleware chain. route labels request metrics so
// unknown paths do not create new series.
func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return SecurityMiddleware(s.cfg.Security, s.metricsMiddleware(route, s.throttle(h)))
}

// ListenAndServe serves on cfg.Addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", logging.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server", logging.String("uptime", format.FormatExecutionDuration(time.Since(start))))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleWeather runs one batch. ?cities=a,b overrides the configured list.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cities := s.cfg.Cities
	if q := r.URL.Query().Get("cities"); q != "" {
		cities = config.SplitCities(q)
	}
	if len(cities) == 0 {
		s.writeError(w, http.StatusBadRequest, "no cities given")
		return
	}
	if limit := s.cfg.Security.MaxCities; limit > 0 && len(cities) > limit {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("too many cities: %d (max %d)", len(cities), limit))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BatchTimeout)
	defer cancel()
	results, summary := orchestration.FetchAll(ctx, cities, s.provider, s.cfg.Fetch, orchestration.NullProgressReporter{}, nil)

	body, err := json.Marshal(orchestration.NewReport(results, summary))
	if err != nil {
		s.logger.Error("Error encoding response", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.metrics.WritePrometheus(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	if code >= http.StatusInternalServerError && s.logger != nil {
		s.logger.Warn("Request failed", logging.Int("code", code), logging.String("message", msg))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Status: "error", Message: msg})
}

// throttle answers 429 once a client exceeds its request budget.
func (s *Server) throttle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.clients.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			s.writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.IncrementActiveRequests()
		defer s.metrics.DecrementActiveRequests()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		s.metrics.ObserveRequest(route, rec.code)
	}
}
