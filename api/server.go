// Package api provides the HTTP API server for the query advisor.
// It owns transport concerns only; every request runs the advisory
// pipeline exactly once.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/santoshpalla27/taulayer/decision/advisor"
	"github.com/santoshpalla27/taulayer/decision/caller"
	contracts "github.com/santoshpalla27/taulayer/pkg/api"
	"github.com/santoshpalla27/taulayer/pkg/platform"
	"github.com/santoshpalla27/taulayer/pkg/units"
)

// Advisor runs the advisory pipeline.
type Advisor interface {
	Advise(ctx context.Context, text string, c caller.Context) *advisor.Advice
}

// Check is a named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	advisor    Advisor
	checks     []Check
	gatherer   prometheus.Gatherer
	logger     zerolog.Logger
	config     *Config
	startTime  time.Time
}

// Config holds server configuration
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxRequestSize int64
	// APIKey enables X-API-Key enforcement on /api routes when set.
	APIKey  string
	Version string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxRequestSize: 1 * 1024 * 1024, // 1MB
		Version:        "dev",
	}
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer exposes the registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithReadinessCheck adds a dependency probe to /health/ready.
func WithReadinessCheck(name string, probe func(ctx context.Context) error) Option {
	return func(s *Server) { s.checks = append(s.checks, Check{Name: name, Probe: probe}) }
}

// NewServer creates a new API server
func NewServer(a Advisor, config *Config, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		advisor:   a,
		config:    config,
		logger:    zerolog.Nop(),
		gatherer:  prometheus.DefaultGatherer,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.config.RequestTimeout))

	// Health endpoints (for ALB/NLB)
	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(platform.APIKeyMiddleware(s.config.APIKey))
		r.Post("/api/predict", s.handlePredict)
		r.Post("/api/v1/predict", s.handlePredict)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().
		Int("port", s.config.Port).
		Str("version", s.config.Version).
		Msg("Starting query advisor API server")
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown starts the server and shuts it down when ctx
// is cancelled.
func (s *Server) StartWithGracefulShutdown(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "taulayer",
		"version": s.config.Version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, c := range s.checks {
		if err := c.Probe(ctx); err != nil {
			s.logger.Warn().Err(err).Str("check", c.Name).Msg("Readiness check failed")
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": c.Name + " not ready",
			})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"version": s.config.Version,
		"service": "taulayer",
	})
}

// =============================================================================
// PREDICT ENDPOINT
// =============================================================================

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var req contracts.PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	advice := s.advisor.Advise(r.Context(), req.Query, ToCallerContext(req.Context))
	s.jsonResponse(w, http.StatusOK, BuildResponse(advice))
}

// ToCallerContext maps the wire context to the pipeline's caller context.
func ToCallerContext(c contracts.QueryContext) caller.Context {
	return caller.Context{
		UserID:          c.UserID,
		Role:            c.Role,
		ClientID:        c.ClientID,
		Location:        c.Location,
		Device:          caller.ParseDevice(c.Device),
		BehaviorSummary: c.BehaviorSummary,
		Urgency:         caller.ParseUrgency(c.Urgency),
	}
}

// BuildResponse renders advice in wire units.
func BuildResponse(a *advisor.Advice) contracts.PredictResponse {
	suggestions := make([]contracts.Suggestion, len(a.Suggestions))
	for i, sg := range a.Suggestions {
		suggestions[i] = contracts.Suggestion{Type: string(sg.Type), Message: sg.Message}
	}
	return contracts.PredictResponse{
		Status:           string(a.Status()),
		PredictedLatency: units.FormatLatency(a.Estimate.Latency.Magnitude),
		EstimatedCost:    units.FormatCost(a.Estimate.Cost.Magnitude),
		Suggestions:      suggestions,
		Alternatives:     a.Alternatives,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, contracts.ErrorResponse{Success: false, Error: message})
}
