package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/kiesman99/pyramid/internal/pyramid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Options configures the operator API
type Options struct {
	// SourceRoot and OutputRoot confine request paths.
	SourceRoot string
	OutputRoot string
	// Defaults supplies every run parameter a request does not override.
	Defaults pyramid.Config
	// Timeout bounds one pyramid run.
	Timeout time.Duration
	// RateLimit is the number of pyramid runs allowed per client per minute.
	RateLimit int
	Logger    zerolog.Logger
	Registry  *prometheus.Registry
}

// HealthResponse is returned by GET /api/v1/health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
	Busy      bool      `json:"busy"`
}

// PyramidRequest is the body of POST /api/v1/pyramids. Paths are relative to
// the server's source and output roots.
type PyramidRequest struct {
	Source   string  `json:"source" validate:"required"`
	Output   string  `json:"output" validate:"required"`
	TileSize *int    `json:"tile_size,omitempty" validate:"omitempty,gt=0,lte=8192"`
	Quality  *int    `json:"quality,omitempty" validate:"omitempty,gte=0,lte=100"`
	Format   *string `json:"format,omitempty" validate:"omitempty,oneof=jpg jpeg png"`
}

// ErrorResponse is the body of every non-report error
type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Server triggers batch pyramid runs on server-local files. Only one run
// executes at a time.
type Server struct {
	startTime time.Time
	version   string
	opts      Options
	log       zerolog.Logger
	validate  *validator.Validate
	metrics   *pyramid.Metrics
	busy      chan struct{}
}

// NewServer creates a new server instance
func NewServer(version string, opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &Server{
		startTime: time.Now(),
		version:   version,
		opts:      opts,
		log:       opts.Logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		metrics:   pyramid.NewMetrics(opts.Registry),
		busy:      make(chan struct{}, 1),
	}
}

// Router mounts the API, health and metrics endpoints
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.GetHealth)
		r.Group(func(r chi.Router) {
			if s.opts.RateLimit > 0 {
				r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
			}
			r.Post("/pyramids", s.CreatePyramid)
		})
	})

	// Legacy health endpoint (without /api/v1 prefix)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v1/health", http.StatusMovedPermanently)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))

	return r
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(s.startTime).Seconds()),
		Version:   s.version,
		Busy:      len(s.busy) > 0,
	})
}

// CreatePyramid runs the pipeline synchronously and returns its report. The
// run is bounded by Options.Timeout; an expired run answers 504 with the
// partial report.
func (s *Server) CreatePyramid(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req PyramidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", requestID, nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeValidationError(w, err, requestID)
		return
	}

	cfg, err := s.configFor(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_PATH", err.Error(), requestID, nil)
		return
	}

	select {
	case s.busy <- struct{}{}:
		defer func() { <-s.busy }()
	default:
		s.writeError(w, http.StatusConflict, "BUSY", "A pyramid run is already in progress", requestID, nil)
		return
	}

	log := s.log.With().Str("request_id", requestID).Logger()
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
	defer cancel()

	gen := pyramid.New(cfg, pyramid.WithLogger(log), pyramid.WithMetrics(s.metrics))
	report, runErr := gen.Run(ctx)

	status := http.StatusOK
	switch {
	case errors.Is(runErr, pyramid.ErrConfig):
		status = http.StatusBadRequest
	case report.Canceled && errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case report.Canceled:
		status = http.StatusServiceUnavailable
	case report.Failed():
		status = http.StatusUnprocessableEntity
	}
	w.Header().Set("X-Request-ID", requestID)
	s.writeJSON(w, status, report)
}

// configFor merges a request into the server defaults
func (s *Server) configFor(req *PyramidRequest) (pyramid.Config, error) {
	cfg := s.opts.Defaults

	src, err := resolveUnder(s.opts.SourceRoot, req.Source)
	if err != nil {
		return cfg, fmt.Errorf("source: %w", err)
	}
	out, err := resolveUnder(s.opts.OutputRoot, req.Output)
	if err != nil {
		return cfg, fmt.Errorf("output: %w", err)
	}
	cfg.Source = src
	cfg.OutputRoot = out

	if req.TileSize != nil {
		cfg.TileSize = *req.TileSize
	}
	if req.Quality != nil {
		cfg.Quality = *req.Quality
	}
	if req.Format != nil {
		cfg.Format = *req.Format
	}
	return cfg, nil
}

// resolveUnder joins a client supplied relative path onto root, refusing
// anything that would escape it
func resolveUnder(root, rel string) (string, error) {
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%q must be a relative path inside the configured root", rel)
	}
	return filepath.Join(root, rel), nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encoding response")
	}
}

// writeError writes a standard error response
func (s *Server) writeError(w http.ResponseWriter, status int, code, message, requestID string, details map[string]any) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: requestID,
		Details:   details,
	})
}

// writeValidationError lists every failed field of a request
func (s *Server) writeValidationError(w http.ResponseWriter, err error, requestID string) {
	fields := map[string]any{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	}
	s.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), requestID, fields)
}
