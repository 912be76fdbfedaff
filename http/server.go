// Package http serves the EduPredict JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"edupredict/ml"
	"edupredict/monitoring"
	"edupredict/pipeline"
)

// ServerConfig configures the listener and middleware limits.
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
}

// DefaultServerConfig returns the defaults used when config is absent.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8000,
		Timeout:        30 * time.Second,
		MaxUploadBytes: 20 << 20,
		AllowedOrigins: []string{"*"},
	}
}

// Services are the collaborators the handlers drive. Hub is optional and
// disables event streaming when nil; Sessions and Metrics get defaults.
type Services struct {
	Logger    *zap.Logger
	Ingester  *pipeline.DataIngester
	Cleaner   *pipeline.DataCleaner
	Staging   *pipeline.StagingStore
	Trainer   *ml.Trainer
	Store     *ml.ModelStore
	Predictor *ml.Predictor
	Sessions  *SessionStore
	Hub       *monitoring.Hub
	Metrics   *monitoring.MetricsCollector
}

// API holds the handler dependencies.
type API struct {
	Services
	logger *zap.Logger
}

// NewAPI wires the handlers. A nil logger is replaced by a no-op one.
func NewAPI(s Services) *API {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Sessions == nil {
		s.Sessions = NewSessionStore(SessionConfig{}, s.Staging.Drop)
	}
	if s.Metrics == nil {
		s.Metrics = monitoring.NewMetricsCollector()
	}
	return &API{Services: s, logger: logger}
}

// Routes registers every endpoint on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/metrics", a.handleMetrics)
	mux.HandleFunc("DELETE /api/session", a.handleResetSession)

	a.registerPipelineRoutes(mux)
	a.registerStudentRoutes(mux)
	a.registerDashboardRoutes(mux)
	a.registerUserRoutes(mux)

	if a.Hub != nil {
		mux.Handle("GET /api/ws/training", a.Hub)
	}
}

// Server is the HTTP listener.
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// Handler builds the routed handler wrapped in the middleware chain.
func Handler(config ServerConfig, api *API) http.Handler {
	mux := http.NewServeMux()
	api.Routes(mux)

	chain := Chain(
		RecoveryMiddleware(api.logger),        // 1. recovery runs first to catch panics
		LoggerMiddleware(api.logger),          // 2. logging
		SecurityHeadersMiddleware,             // 3. security headers
		CORSMiddleware(config.AllowedOrigins), // 4. CORS
		TimeoutMiddleware(config.Timeout),     // 5. timeout
		RequestSizeMiddleware(config.MaxUploadBytes),
	)
	return chain(mux)
}

// NewServer creates the server for api.
func NewServer(config ServerConfig, api *API) *Server {
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           Handler(config, api),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: api.logger,
	}
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("events", fmt.Sprintf("ws://localhost%s/api/ws/training", s.server.Addr)),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop shuts down gracefully within five seconds.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// handleResetSession forgets the caller's staged dataset and prediction.
func (a *API) handleResetSession(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Destroy(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := a.Metrics.ExportPrometheus(w); err != nil {
		a.logger.Warn("export metrics", zap.Error(err))
	}
}

// publish forwards an event to the hub when one is attached.
func (a *API) publish(t monitoring.EventType, data any) {
	if a.Hub == nil {
		return
	}
	if err := a.Hub.Publish(t, data); err != nil {
		a.logger.Warn("publish event", zap.String("type", string(t)), zap.Error(err))
	}
}
