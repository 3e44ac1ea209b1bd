// Package api exposes the execution engine over HTTP: plugin routes built
// with HandleSingle and HandleStream, plus health, status, metrics, and
// cache administration endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net"
	"net/http"
	"time"

	"exec-pipeline/pkg/cache"
	"exec-pipeline/pkg/engine"
	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/manager"
	"exec-pipeline/pkg/stream"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses. Zero leaves streamed responses
	// unbounded.
	WriteTimeout time.Duration

	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration

	// UserKeyHeader names the request header carrying the caller identity.
	UserKeyHeader string

	// AdminTimeout bounds health, stats, and clear requests against the backend.
	AdminTimeout time.Duration
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       ":8080",
		ReadTimeout:   5 * time.Second,
		IdleTimeout:   60 * time.Second,
		UserKeyHeader: "X-User-Key",
		AdminTimeout:  5 * time.Second,
	}
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine   *engine.Engine
	manager  *manager.Manager
	streams  *stream.Manager
	gatherer prometheus.Gatherer
	logger   *logging.Logger
	config   ServerConfig
	started  time.Time

	router *mux.Router
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates the server and registers the built-in endpoints.
// m and streams may be nil.
func NewServer(e *engine.Engine, m *manager.Manager, streams *stream.Manager, config ServerConfig, opts ...Option) *Server {
	defaults := DefaultServerConfig()
	if config.UserKeyHeader == "" {
		config.UserKeyHeader = defaults.UserKeyHeader
	}
	if config.AdminTimeout <= 0 {
		config.AdminTimeout = defaults.AdminTimeout
	}

	s := &Server{
		engine:   e,
		manager:  m,
		streams:  streams,
		gatherer: prometheus.DefaultGatherer,
		logger:   logging.Global().Named("api"),
		config:   config,
		started:  time.Now(),
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(s.logRequests)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	s.router.HandleFunc("/cache", s.handleCacheClear).Methods(http.MethodDelete)

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Router returns the router so callers can mount plugin routes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Engine returns the engine plugin routes execute through.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe blocks serving on the configured address until Stop is
// called, when it returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api listening", zap.String("address", s.config.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop aborts every live stream, then gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.streams != nil {
		s.streams.AbortAll()
	}
	return s.server.Shutdown(ctx)
}

// UserKey returns the caller identity for r, or cache.GlobalUserKey when the
// header is absent.
func (s *Server) UserKey(r *http.Request) string {
	if key := r.Header.Get(s.config.UserKeyHeader); key != "" {
		return key
	}
	return cache.GlobalUserKey
}

// CallFunc describes the engine call a request maps to.
type CallFunc func(r *http.Request) engine.Call

// HandleSingle returns a handler that runs op through the engine and writes
// its result as JSON. A failed execution answers 500 without details; the
// failure is logged by the engine.
func HandleSingle[T any](s *Server, call CallFunc, op func(ctx context.Context, r *http.Request) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := call(r)
		c.UserKey = s.UserKey(r)

		v, ok := engine.ExecuteSingle(r.Context(), s.engine, c, func(ctx context.Context) (T, error) {
			return op(ctx, r)
		})
		if !ok {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error": "execution failed",
			})
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// HandleStream returns a handler that delivers the sequence produced by
// factory as server-sent events.
func HandleStream[T any](s *Server, call CallFunc, factory func(ctx context.Context, r *http.Request) (iter.Seq2[T, error], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sink, err := stream.NewHTTPSink(w, r)
		if err != nil {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		c := call(r)
		c.UserKey = s.UserKey(r)

		err = engine.ExecuteStreamed(r.Context(), s.engine, sink, c, func(ctx context.Context) (iter.Seq2[T, error], error) {
			return factory(ctx, r)
		})
		if errors.Is(err, engine.ErrNoStreams) {
			http.Error(w, "streaming unavailable", http.StatusServiceUnavailable)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.AdminTimeout)
	defer cancel()

	status, code := "healthy", http.StatusOK
	if s.manager != nil && !s.manager.HealthCheck(ctx) {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "running",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
	}
	if s.manager != nil {
		response["cacheMode"] = s.manager.Mode()
		response["inFlight"] = s.manager.InFlight()
	}
	if s.streams != nil {
		response["streams"] = s.streams.Count()
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "caching not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.AdminTimeout)
	defer cancel()

	stats, err := s.manager.Stats(ctx)
	if err != nil {
		s.logger.Warn("cache stats failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": cache.ClassifyError(err),
			"stats": stats,
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "caching not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.AdminTimeout)
	defer cancel()

	if err := s.manager.Clear(ctx); err != nil {
		s.logger.Warn("cache clear failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": cache.ClassifyError(err),
		})
		return
	}

	s.logger.Info("cache cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
