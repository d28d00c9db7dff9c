// Package api provides the HTTP REST API and websocket event stream for
// the daemon. It exposes scan control, the device inventory, alerts and
// alert rules, plus health and Prometheus metrics endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/saagar210/Echolocate/internal/auth"
	"github.com/saagar210/Echolocate/internal/config"
	"github.com/saagar210/Echolocate/internal/db"
	"github.com/saagar210/Echolocate/internal/errors"
	"github.com/saagar210/Echolocate/internal/logging"
	"github.com/saagar210/Echolocate/internal/metrics"
	"github.com/saagar210/Echolocate/internal/scan"
	"github.com/saagar210/Echolocate/internal/workers"
)

const (
	serverShutdownTimeout = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second

	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// ScanController is the scan control surface the API needs. Implemented
// by scan.Orchestrator.
type ScanController interface {
	Run(ctx context.Context, cfg scan.Config) (*scan.Result, error)
	Cancel() bool
	Running() bool
}

// Options carries the server's collaborators.
type Options struct {
	Config       *config.Config
	Database     *db.DB
	Devices      *db.DeviceRepository
	Scans        *db.ScanRepository
	Alerts       *db.AlertRepository
	Orchestrator ScanController
	Pool         *workers.Pool
	Hub          *Hub
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
	Version      string
}

// Server is the HTTP API server.
type Server struct {
	httpServer   *http.Server
	router       *mux.Router
	config       *config.Config
	database     *db.DB
	devices      *db.DeviceRepository
	scans        *db.ScanRepository
	alerts       *db.AlertRepository
	orchestrator ScanController
	pool         *workers.Pool
	hub          *Hub
	metrics      *metrics.Metrics
	logger       *logging.Logger
	version      string
	apiKeyHash   string
	startTime    time.Time
}

// New creates the API server and wires its routes and middleware.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}

	s := &Server{
		router:       mux.NewRouter(),
		config:       opts.Config,
		database:     opts.Database,
		devices:      opts.Devices,
		scans:        opts.Scans,
		alerts:       opts.Alerts,
		orchestrator: opts.Orchestrator,
		pool:         opts.Pool,
		hub:          opts.Hub,
		metrics:      opts.Metrics,
		logger:       opts.Logger.WithComponent("api"),
		version:      opts.Version,
		startTime:    time.Now(),
	}

	if key := opts.Config.API.APIKey; key != "" {
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to hash configured API key: %w", err)
		}
		s.apiKeyHash = hash
	}

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(opts.Config.API.ListenAddr, strconv.Itoa(opts.Config.API.Port)),
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	return s, nil
}

// Start runs the server until the context is canceled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	tls := s.config.API.TLS
	s.logger.Info("Starting API server", "address", s.httpServer.Addr, "tls", tls.Enabled)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if tls.Enabled {
			err = s.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	s.hub.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the configured router. Used by tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.statusHandler).Methods("GET")
	api.HandleFunc("/version", s.versionHandler).Methods("GET")

	api.HandleFunc("/scans", s.startScanHandler).Methods("POST")
	api.HandleFunc("/scans", s.listScansHandler).Methods("GET")
	api.HandleFunc("/scans/current", s.cancelScanHandler).Methods("DELETE")
	api.HandleFunc("/scans/{id}", s.getScanHandler).Methods("GET")

	api.HandleFunc("/devices", s.listDevicesHandler).Methods("GET")
	api.HandleFunc("/devices/{id}", s.getDeviceHandler).Methods("GET")
	api.HandleFunc("/devices/{id}", s.updateDeviceHandler).Methods("PUT")
	api.HandleFunc("/devices/{id}", s.deleteDeviceHandler).Methods("DELETE")
	api.HandleFunc("/devices/{id}/latency", s.deviceLatencyHandler).Methods("GET")

	api.HandleFunc("/alerts", s.listAlertsHandler).Methods("GET")
	api.HandleFunc("/alerts/unread-count", s.unreadCountHandler).Methods("GET")
	api.HandleFunc("/alerts/read-all", s.markAllReadHandler).Methods("POST")
	api.HandleFunc("/alerts/{id}/read", s.markReadHandler).Methods("POST")

	api.HandleFunc("/rules", s.listRulesHandler).Methods("GET")
	api.HandleFunc("/rules/{id}", s.updateRuleHandler).Methods("PUT")
	api.HandleFunc("/rules/custom", s.listCustomRulesHandler).Methods("GET")
	api.HandleFunc("/rules/custom", s.createCustomRuleHandler).Methods("POST")
	api.HandleFunc("/rules/custom/{id}", s.updateCustomRuleHandler).Methods("PUT")
	api.HandleFunc("/rules/custom/{id}", s.deleteCustomRuleHandler).Methods("DELETE")

	api.HandleFunc("/ws", s.hub.ServeWS).Methods("GET")
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware)
	if s.config.Logging.RequestLogging {
		s.router.Use(s.loggingMiddleware)
	}

	cors := s.config.API.CORS
	if cors.Enabled {
		s.router.Use(handlers.CORS(
			handlers.AllowedOrigins(cors.AllowedOrigins),
			handlers.AllowedHeaders(cors.AllowedHeaders),
			handlers.AllowedMethods(cors.AllowedMethods),
		))
	}

	if s.apiKeyHash != "" {
		s.router.Use(s.authMiddleware)
	}
}

// recoveryMiddleware turns handler panics into 500 responses.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic in API handler",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method)
				s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr)

		s.metrics.IncrementHTTPRequests(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode))
		s.metrics.RecordHTTPDuration(r.Method, r.URL.Path, duration)
	})
}

// authMiddleware requires a valid API key on everything except health,
// metrics and the websocket upgrade (browsers cannot set headers there;
// the key is taken from the query string instead).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if !s.validKey(key) {
			s.writeError(w, r, http.StatusUnauthorized, fmt.Errorf("invalid or missing API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validKey(key string) bool {
	if key == "" {
		return false
	}
	// Exact match supports keys configured in plain text before
	// hashes existed; bcrypt covers the generated ones.
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.API.APIKey)) == 1 {
		return true
	}
	return auth.ValidateAPIKey(key, s.apiKeyHash)
}

// healthHandler reports daemon health including database reachability.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string)
	if s.database != nil {
		if err := s.database.PingContext(ctx); err != nil {
			status = "unhealthy"
			checks["database"] = "failed"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service":      "echolocate",
		"version":      s.version,
		"uptime":       time.Since(s.startTime).String(),
		"scan_running": s.orchestrator != nil && s.orchestrator.Running(),
		"ws_clients":   s.hub.ClientCount(),
		"timestamp":    time.Now().UTC(),
	})
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service": "echolocate",
		"version": s.version,
	})
}

// errorResponse is the standard error payload.
type errorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Error("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)

	resp := errorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		resp.Code = string(code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// statusForError maps internal error codes to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.IsCode(err, errors.CodeNotFound):
		return http.StatusNotFound
	case errors.IsCode(err, errors.CodeScanInProgress):
		return http.StatusConflict
	case errors.IsCode(err, errors.CodeConflict):
		return http.StatusConflict
	case errors.IsCode(err, errors.CodeValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path)
	}
}

func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func (s *Server) queryParamInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
