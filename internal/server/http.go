package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/T-SHELLY/aeroAR/internal/auth"
	"github.com/T-SHELLY/aeroAR/internal/config"
	"github.com/T-SHELLY/aeroAR/internal/metrics"
	"github.com/T-SHELLY/aeroAR/internal/pipeline"
	"github.com/T-SHELLY/aeroAR/internal/store"
)

// HTTPServer exposes the submission, polling, playback and export API
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	store    *store.Store
	pipeline *pipeline.Pipeline
	pool     *pipeline.Pool
	sessions *auth.Sessions
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, st *store.Store,
	p *pipeline.Pipeline, pool *pipeline.Pool, sessions *auth.Sessions, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		store:     st,
		pipeline:  p,
		pool:      pool,
		sessions:  sessions,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return h
}

// Handler returns the configured root handler, used by tests to drive the
// API through httptest
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures the HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Session endpoints
	mux.HandleFunc("POST /login", h.withMetrics("/login", h.handleLogin))
	mux.HandleFunc("POST /logout", h.withMetrics("/logout", h.handleLogout))
	mux.HandleFunc("POST /api/session/module", h.withMetrics("/api/session/module", h.handleSelectModule))

	// Module submission and management
	mux.HandleFunc("POST /api/modules", h.withMetrics("/api/modules", h.handleCreateModule))
	mux.HandleFunc("GET /api/modules", h.withMetrics("/api/modules", h.handleListModules))
	mux.HandleFunc("DELETE /api/modules/{code}", h.withMetrics("/api/modules/{code}", h.handleDeleteModule))

	// Status/query surface
	mux.HandleFunc("GET /api/status", h.withMetrics("/api/status", h.handleOwnerStatus))
	mux.HandleFunc("GET /api/modules/{code}/status", h.withMetrics("/api/modules/{code}/status", h.handleModuleStatus))
	mux.HandleFunc("GET /api/modules/{code}/manifest", h.withMetrics("/api/modules/{code}/manifest", h.handleManifest))

	// Audio playback
	mux.HandleFunc("GET /api/modules/{code}/audio", h.withMetrics("/api/modules/{code}/audio", h.handleModuleAudio))
	mux.HandleFunc("GET /audios", h.withMetrics("/audios", h.handleScanAudio))

	// QR export
	mux.HandleFunc("GET /api/modules/{code}/qr.zip", h.withMetrics("/api/modules/{code}/qr.zip", h.handleQRArchive))

	// Operational endpoints
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Static frontend
	if h.config.HTTP.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(h.config.HTTP.StaticDir)))
	}
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}
