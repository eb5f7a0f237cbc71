package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/handsfree-vad/internal/config"
	"github.com/skypro1111/handsfree-vad/internal/metrics"
	"github.com/skypro1111/handsfree-vad/internal/session"
	"github.com/skypro1111/handsfree-vad/internal/transport"
	"github.com/skypro1111/handsfree-vad/internal/vad"
)

// Version is reported by /health and the root endpoint
var Version = "dev"

// Engine is the part of the session engine the API controls
type Engine interface {
	StartCalibration(ctx context.Context) error
	StartHandsFree(ctx context.Context) error
	StopHandsFree(ctx context.Context) error
	Snapshot() session.Snapshot
	GetStats() session.Stats
	Profile() (vad.Profile, bool)
}

// UploadStats provides upload client statistics
type UploadStats interface {
	GetStats() transport.ClientStats
}

// HTTPServer provides the control API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	engine   Engine
	uploads  UploadStats
	hub      *Hub
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the API server. uploads may be nil.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, engine Engine, uploads UploadStats,
	hub *Hub, gatherer prometheus.Gatherer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		engine:    engine,
		uploads:   uploads,
		hub:       hub,
		gatherer:  gatherer,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// no WriteTimeout: /ws connections are long lived
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/profile", h.withMetrics("/profile", h.handleProfile))
	mux.HandleFunc("/calibrate", h.withMetrics("/calibrate", h.handleCalibrate))
	mux.HandleFunc("/handsfree", h.withMetrics("/handsfree", h.handleHandsFree))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Event stream (no metrics wrapper, the connection is hijacked)
	mux.Handle("/ws", h.hub)

	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (h *HTTPServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	h.logger.Info("Stopping HTTP API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{
		"error":     err.Error(),
		"timestamp": time.Now().UTC(),
	})
}

// controlStatus maps an engine command error to an HTTP status code
func controlStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotCalibrated), errors.Is(err, session.ErrCalibrating):
		return http.StatusConflict
	case errors.Is(err, session.ErrEngineStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.engine.Snapshot()
	stats := h.engine.GetStats()

	components := map[string]interface{}{
		"engine": map[string]interface{}{
			"status":     snap.Status,
			"hands_free": snap.HandsFree,
			"calibrated": snap.Profile != nil,
		},
		"capture": map[string]interface{}{
			"source":           stats.Capture.Source,
			"running":          stats.Capture.Running,
			"frames_delivered": stats.Capture.FramesDelivered,
			"frames_dropped":   stats.Capture.FramesDropped,
		},
		"websocket": h.hub.Stats(),
	}
	if h.uploads != nil {
		us := h.uploads.GetStats()
		components["backend"] = map[string]interface{}{
			"url":             h.config.Backend.URL,
			"total_requests":  us.TotalRequests,
			"success_rate":    us.SuccessRate,
			"active_requests": us.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "handsfree-vad",
			"version": Version,
		},
		"components": components,
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// handleProfile implements the /profile endpoint
func (h *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profile, ok := h.engine.Profile()
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrNotCalibrated)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// handleCalibrate implements POST /calibrate
func (h *HTTPServer) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.engine.StartCalibration(r.Context()); err != nil {
		writeError(w, controlStatus(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, h.engine.Snapshot())
}

// handleHandsFree implements POST and DELETE /handsfree
func (h *HTTPServer) handleHandsFree(w http.ResponseWriter, r *http.Request) {
	var err error

	switch r.Method {
	case http.MethodPost:
		err = h.engine.StartHandsFree(r.Context())
	case http.MethodDelete:
		err = h.engine.StopHandsFree(r.Context())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err != nil {
		writeError(w, controlStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Re-key through YAML so the output uses the config file's field names
	data, err := yaml.Marshal(h.config.Redacted())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var sanitized map[string]interface{}
	if err := yaml.Unmarshal(data, &sanitized); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, sanitized)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"engine":    h.engine.GetStats(),
		"websocket": h.hub.Stats(),
	}
	if h.uploads != nil {
		stats["uploads"] = h.uploads.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Hands-free VAD daemon",
		"version": Version,
		"endpoints": map[string]interface{}{
			"GET /":             "API documentation",
			"GET /health":       "Service health check",
			"GET /status":       "Current engine status",
			"GET /profile":      "Active voice profile",
			"POST /calibrate":   "Start calibration",
			"POST /handsfree":   "Start hands-free listening",
			"DELETE /handsfree": "Stop hands-free listening",
			"GET /config":       "Service configuration (secrets redacted)",
			"GET /stats":        "Service statistics",
			"GET /metrics":      "Prometheus metrics",
			"GET /ws":           "WebSocket event stream",
		},
		"timestamp": time.Now().UTC(),
	})
}
