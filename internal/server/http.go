package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/genai-relay/internal/config"
	"github.com/skypro1111/genai-relay/internal/gemini"
	"github.com/skypro1111/genai-relay/internal/metrics"
	"github.com/skypro1111/genai-relay/internal/relay"
	"github.com/skypro1111/genai-relay/internal/upload"
)

const (
	serviceName    = "genai-relay"
	serviceVersion = "1.0.0"
)

// StatsSource reports upstream client statistics.
type StatsSource interface {
	Stats() gemini.ClientStats
}

// HTTPServer exposes the relay pipelines and the monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	relay    *relay.Relay
	uploads  *upload.Store
	upstream StatsSource
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *rateLimiter

	// Server state
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. gatherer backs /metrics and
// should be the registry m was registered with.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, rl *relay.Relay, uploads *upload.Store,
	upstream StatsSource, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    cfg,
		relay:     rl,
		uploads:   uploads,
		upstream:  upstream,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	if cfg.RateLimit.Enabled {
		h.limiter = newRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.GetWindowDuration())
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.GetReadTimeoutDuration(),
		WriteTimeout: cfg.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for tests and embedding.
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	h.route(mux, "/health", h.handleHealth)

	// Model-backed routes
	h.route(mux, "/chat", h.handleChat)
	h.route(mux, "/chat-image", h.handleChatImage)
	h.route(mux, "/chat-converse", h.handleConverse)
	h.route(mux, "/api/claude/chat", h.handleConverse)
	h.route(mux, "/stt", h.handleSTT)
	h.route(mux, "/tts", h.handleTTS)

	// Monitoring
	h.route(mux, "/stats", h.handleStats)
	h.route(mux, "/config", h.handleConfig)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	h.route(mux, "/", h.handleRoot)
}

// route registers handler behind the middleware chain:
// request id, metrics, CORS, rate limit.
func (h *HTTPServer) route(mux *http.ServeMux, endpoint string, handler http.HandlerFunc) {
	mux.HandleFunc(endpoint, h.withRequestID(h.withMetrics(endpoint, h.withCORS(h.withRateLimit(handler)))))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

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

// Start binds the listener and serves in the background. A bind failure is
// returned immediately.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	health := map[string]interface{}{
		"ok":        true,
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
	}

	if h.upstream != nil {
		stats := h.upstream.Stats()
		health["upstream"] = map[string]interface{}{
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	c := h.config

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":            c.HTTP.Port,
			"address":         c.HTTP.Address,
			"cors_origin":     c.HTTP.CORSOrigin,
			"json_body_limit": c.HTTP.JSONBodyLimit,
			"read_timeout":    c.HTTP.ReadTimeout,
			"write_timeout":   c.HTTP.WriteTimeout,
		},
		"rate_limit": map[string]interface{}{
			"enabled": c.RateLimit.Enabled,
			"window":  c.RateLimit.Window,
			"max":     c.RateLimit.Max,
		},
		"uploads": map[string]interface{}{
			"image_max_bytes": c.Uploads.ImageMaxBytes,
			"audio_max_bytes": c.Uploads.AudioMaxBytes,
		},
		"gemini": map[string]interface{}{
			"base_url":               c.Gemini.BaseURL,
			"chat_model":             c.Gemini.ChatModel,
			"speech_model":           c.Gemini.SpeechModel,
			"default_voice":          c.Gemini.DefaultVoice,
			"transcription_language": c.Gemini.TranscriptionLanguage,
			"timeout":                c.Gemini.Timeout,
			"max_retries":            c.Gemini.MaxRetries,
			"max_concurrent":         c.Gemini.MaxConcurrent,
			// API key is omitted
		},
		"audio": map[string]interface{}{
			"sample_rate": c.Audio.SampleRate,
			"channels":    c.Audio.Channels,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if h.upstream != nil {
		stats["upstream"] = h.upstream.Stats()
	}
	if h.limiter != nil {
		stats["rate_limit"] = map[string]interface{}{
			"tracked_clients": h.limiter.size(),
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found: "+r.URL.Path)
		return
	}

	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	apiDoc := map[string]interface{}{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"POST /chat":            "Plain-text reply to {prompt}",
			"POST /chat-image":      "Plain-text reply about a multipart image with optional prompt",
			"POST /chat-converse":   "Plain-text reply to {messages, system}",
			"POST /api/claude/chat": "Alias of /chat-converse",
			"POST /stt":             "Transcribe a multipart audio file",
			"POST /tts":             "Synthesize {text, voiceName} to base64 WAV",
			"GET /config":           "Get service configuration",
			"GET /stats":            "Get service statistics",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
