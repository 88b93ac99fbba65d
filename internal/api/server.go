// Package api implements the HTTP and WebSocket surface: the chat
// endpoint, the live-update socket, the UniFi Protect webhook, and
// the introspection endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nugget/reeve/internal/buildinfo"
	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/events"
	"github.com/nugget/reeve/internal/hub"
	"github.com/nugget/reeve/internal/orchestrator"
	"github.com/nugget/reeve/internal/prometheus"
	"github.com/nugget/reeve/internal/store"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	orch     *orchestrator.Orchestrator
	registry *capability.Registry
	bus      *events.Bus
	hub      *hub.Hub
	store    *store.Store
	metrics  *prometheus.Client // nil when Prometheus is not configured
	model    string
	logger   *slog.Logger
	server   *http.Server
	stats    *SessionStats
	sessions *sessionStore
}

// NewServer creates the API server. metrics may be nil.
func NewServer(address string, port int, orch *orchestrator.Orchestrator, registry *capability.Registry, bus *events.Bus, h *hub.Hub, st *store.Store, metrics *prometheus.Client, model string, logger *slog.Logger) *Server {
	return &Server{
		address:  address,
		port:     port,
		orch:     orch,
		registry: registry,
		bus:      bus,
		hub:      h,
		store:    st,
		metrics:  metrics,
		model:    model,
		logger:   logger.With("component", "api"),
		stats:    &SessionStats{},
		sessions: newSessionStore(),
	}
}

// routes builds the request mux. Split from Start so tests can drive
// the handlers without a listener.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat/v2", s.handleChat)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/webhook/protect", s.handleProtectWebhook)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/tools", s.handleTools)
	mux.HandleFunc("GET /api/v1/tools/{domain}", s.handleToolsByDomain)
	mux.HandleFunc("GET /api/events/history", s.handleEventHistory)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/settings/{user}", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings/{user}", s.handleSaveSettings)
	mux.HandleFunc("GET /api/costs", s.handleCosts)
	mux.HandleFunc("GET /api/session/stats", s.handleSessionStats)

	mux.HandleFunc("GET /", s.handleRoot)
	return mux
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.withLogging(s.routes()),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: /ws and the SSE chat stream are
		// long-lived; deadlines are managed per-response.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Reeve",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":       "healthy",
		"version":      buildinfo.Version,
		"uptime":       buildinfo.Uptime().String(),
		"capabilities": s.registry.Len(),
		"connections":  s.hub.Count(),
	}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.registry.All(), s.logger)
}

func (s *Server) handleToolsByDomain(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"domain": domain,
		"tools":  s.registry.SchemasFor(domain),
	}, s.logger)
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"events": s.bus.History(limit),
	}, s.logger)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "prometheus not configured")
		return
	}
	metrics, err := s.metrics.SystemMetrics(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"metrics": metrics}, s.logger)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	settings, err := s.store.Settings(r.Context(), user)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if settings == nil {
		settings = map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"user_id": user, "settings": settings}, s.logger)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	var settings map[string]any
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SaveSettings(r.Context(), user, settings); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "saved"}, s.logger)
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = n
	}
	since := time.Now().AddDate(0, 0, -days)

	summary, err := s.store.CostsSince(r.Context(), since)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	byDay, err := s.store.CostsByDay(r.Context(), since)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"days":    days,
		"summary": summary,
		"by_day":  byDay,
	}, s.logger)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.stats.Snapshot(), s.logger)
}

// SessionStats tracks token usage and estimated cost since startup.
type SessionStats struct {
	mu                sync.Mutex
	totalInputTokens  int64
	totalOutputTokens int64
	totalRequests     int64
	estimatedCostUSD  float64
}

// Record adds one model turn's usage.
func (s *SessionStats) Record(model string, inputTokens, outputTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalInputTokens += int64(inputTokens)
	s.totalOutputTokens += int64(outputTokens)
	s.totalRequests++
	s.estimatedCostUSD += store.ComputeCost(model, inputTokens, outputTokens)
}

// SessionStatsSnapshot is a copy-safe view of session stats.
type SessionStatsSnapshot struct {
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalRequests     int64   `json:"total_requests"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
}

// Snapshot returns the current totals.
func (s *SessionStats) Snapshot() SessionStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatsSnapshot{
		TotalInputTokens:  s.totalInputTokens,
		TotalOutputTokens: s.totalOutputTokens,
		TotalRequests:     s.totalRequests,
		EstimatedCostUSD:  s.estimatedCostUSD,
	}
}
