// Package transport serves the read-only status API, Prometheus metrics and
// the live result feed.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/pingthing/internal/storage"
	"github.com/gateway-fm/pingthing/pkg/types"
)

// Pagination limits for /v1/history.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

// PingerAPI is the engine's read-only surface.
type PingerAPI interface {
	Status() types.PingerStatus
	Ready() (bool, error)
}

// History is the read side of the cycle journal.
type History interface {
	ListCycles(ctx context.Context, filter storage.ListFilter) (*storage.PaginatedCycles, error)
	GetCycle(ctx context.Context, signature string) (*storage.CycleRecord, error)
	CountByStatus(ctx context.Context) (map[types.CycleStatus]int, error)
}

// LatencySource provides aggregated latency statistics.
type LatencySource interface {
	Summary() *types.LatencySummary
}

// HealthChecker checks upstream dependencies for /ready.
type HealthChecker interface {
	GetHealth(ctx context.Context) error
	GetSlot(ctx context.Context, commitment string) (uint64, error)
}

// ServerConfig configures a Server. Only API is required.
type ServerConfig struct {
	API      PingerAPI
	History  History       // nil disables /v1/history
	Latency  LatencySource // optional
	Health   HealthChecker // optional RPC check for /ready
	Gatherer prometheus.Gatherer
	Feed     *WebSocketServer // nil disables /v1/ws
	Logger   *slog.Logger
}

// Server handles HTTP requests for the pinger.
type Server struct {
	api      PingerAPI
	history  History
	latency  LatencySource
	health   HealthChecker
	gatherer prometheus.Gatherer
	feed     *WebSocketServer
	logger   *slog.Logger

	startTime time.Time
}

// NewServer creates a new HTTP server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		api:       cfg.API,
		history:   cfg.History,
		latency:   cfg.Latency,
		health:    cfg.Health,
		gatherer:  cfg.Gatherer,
		feed:      cfg.Feed,
		logger:    cfg.Logger,
		startTime: time.Now(),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/history", s.handleHistory)
	mux.HandleFunc("/v1/history/", s.handleHistoryDetail)
	if s.feed != nil {
		mux.HandleFunc("/v1/ws", s.feed.Handler())
	}

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, map[string]string{"error": message}, statusCode)
}

// handleStatus returns the live pinger status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.status(), http.StatusOK)
}

func (s *Server) status() types.PingerStatus {
	st := s.api.Status()
	if s.latency != nil {
		st.Latency = s.latency.Summary()
	}
	return st
}

// handleHistory returns journaled cycles, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "Cycle journal is disabled", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	filter := storage.ListFilter{Limit: defaultHistoryLimit}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= maxHistoryLimit {
		filter.Limit = l
	}
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		filter.Offset = o
	}
	if st := q.Get("status"); st != "" {
		if !validStatus(types.CycleStatus(st)) {
			s.writeJSONError(w, "invalid status: "+st, http.StatusBadRequest)
			return
		}
		filter.Status = types.CycleStatus(st)
	}

	page, err := s.history.ListCycles(r.Context(), filter)
	if err != nil {
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, page, http.StatusOK)
}

// handleHistoryDetail handles /v1/history/{signature}.
func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "Cycle journal is disabled", http.StatusServiceUnavailable)
		return
	}

	signature := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/history/"), "/")
	if signature == "" || strings.Contains(signature, "/") {
		s.writeJSONError(w, "Missing signature", http.StatusBadRequest)
		return
	}

	rec, err := s.history.GetCycle(r.Context(), signature)
	if err != nil {
		s.writeJSONError(w, "Failed to get cycle: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		s.writeJSONError(w, "Cycle not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, rec, http.StatusOK)
}

func validStatus(st types.CycleStatus) bool {
	switch st {
	case types.CycleConfirmed, types.CycleFailed, types.CycleTimedOut, types.CycleAnomaly, types.CycleSkipped:
		return true
	}
	return false
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	}, http.StatusOK)
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok", "waiting", "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Slot      uint64 `json:"slot,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady reports ready when the freshness gate would release a probe
// and, if configured, the RPC node answers getHealth and getSlot.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var checks []ReadinessCheck
	allHealthy := true

	check := ReadinessCheck{Name: "freshness", Status: "ok"}
	ready, err := s.api.Ready()
	switch {
	case err != nil:
		check.Status = "failed"
		check.Error = err.Error()
		allHealthy = false
	case !ready:
		check.Status = "waiting"
		allHealthy = false
	}
	checks = append(checks, check)

	if s.health != nil {
		start := time.Now()
		check := ReadinessCheck{Name: "rpc", Status: "ok"}
		err := s.health.GetHealth(r.Context())
		if err == nil {
			check.Slot, err = s.health.GetSlot(r.Context(), string(types.CommitmentProcessed))
		}
		check.LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		}
		checks = append(checks, check)
	}

	statusCode := http.StatusOK
	if !allHealthy {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, map[string]any{
		"ready":  allHealthy,
		"checks": checks,
	}, statusCode)
}
