// Package http exposes health probes and a read-only order API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
)

// HealthServerConfig holds configuration for the health server.
type HealthServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string

	Logger *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// HealthServerConfigDefaults returns a config with default values.
func HealthServerConfigDefaults() HealthServerConfig {
	return HealthServerConfig{
		Addr:         ":8080",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// HealthServer serves liveness and readiness probes for a service binary.
//
//   - /health/ready  200 once the service has done its first unit of work
//   - /health/live   200 while the service keeps succeeding
//   - /health        combined status for monitoring
//
// Once shuttingDown is set every probe answers 503, so the orchestrator
// stops routing to the task before it exits.
type HealthServer struct {
	server       *http.Server
	mux          *http.ServeMux
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewHealthServer creates a health server. Extra routes can be added with Handle
// before Start.
func NewHealthServer(config HealthServerConfig, checker inbound.HealthChecker, shuttingDown *atomic.Bool) *HealthServer {
	defaults := HealthServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}

	hs := &HealthServer{
		mux:          http.NewServeMux(),
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "health-server"),
	}
	hs.mux.HandleFunc("GET /health/ready", hs.handleReady)
	hs.mux.HandleFunc("GET /health/live", hs.handleLive)
	hs.mux.HandleFunc("GET /health", hs.handleHealth)

	hs.server = &http.Server{
		Addr:         config.Addr,
		Handler:      hs.mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return hs
}

// Mux returns the server's mux for registering additional routes.
func (hs *HealthServer) Mux() *http.ServeMux {
	return hs.mux
}

// Start listens in a goroutine.
func (hs *HealthServer) Start() {
	go func() {
		hs.logger.Info("starting health server", "addr", hs.server.Addr)
		if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.Error("health server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (hs *HealthServer) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return hs.server.Shutdown(ctx)
}

func (hs *HealthServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	if hs.shuttingDown.Load() {
		respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if hs.checker.IsReady() {
		respondJSON(hs.logger, w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (hs *HealthServer) handleLive(w http.ResponseWriter, _ *http.Request) {
	if hs.shuttingDown.Load() {
		respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if hs.checker.IsHealthy() {
		respondJSON(hs.logger, w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if hs.shuttingDown.Load() {
		respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]any{
			"status":       "shutting_down",
			"ready":        false,
			"healthy":      false,
			"shuttingDown": true,
		})
		return
	}

	ready := hs.checker.IsReady()
	healthy := hs.checker.IsHealthy()
	status, code := "ok", http.StatusOK
	if !ready || !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	respondJSON(hs.logger, w, code, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"shuttingDown": false,
	})
}

func respondJSON(logger *slog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}
