package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-exporter/internal/lifecycle"
	"github.com/kjstillabower/weather-exporter/internal/location"
)

// StatusSource exposes the engine's per-location state.
type StatusSource interface {
	Snapshots() []location.Snapshot
}

// HealthConfig carries optional dependency checks reported by /health.
type HealthConfig struct {
	StartTime time.Time
	Version   string
	// CachePing, when set, reports coordinate store reachability. A failing
	// store does not make the exporter unhealthy.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	status           StatusSource
	healthConfig     *HealthConfig
	logger           *zap.Logger
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(status StatusSource, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if healthConfig == nil {
		healthConfig = &HealthConfig{StartTime: time.Now()}
	}
	return &Handler{
		status:       status,
		healthConfig: healthConfig,
		logger:       logger,
		now:          time.Now,
	}
}

// GetHealth handles GET /health. The exporter is healthy while it runs, even
// when every upstream fetch fails, because cached values are still served.
// It answers 503 only while shutting down.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status, statusCode := "healthy", http.StatusOK
	if lifecycle.IsShuttingDown() {
		status, statusCode = "shutting-down", http.StatusServiceUnavailable
	}

	h.healthStatusMu.Lock()
	if prev := h.healthStatusPrev; prev != "" && prev != status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", status))
	}
	h.healthStatusPrev = status
	h.healthStatusMu.Unlock()

	checks := map[string]string{}
	if h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	version := h.healthConfig.Version
	if version == "" {
		version = "dev"
	}
	resp := map[string]interface{}{
		"status":    status,
		"service":   "weather-exporter",
		"version":   version,
		"checks":    checks,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if !h.healthConfig.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(h.now().Sub(h.healthConfig.StartTime).Seconds())
	}
	writeJSON(w, statusCode, resp)
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Locations []location.Snapshot `json:"locations"`
	Healthy   int                 `json:"healthy"`
	Failing   int                 `json:"failing"`
	Timestamp string              `json:"timestamp"`
}

// GetStatus handles GET /status: a JSON snapshot of every location entry.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snaps := h.status.Snapshots()
	resp := statusResponse{
		Locations: snaps,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	for _, s := range snaps {
		if s.LastFetchSucceeded {
			resp.Healthy++
		} else {
			resp.Failing++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// NotFound answers unknown routes in the standard error format.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path)
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error body with code, message and the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationID(r.Context()),
		},
	})
}
