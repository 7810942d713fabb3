package handlers

import (
	"net/http"
	"time"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/health"
	"github.com/datashield/vault/pkg/metrics"
)

// HealthHandler serves the health and metrics surface.
type HealthHandler struct {
	checker *health.Checker
	auditor *health.Auditor
	metrics *metrics.Registry
}

// NewHealthHandler creates the health handler. auditor may be nil when the
// consistency sweep is disabled.
func NewHealthHandler(checker *health.Checker, auditor *health.Auditor, m *metrics.Registry) *HealthHandler {
	return &HealthHandler{checker: checker, auditor: auditor, metrics: m}
}

// Liveness handles GET /health/live. It answers as long as the process is
// serving requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// Readiness handles GET /health/ready. 503 when a critical component is
// down.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	system := h.checker.Check(r.Context())

	status := http.StatusOK
	if system.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, system)
}

// statusResponse is the body of GET /health/status.
type statusResponse struct {
	health.SystemHealth
	Consistency *health.ConsistencyReport `json:"consistency,omitempty"`
}

// Status handles GET /health/status?include_consistency=<bool>.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{SystemHealth: h.checker.Check(r.Context())}

	if r.URL.Query().Get("include_consistency") == "true" && h.auditor != nil {
		report := h.auditor.LastReport()
		if report == nil {
			// No sweep has run yet; do one on demand.
			var err error
			report, err = h.auditor.Sweep(r.Context())
			if err != nil {
				logger.Warn("On-demand consistency sweep failed", "error", err)
			}
		}
		resp.Consistency = report
	}

	writeJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /health/metrics with the Prometheus text format.
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

// MetricsJSON handles GET /health/metrics/json with a flat map of every
// series.
func (h *HealthHandler) MetricsJSON(w http.ResponseWriter, r *http.Request) {
	flat, err := h.metrics.ExportJSON()
	if err != nil {
		InternalServerError(w, "failed to gather metrics")
		return
	}
	writeJSON(w, http.StatusOK, flat)
}
