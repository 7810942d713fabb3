package handlers

import (
	"net/http"
	"time"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/catalog"
)

// AdminHandler serves the operational endpoints for the catalog connection
// pool.
type AdminHandler struct {
	catalog *catalog.Catalog
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(cat *catalog.Catalog) *AdminHandler {
	return &AdminHandler{catalog: cat}
}

// ResetPool handles POST /admin/reset-pool: dispose and recreate the
// catalog connection pool without restarting the process.
func (h *AdminHandler) ResetPool(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.ResetPool(); err != nil {
		logger.Error("Pool reset failed", "error", err)
		InternalServerError(w, "failed to reset connection pool")
		return
	}

	logger.Info("Catalog connection pool reset")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "pool reset",
		"timestamp": time.Now().UTC(),
	})
}

// PoolStats handles GET /admin/pool-stats.
func (h *AdminHandler) PoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.catalog.PoolStats()
	if err != nil {
		InternalServerError(w, "failed to read pool stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	})
}
