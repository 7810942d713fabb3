// Package api provides the vault's HTTP surface: the authenticated
// read-only collection endpoints, the health and metrics probes, and the
// operational admin endpoints.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/api/handlers"
	apiMiddleware "github.com/datashield/vault/pkg/api/middleware"
	"github.com/datashield/vault/pkg/auth"
	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/health"
	"github.com/datashield/vault/pkg/metrics"
	"github.com/datashield/vault/pkg/store"
	"github.com/datashield/vault/pkg/syncer"
)

// Deps bundles the collaborators the router wires into handlers.
type Deps struct {
	Catalog *catalog.Catalog
	Store   store.ObjectStore
	Syncer  *syncer.Syncer
	Checker *health.Checker
	Auditor *health.Auditor
	Limiter *auth.Limiter
	Metrics *metrics.Registry
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET /health/live - Liveness probe
//   - GET /health/ready - Readiness probe (503 when critical components are down)
//   - GET /health/status - Full component breakdown, optional consistency report
//   - GET /health/metrics - Prometheus text exposition
//   - GET /health/metrics/json - Flat JSON metric map
//   - GET /api/v1/collections/{c}/objects - Object name listing (sync barrier)
//   - GET /api/v1/collections/{c}/hashes - Name and hash listing (sync barrier)
//   - GET /api/v1/collections/{c}/objects/* - Object download
//   - GET /api/v1/collections/{c}/hashes/* - Single object hash
//   - POST /admin/reset-pool - Recreate the catalog connection pool
//   - GET /admin/pool-stats - Connection pool snapshot
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	healthHandler := handlers.NewHealthHandler(deps.Checker, deps.Auditor, deps.Metrics)
	collectionsHandler := handlers.NewCollectionsHandler(deps.Catalog, deps.Store, deps.Syncer, deps.Metrics)
	adminHandler := handlers.NewAdminHandler(deps.Catalog)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/status", healthHandler.Status)
		r.Get("/metrics", healthHandler.Metrics)
		r.Get("/metrics/json", healthHandler.MetricsJSON)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health/live", http.StatusTemporaryRedirect)
	})

	// API v1 routes - collection-key authenticated
	r.Route("/api/v1/collections/{collection}", func(r chi.Router) {
		r.Use(requestMetrics(deps.Metrics))
		r.Use(apiMiddleware.CollectionAuth(deps.Catalog, deps.Limiter, deps.Metrics))

		r.Get("/objects", collectionsHandler.ListObjects)
		r.Get("/objects/*", collectionsHandler.Download)
		r.Get("/hashes", collectionsHandler.ListHashes)
		r.Get("/hashes/*", collectionsHandler.GetHash)
	})

	// Admin routes - operational, meant for an internal network
	r.Route("/admin", func(r chi.Router) {
		r.Post("/reset-pool", adminHandler.ResetPool)
		r.Get("/pool-stats", adminHandler.PoolStats)
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger is a custom middleware that logs requests using the
// internal logger. Healthcheck requests are logged at DEBUG level to reduce
// noise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

// requestMetrics counts API requests and records their duration.
func requestMetrics(m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.APIRequests.Inc()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			m.APIRequestDuration.Observe(time.Since(start).Seconds())
			if ww.Status() >= http.StatusInternalServerError {
				m.APIRequestErrors.Inc()
			}
		})
	}
}
