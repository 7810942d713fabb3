// Package health implements the component health checks, the aggregated
// system status, and the periodic consistency auditor.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/metrics"
	"github.com/datashield/vault/pkg/store"
	"github.com/datashield/vault/pkg/store/breaker"
)

// Status is a component or system health state.
type Status string

const (
	StatusUp       Status = "UP"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
)

const (
	// ProbeTimeout bounds each individual component probe.
	ProbeTimeout = 5 * time.Second

	// WatcherStaleAfter is how long without events before the watcher is
	// reported degraded.
	WatcherStaleAfter = 10 * time.Minute
)

// ComponentHealth is the result of one component probe.
type ComponentHealth struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs float64        `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// SystemHealth aggregates all component probes.
type SystemHealth struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// WatcherInfo is the view of the watcher the health checks need.
type WatcherInfo interface {
	Running() bool
	Alive() bool
	LastEventTime() time.Time
}

// Checker probes the vault's components.
type Checker struct {
	catalog *catalog.Catalog
	store   store.ObjectStore
	watcher WatcherInfo
	breaker *breaker.Breaker
	root    string
	metrics *metrics.Registry
}

// NewChecker creates a health checker. breaker and metrics may be nil.
func NewChecker(cat *catalog.Catalog, st store.ObjectStore, w WatcherInfo, b *breaker.Breaker, root string, m *metrics.Registry) *Checker {
	return &Checker{
		catalog: cat,
		store:   st,
		watcher: w,
		breaker: b,
		root:    root,
		metrics: m,
	}
}

// CheckCatalog probes database connectivity and reports pool state.
func (c *Checker) CheckCatalog(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	start := time.Now()
	if err := c.catalog.Healthcheck(ctx); err != nil {
		if c.metrics != nil {
			c.metrics.CatalogConnectionErrors.Inc()
		}
		return ComponentHealth{
			Status:  StatusDown,
			Message: fmt.Sprintf("catalog unreachable: %v", err),
		}
	}
	latency := time.Since(start)

	health := ComponentHealth{
		Status:    StatusUp,
		LatencyMs: float64(latency.Microseconds()) / 1000,
	}
	if stats, err := c.catalog.PoolStats(); err == nil {
		health.Details = map[string]any{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
			"wait_count":       stats.WaitCount,
		}
	}
	return health
}

// CheckStore probes the object store bucket and reports breaker state.
func (c *Checker) CheckStore(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	health := ComponentHealth{Status: StatusUp}
	if c.breaker != nil {
		st := c.breaker.Status()
		health.Details = map[string]any{
			"circuit_breaker":      string(st.State),
			"consecutive_failures": st.ConsecutiveFails,
		}
		if st.State == breaker.StateOpen {
			health.Status = StatusDegraded
			health.Message = "circuit breaker open"
		}
	}

	start := time.Now()
	exists, err := c.store.BucketExists(ctx)
	health.LatencyMs = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = StatusDown
		health.Message = fmt.Sprintf("object store unreachable: %v", err)
		return health
	}
	if !exists {
		health.Status = StatusDown
		health.Message = "bucket does not exist"
	}
	return health
}

// CheckFilesystem writes, reads, and deletes a sentinel file under the
// collections root.
func (c *Checker) CheckFilesystem(ctx context.Context) ComponentHealth {
	done := make(chan ComponentHealth, 1)
	go func() {
		done <- c.probeFilesystem()
	}()

	select {
	case health := <-done:
		return health
	case <-time.After(ProbeTimeout):
		return ComponentHealth{Status: StatusDown, Message: "filesystem probe timed out"}
	case <-ctx.Done():
		return ComponentHealth{Status: StatusDown, Message: "filesystem probe cancelled"}
	}
}

func (c *Checker) probeFilesystem() ComponentHealth {
	start := time.Now()
	sentinel := filepath.Join(c.root, ".health-"+uuid.NewString())

	payload := []byte("ok")
	if err := os.WriteFile(sentinel, payload, 0600); err != nil {
		return ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("sentinel write failed: %v", err)}
	}
	data, err := os.ReadFile(sentinel)
	if err != nil {
		_ = os.Remove(sentinel)
		return ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("sentinel read failed: %v", err)}
	}
	if err := os.Remove(sentinel); err != nil {
		return ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("sentinel delete failed: %v", err)}
	}
	if string(data) != string(payload) {
		return ComponentHealth{Status: StatusDown, Message: "sentinel content mismatch"}
	}

	return ComponentHealth{
		Status:    StatusUp,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}
}

// CheckWatcher inspects the watcher thread. A silent watcher degrades but
// does not take the system down: quiet directories are normal.
func (c *Checker) CheckWatcher() ComponentHealth {
	if c.watcher == nil {
		return ComponentHealth{Status: StatusDown, Message: "watcher not configured"}
	}

	running := c.watcher.Running()
	alive := c.watcher.Alive()
	if !running || !alive {
		return ComponentHealth{
			Status:  StatusDown,
			Message: "watcher is not running",
			Details: map[string]any{"running": running, "thread_alive": alive},
		}
	}

	health := ComponentHealth{
		Status:  StatusUp,
		Details: map[string]any{"running": true, "thread_alive": true},
	}
	if last := c.watcher.LastEventTime(); !last.IsZero() {
		age := time.Since(last)
		health.Details["last_event_age_seconds"] = int64(age.Seconds())
		if age > WatcherStaleAfter {
			health.Status = StatusDegraded
			health.Message = "no filesystem events observed recently"
		}
	}
	return health
}

// Check runs every probe and aggregates. Catalog and filesystem are
// critical: either DOWN takes the system DOWN.
func (c *Checker) Check(ctx context.Context) SystemHealth {
	components := map[string]ComponentHealth{
		"catalog":      c.CheckCatalog(ctx),
		"object_store": c.CheckStore(ctx),
		"filesystem":   c.CheckFilesystem(ctx),
		"watcher":      c.CheckWatcher(),
	}

	status := StatusUp
	for name, health := range components {
		switch health.Status {
		case StatusDown:
			if name == "catalog" || name == "filesystem" {
				status = StatusDown
			} else if status != StatusDown {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusUp {
				status = StatusDegraded
			}
		}
	}

	if c.metrics != nil {
		c.metrics.LastHealthCheck.SetToCurrentTime()
		if status == StatusDown {
			c.metrics.HealthCheckFailures.Inc()
		}
	}

	return SystemHealth{
		Status:     status,
		Components: components,
		CheckedAt:  time.Now(),
	}
}
