package health

import (
	"context"
	"sync"
	"time"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/metrics"
	"github.com/datashield/vault/pkg/store"
	"github.com/datashield/vault/pkg/syncer"
)

const (
	// DefaultSweepInterval is how often the consistency auditor runs.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultSweepInitialDelay postpones the first sweep past startup so
	// the scanner's ingestions can settle.
	DefaultSweepInitialDelay = 60 * time.Second

	// SampleSize is how many READY rows per collection get their blob
	// existence verified each sweep.
	SampleSize = 5

	// DegradedPendingThreshold is the pending-file count above which the
	// sweep reports DEGRADED.
	DegradedPendingThreshold = 10
)

// AuditorConfig contains consistency auditor tuning parameters.
type AuditorConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	InitialDelay  time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *AuditorConfig) ApplyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultSweepInitialDelay
	}
}

// ConsistencyReport is the outcome of one sweep.
type ConsistencyReport struct {
	Status             Status    `json:"status"`
	CollectionsChecked int       `json:"collections_checked"`
	PendingFiles       int       `json:"pending_files"`
	MissingObjects     int       `json:"missing_objects"`
	ProbeErrors        int       `json:"probe_errors"`
	CheckedAt          time.Time `json:"checked_at"`
}

// SyncStater answers "is this collection caught up" for the auditor.
type SyncStater interface {
	SyncState(ctx context.Context, collection string) (*syncer.SyncState, error)
}

// Auditor periodically verifies that the catalog, the filesystem, and the
// object store agree: pending files are counted per collection, and a
// sample of READY rows is HEAD-checked against the store.
type Auditor struct {
	config  AuditorConfig
	catalog *catalog.Catalog
	store   store.ObjectStore
	states  SyncStater
	metrics *metrics.Registry

	mu   sync.Mutex
	last *ConsistencyReport
}

// NewAuditor creates a consistency auditor.
func NewAuditor(config AuditorConfig, cat *catalog.Catalog, st store.ObjectStore, states SyncStater, m *metrics.Registry) *Auditor {
	config.ApplyDefaults()
	return &Auditor{
		config:  config,
		catalog: cat,
		store:   st,
		states:  states,
		metrics: m,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (a *Auditor) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(a.config.InitialDelay):
	}

	ticker := time.NewTicker(a.config.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := a.Sweep(ctx); err != nil {
			logger.Error("Consistency sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one consistency pass and returns the report.
func (a *Auditor) Sweep(ctx context.Context) (*ConsistencyReport, error) {
	collections, err := a.catalog.ListCollections(ctx, true)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{CheckedAt: time.Now()}

	for _, col := range collections {
		state, err := a.states.SyncState(ctx, col.Name)
		if err != nil {
			report.ProbeErrors++
			logger.Warn("Consistency sweep could not compute sync state",
				"collection", col.Name, "error", err)
			continue
		}
		report.CollectionsChecked++
		report.PendingFiles += len(state.Pending) + len(state.Processing)

		objects, err := a.catalog.ListObjects(ctx, col.Name)
		if err != nil {
			report.ProbeErrors++
			continue
		}
		sample := objects
		if len(sample) > SampleSize {
			sample = sample[:SampleSize]
		}
		for _, obj := range sample {
			exists, err := a.store.Exists(ctx, obj.ObjectKey)
			if err != nil {
				report.ProbeErrors++
				continue
			}
			if !exists {
				report.MissingObjects++
				logger.Warn("READY object missing from store",
					"collection", col.Name,
					"name", obj.Name,
					"object_key", obj.ObjectKey)
			}
		}
	}

	switch {
	case report.MissingObjects > 0:
		report.Status = StatusDown
	case report.PendingFiles > DegradedPendingThreshold:
		report.Status = StatusDegraded
	default:
		report.Status = StatusUp
	}

	if a.metrics != nil {
		a.metrics.ConsistencyChecks.Inc()
		a.metrics.ConsistencyPendingFiles.Set(float64(report.PendingFiles))
		a.metrics.ConsistencyMissingObjects.Set(float64(report.MissingObjects))
		if report.MissingObjects > 0 {
			a.metrics.ConsistencyErrors.Add(float64(report.MissingObjects))
		}
	}

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()

	return report, nil
}

// LastReport returns the most recent sweep result, nil before the first
// sweep completes.
func (a *Auditor) LastReport() *ConsistencyReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
