package syncer

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/metrics"
	"github.com/datashield/vault/pkg/store"
)

// DefaultWorkers is the number of concurrent ingestion/deletion pipelines.
const DefaultWorkers = 4

// Config contains synchronization engine configuration.
type Config struct {
	// Root is the collections root directory.
	Root string `mapstructure:"root" yaml:"root"`

	// Workers bounds concurrent pipelines.
	Workers int `mapstructure:"workers" yaml:"workers"`

	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	Watcher     WatcherConfig     `mapstructure:"watcher" yaml:"watcher"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Root == "" {
		c.Root = "data/collections"
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	c.Coordinator.ApplyDefaults()
	c.Watcher.ApplyDefaults()
}

// Syncer couples the watcher, the coordinator, and the ingestion and
// deletion pipelines. One Syncer runs per process.
type Syncer struct {
	root    string
	config  Config
	catalog *catalog.Catalog
	store   store.ObjectStore
	coord   *Coordinator
	watcher *Watcher
	metrics *metrics.Registry

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates the synchronization engine. The store is expected to be the
// breaker-guarded wrapper so pipeline writes are failure-isolated.
func New(config Config, cat *catalog.Catalog, st store.ObjectStore, m *metrics.Registry) *Syncer {
	config.ApplyDefaults()

	var coordObserver CoordinatorObserver
	if m != nil {
		coordObserver = m.PipelineObserver()
	}

	return &Syncer{
		root:    config.Root,
		config:  config,
		catalog: cat,
		store:   st,
		coord:   NewCoordinator(config.Coordinator, coordObserver),
		watcher: NewWatcher(config.Root, config.Watcher),
		metrics: m,
		sem:     make(chan struct{}, config.Workers),
	}
}

// Coordinator exposes the path coordinator for the sync barrier and tests.
func (s *Syncer) Coordinator() *Coordinator {
	return s.coord
}

// Watcher exposes the watcher for the supervisor and health checks.
func (s *Syncer) Watcher() *Watcher {
	return s.watcher
}

// Root returns the collections root directory.
func (s *Syncer) Root() string {
	return s.root
}

// Run consumes watcher events until the context is cancelled, then waits
// for in-flight pipelines to finish. The watcher must be started by the
// caller after the startup scan.
func (s *Syncer) Run(ctx context.Context) {
	events := s.watcher.Events()
	for {
		if s.metrics != nil {
			s.metrics.EventQueueDepth.Set(float64(len(events)))
		}

		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case ev := <-events:
			s.dispatch(ctx, ev)
		}
	}
}

// dispatch gates one event and hands it to the right pipeline.
func (s *Syncer) dispatch(ctx context.Context, ev Event) {
	if ev.IsDir {
		// Only creations of immediate root children matter.
		if ev.Op == OpCreated && filepath.Dir(ev.Path) == s.root {
			name := filepath.Base(ev.Path)
			if err := s.ensureCollection(ctx, name); err != nil {
				logger.Error("Failed to register collection", "collection", name, "error", err)
			}
		}
		return
	}

	base := filepath.Base(ev.Path)
	if base == KeyFileName {
		if ev.Op == OpCreated || ev.Op == OpModified {
			s.handleKeyUpdate(ctx, ev.Path)
		}
		return
	}
	if IsIgnored(base) {
		return
	}

	switch ev.Op {
	case OpCreated, OpModified:
		if !s.coord.AdmitChange(ev.Path) {
			return
		}
		s.spawn(ctx, func(ctx context.Context) {
			defer s.coord.Release(ev.Path)
			s.ingest(ctx, ev.Path)
		})

	case OpDeleted:
		if !s.coord.AdmitDelete(ev.Path) {
			return
		}
		s.spawn(ctx, func(ctx context.Context) {
			s.remove(ctx, ev.Path)
		})
	}
}

// spawn runs fn on the bounded worker pool. Shutdown waits for all spawned
// pipelines via Run's final Wait.
func (s *Syncer) spawn(ctx context.Context, fn func(context.Context)) {
	s.wg.Add(1)
	s.sem <- struct{}{}
	go func() {
		defer func() {
			<-s.sem
			s.wg.Done()
		}()
		pipelineCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Coordinator.ProcessingTimeout)
		defer cancel()
		fn(pipelineCtx)
	}()
}

// handleKeyUpdate reacts to an edited .vault_key file: the stored digest
// follows the file content. The file never triggers an ingestion.
func (s *Syncer) handleKeyUpdate(ctx context.Context, path string) {
	collection := filepath.Base(filepath.Dir(path))

	secret, err := readKeyFile(path)
	if err != nil {
		logger.Warn("Failed to read key file", "path", path, "error", err)
		return
	}
	if secret == "" {
		return
	}

	err = s.catalog.SetKey(ctx, collection, secret)
	if err == catalog.ErrCollectionNotFound {
		// Key file observed before the directory event. Register with the
		// supplied secret.
		_, _, err = s.catalog.UpsertCollection(ctx, collection, secret)
	}
	if err != nil {
		logger.Error("Failed to update collection key", "collection", collection, "error", err)
		return
	}
	logger.Info("Collection key updated", "collection", collection)
}

// WaitForWorkers blocks until all spawned pipelines finish. Used by the
// startup scanner and tests.
func (s *Syncer) WaitForWorkers() {
	s.wg.Wait()
}
