package syncer

import (
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultDebounceWindow is the minimum interval between two accepted
	// change events for the same path.
	DefaultDebounceWindow = 2 * time.Second

	// DefaultProcessingTimeout bounds how long an in-flight entry may live
	// before it is considered abandoned and evicted.
	DefaultProcessingTimeout = 300 * time.Second
)

// CoordinatorConfig contains path coordinator tuning parameters.
type CoordinatorConfig struct {
	DebounceWindow    time.Duration `mapstructure:"debounce_window" yaml:"debounce_window"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout" yaml:"processing_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *CoordinatorConfig) ApplyDefaults() {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = DefaultProcessingTimeout
	}
}

// CoordinatorObserver receives coordinator telemetry. All methods may be
// called under load and must be cheap.
type CoordinatorObserver interface {
	InFlightChanged(count int)
	StaleEvicted()
}

// Coordinator serializes work per path. It owns two maps keyed by absolute
// path, in-flight start times and last accepted event times, guarded by one
// mutex with O(1) critical sections.
type Coordinator struct {
	mu        sync.Mutex
	inFlight  map[string]time.Time
	lastEvent map[string]time.Time

	config   CoordinatorConfig
	observer CoordinatorObserver

	now func() time.Time
}

// NewCoordinator creates a coordinator. The observer may be nil.
func NewCoordinator(config CoordinatorConfig, observer CoordinatorObserver) *Coordinator {
	config.ApplyDefaults()
	return &Coordinator{
		inFlight:  make(map[string]time.Time),
		lastEvent: make(map[string]time.Time),
		config:    config,
		observer:  observer,
		now:       time.Now,
	}
}

// AdmitChange applies the gate for a create/modify event. It returns true
// when the caller owns the path's in-flight slot and must eventually call
// Release, false when the event was coalesced away.
func (c *Coordinator) AdmitChange(path string) bool {
	now := c.now()

	c.mu.Lock()
	if started, ok := c.inFlight[path]; ok {
		if now.Sub(started) < c.config.ProcessingTimeout {
			c.mu.Unlock()
			return false
		}
		// Stale entry from an abandoned pipeline. Evict and proceed.
		delete(c.inFlight, path)
		if c.observer != nil {
			c.observer.StaleEvicted()
		}
	}

	if last, ok := c.lastEvent[path]; ok && now.Sub(last) < c.config.DebounceWindow {
		c.mu.Unlock()
		return false
	}

	c.lastEvent[path] = now
	c.inFlight[path] = now
	count := len(c.inFlight)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.InFlightChanged(count)
	}
	return true
}

// AdmitDelete applies the gate for a delete event. A delete is suppressed
// while an ingestion for the same path is in flight (creation wins), when
// it falls inside the debounce window, or when the path still exists on
// disk (a polling artifact).
func (c *Coordinator) AdmitDelete(path string) bool {
	now := c.now()

	c.mu.Lock()
	if _, ok := c.inFlight[path]; ok {
		c.mu.Unlock()
		return false
	}
	if last, ok := c.lastEvent[path]; ok && now.Sub(last) < c.config.DebounceWindow {
		c.mu.Unlock()
		return false
	}
	c.lastEvent[path] = now
	c.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return false
	}
	return true
}

// Release frees the path's in-flight slot. It runs on every pipeline exit
// path, success or failure.
func (c *Coordinator) Release(path string) {
	c.mu.Lock()
	delete(c.inFlight, path)
	count := len(c.inFlight)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.InFlightChanged(count)
	}
}

// InFlightCount returns the number of paths currently being processed.
func (c *Coordinator) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// InFlightUnder returns the in-flight paths below the given directory. The
// sync barrier uses this to compute a collection's pending set.
func (c *Coordinator) InFlightUnder(dir string) []string {
	prefix := strings.TrimSuffix(dir, string(os.PathSeparator)) + string(os.PathSeparator)

	c.mu.Lock()
	defer c.mu.Unlock()

	var paths []string
	for path := range c.inFlight {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	return paths
}
