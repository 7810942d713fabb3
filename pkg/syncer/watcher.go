package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datashield/vault/internal/logger"
)

const (
	// DefaultPollInterval is how often the watcher snapshots the tree.
	DefaultPollInterval = 5 * time.Second

	// DefaultEventQueueSize bounds the watcher's event channel.
	DefaultEventQueueSize = 1024
)

// WatcherConfig contains polling watcher tuning parameters.
type WatcherConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	EventQueueSize int           `mapstructure:"event_queue_size" yaml:"event_queue_size"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *WatcherConfig) ApplyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = DefaultEventQueueSize
	}
}

type fileState struct {
	size    int64
	modTime time.Time
}

// Watcher is a polling filesystem observer over the collections root.
// Polling, not kernel events: the root is typically a network-mounted or
// container-shared volume where inotify does not fire.
//
// The poll loop runs on its own goroutine and hands events to the rest of
// the engine through a bounded channel that survives restarts.
type Watcher struct {
	root   string
	config WatcherConfig

	events chan Event

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	prev    map[string]fileState
	dirs    map[string]struct{}

	alive         atomic.Bool
	lastEventNano atomic.Int64
	lastPollNano  atomic.Int64
}

// NewWatcher creates a watcher for the given collections root.
func NewWatcher(root string, config WatcherConfig) *Watcher {
	config.ApplyDefaults()
	return &Watcher{
		root:   root,
		config: config,
		events: make(chan Event, config.EventQueueSize),
	}
}

// Events returns the event channel. It is never closed; consumers stop via
// their own cancellation.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start arms the watcher. The first snapshot is the baseline; only changes
// after Start produce events, pre-existing files are the startup scanner's
// job.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	snapshot, dirs, err := w.snapshot()
	if err != nil {
		return fmt.Errorf("failed to take initial snapshot of %q: %w", w.root, err)
	}

	w.prev = snapshot
	w.dirs = dirs
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	w.alive.Store(true)
	w.lastPollNano.Store(time.Now().UnixNano())

	go w.loop(w.stopCh, w.doneCh)

	logger.Info("Watcher started", "root", w.root, "poll_interval", w.config.PollInterval)
	return nil
}

// Stop halts the poll loop, waiting up to 5 seconds for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("Watcher poll loop did not stop in time", "root", w.root)
	}
}

// Running reports whether Start has been called without a matching Stop.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Alive reports whether the poll goroutine is actually executing. Running
// without Alive means the loop died and the supervisor should restart it.
func (w *Watcher) Alive() bool {
	return w.alive.Load()
}

// LastEventTime returns when the watcher last observed a change, zero if
// it never has.
func (w *Watcher) LastEventTime() time.Time {
	nano := w.lastEventNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// QueueDepth returns the number of events waiting for dispatch.
func (w *Watcher) QueueDepth() int {
	return len(w.events)
}

func (w *Watcher) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Watcher poll loop panicked", "panic", r)
		}
		w.alive.Store(false)
		close(doneCh)
	}()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			w.poll(stopCh)
		}
	}
}

func (w *Watcher) poll(stopCh <-chan struct{}) {
	w.lastPollNano.Store(time.Now().UnixNano())

	current, dirs, err := w.snapshot()
	if err != nil {
		logger.Warn("Watcher snapshot failed", "root", w.root, "error", err)
		return
	}

	w.mu.Lock()
	prev := w.prev
	prevDirs := w.dirs
	w.prev = current
	w.dirs = dirs
	w.mu.Unlock()

	for dir := range dirs {
		if _, ok := prevDirs[dir]; !ok {
			w.emit(Event{Op: OpCreated, Path: dir, IsDir: true}, stopCh)
		}
	}

	for path, state := range current {
		old, existed := prev[path]
		switch {
		case !existed:
			w.emit(Event{Op: OpCreated, Path: path}, stopCh)
		case old.size != state.size || !old.modTime.Equal(state.modTime):
			w.emit(Event{Op: OpModified, Path: path}, stopCh)
		}
	}

	for path := range prev {
		if _, ok := current[path]; !ok {
			w.emit(Event{Op: OpDeleted, Path: path}, stopCh)
		}
	}
}

func (w *Watcher) emit(ev Event, stopCh <-chan struct{}) {
	w.lastEventNano.Store(time.Now().UnixNano())
	select {
	case w.events <- ev:
	case <-stopCh:
	}
}

// snapshot lists every file exactly one level below the root, plus the set
// of immediate child directories. Nested directories are not traversed.
func (w *Watcher) snapshot() (map[string]fileState, map[string]struct{}, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, nil, err
	}

	files := make(map[string]fileState)
	dirs := make(map[string]struct{})

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(w.root, entry.Name())
		dirs[dir] = struct{}{}

		children, err := os.ReadDir(dir)
		if err != nil {
			// The directory may vanish between the two reads.
			continue
		}
		for _, child := range children {
			if child.IsDir() {
				continue
			}
			info, err := child.Info()
			if err != nil {
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}
			path := filepath.Join(dir, child.Name())
			files[path] = fileState{size: info.Size(), modTime: info.ModTime()}
		}
	}
	return files, dirs, nil
}
