package syncer

import (
	"context"
	"time"

	"github.com/datashield/vault/internal/logger"
)

// DefaultSupervisorInterval is how often the supervisor inspects the
// watcher.
const DefaultSupervisorInterval = 30 * time.Second

// Supervisor restarts the watcher when its poll goroutine dies. It never
// exits on its own; only context cancellation stops it.
type Supervisor struct {
	watcher   *Watcher
	interval  time.Duration
	onRestart func()
}

// NewSupervisor creates a supervisor. onRestart, when non-nil, is invoked
// after every successful restart so callers can keep a counter.
func NewSupervisor(w *Watcher, interval time.Duration, onRestart func()) *Supervisor {
	if interval <= 0 {
		interval = DefaultSupervisorInterval
	}
	return &Supervisor{watcher: w, interval: interval, onRestart: onRestart}
}

// Run loops until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Supervisor) check() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Supervisor check panicked", "panic", r)
		}
	}()

	if !s.watcher.Running() || s.watcher.Alive() {
		return
	}

	logger.Warn("Watcher poll loop is dead, restarting")
	s.watcher.Stop()
	if err := s.watcher.Start(); err != nil {
		logger.Error("Failed to restart watcher", "error", err)
		return
	}

	if s.onRestart != nil {
		s.onRestart()
	}
	logger.Info("Watcher restarted")
}
