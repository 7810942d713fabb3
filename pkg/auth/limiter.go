// Package auth implements API key verification support: the failed-auth
// rate limiter that throttles brute-force attempts per client and
// collection.
package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/datashield/vault/internal/logger"
)

const (
	// DefaultMaxFailures is the number of failed attempts inside the window
	// that triggers a block.
	DefaultMaxFailures = 5

	// DefaultWindow is the sliding window over which failures are counted.
	DefaultWindow = 60 * time.Second

	// DefaultBlockDuration is how long a blocked client stays blocked.
	DefaultBlockDuration = 300 * time.Second
)

// BlockedError is returned while a client is blocked.
type BlockedError struct {
	// RetryAfter is how long until the block expires.
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("too many failed authentication attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

// LimiterConfig contains rate limiter tuning parameters.
type LimiterConfig struct {
	MaxFailures   int           `mapstructure:"max_failures" yaml:"max_failures"`
	Window        time.Duration `mapstructure:"window" yaml:"window"`
	BlockDuration time.Duration `mapstructure:"block_duration" yaml:"block_duration"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *LimiterConfig) ApplyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = DefaultBlockDuration
	}
}

type limiterEntry struct {
	failures     []time.Time
	blockedUntil time.Time
}

// Limiter tracks failed authentication attempts per (client, collection)
// pair over a sliding window and blocks the pair once the failure budget
// is exhausted. Successful authentication clears the pair's history.
type Limiter struct {
	mu      sync.Mutex
	config  LimiterConfig
	entries map[string]*limiterEntry
	onBlock func()

	now func() time.Time
}

// NewLimiter creates a limiter. onBlock, when non-nil, is invoked each time
// a pair transitions into the blocked state.
func NewLimiter(config LimiterConfig, onBlock func()) *Limiter {
	config.ApplyDefaults()
	return &Limiter{
		config:  config,
		entries: make(map[string]*limiterEntry),
		onBlock: onBlock,
		now:     time.Now,
	}
}

func limiterKey(client, collection string) string {
	return client + "|" + collection
}

// Check reports whether the pair may attempt authentication. While blocked
// it returns a *BlockedError carrying the remaining block time.
func (l *Limiter) Check(client, collection string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[limiterKey(client, collection)]
	if !ok {
		return nil
	}
	if remaining := entry.blockedUntil.Sub(l.now()); remaining > 0 {
		return &BlockedError{RetryAfter: remaining}
	}
	return nil
}

// RecordFailure counts a failed attempt. Crossing the threshold inside the
// window blocks the pair for the configured duration.
func (l *Limiter) RecordFailure(client, collection string) {
	now := l.now()

	l.mu.Lock()
	key := limiterKey(client, collection)
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{}
		l.entries[key] = entry
	}

	// Drop failures that fell out of the window.
	cutoff := now.Add(-l.config.Window)
	kept := entry.failures[:0]
	for _, ts := range entry.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	entry.failures = append(kept, now)

	blocked := false
	if len(entry.failures) >= l.config.MaxFailures && now.After(entry.blockedUntil) {
		entry.blockedUntil = now.Add(l.config.BlockDuration)
		entry.failures = nil
		blocked = true
	}
	l.mu.Unlock()

	if blocked {
		logger.Warn("Client blocked after repeated auth failures",
			"client", client,
			"collection", collection,
			"block_duration", l.config.BlockDuration)
		if l.onBlock != nil {
			l.onBlock()
		}
	}
}

// RecordSuccess clears the pair's failure history. An active block is not
// lifted: the client must wait it out even if it later presents a valid key.
func (l *Limiter) RecordSuccess(client, collection string) {
	l.mu.Lock()
	key := limiterKey(client, collection)
	if entry, ok := l.entries[key]; ok {
		if entry.blockedUntil.After(l.now()) {
			entry.failures = nil
		} else {
			delete(l.entries, key)
		}
	}
	l.mu.Unlock()
}

// Prune drops entries with no recent failures and expired blocks. Called
// periodically by the background task manager to bound memory.
func (l *Limiter) Prune() int {
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.entries {
		if entry.blockedUntil.After(now) {
			continue
		}
		live := false
		for _, ts := range entry.failures {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// TrackedPairs returns the number of pairs currently tracked.
func (l *Limiter) TrackedPairs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
