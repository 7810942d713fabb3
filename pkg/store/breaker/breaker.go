// Package breaker implements a three-state circuit breaker that shields
// the vault from a failing object store, plus a store wrapper that routes
// write operations through it.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/datashield/vault/internal/logger"
)

// State is the breaker state.
type State string

const (
	// StateClosed passes operations through and counts failures.
	StateClosed State = "CLOSED"

	// StateOpen rejects operations until the cooldown elapses.
	StateOpen State = "OPEN"

	// StateHalfOpen admits trial operations after the cooldown.
	StateHalfOpen State = "HALF_OPEN"
)

const (
	// DefaultFailureThreshold is the number of consecutive failures that
	// trips the breaker.
	DefaultFailureThreshold = 5

	// DefaultSuccessThreshold is the number of consecutive half-open
	// successes that closes the breaker again.
	DefaultSuccessThreshold = 2

	// DefaultCooldown is how long the breaker stays open before admitting
	// trial operations.
	DefaultCooldown = 30 * time.Second
)

// OpenError is returned when the breaker rejects an operation.
type OpenError struct {
	// Remaining is how long until the breaker admits a trial operation.
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry in %s", e.Remaining.Round(time.Second))
}

// Config contains circuit breaker tuning parameters.
type Config struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" yaml:"success_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
}

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	State            State         `json:"state"`
	ConsecutiveFails int           `json:"consecutive_failures"`
	CooldownLeft     time.Duration `json:"cooldown_remaining,omitempty"`
}

// Breaker is a mutex-guarded three-state circuit breaker. Rejected
// operations never count as failures; only real attempts move the counters.
type Breaker struct {
	mu sync.Mutex

	name   string
	config Config

	state     State
	failures  int
	successes int
	openedAt  time.Time
	onState   func(State)

	now func() time.Time
}

// New creates a breaker. onState, when non-nil, is invoked on every state
// transition (after the lock is released) so callers can keep a gauge
// current.
func New(name string, config Config, onState func(State)) *Breaker {
	config.ApplyDefaults()
	return &Breaker{
		name:    name,
		config:  config,
		state:   StateClosed,
		onState: onState,
		now:     time.Now,
	}
}

// Allow reports whether an operation may proceed. When the breaker is open
// and the cooldown has not elapsed it returns an *OpenError. A nil error
// means the caller must report the outcome via Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.config.Cooldown {
			remaining := b.config.Cooldown - elapsed
			b.mu.Unlock()
			return &OpenError{Remaining: remaining}
		}
		b.successes = 0
		b.notify(b.transition(StateHalfOpen))
		return nil
	}

	b.mu.Unlock()
	return nil
}

// Success records a successful operation.
func (b *Breaker) Success() {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.failures = 0

	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.failures = 0
			b.successes = 0
			b.notify(b.transition(StateClosed))
			return
		}
	}
	b.mu.Unlock()
}

// Failure records a failed operation.
func (b *Breaker) Failure() {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.openedAt = b.now()
			b.notify(b.transition(StateOpen))
			return
		}

	case StateHalfOpen:
		// One failed trial reopens immediately.
		b.openedAt = b.now()
		b.successes = 0
		b.notify(b.transition(StateOpen))
		return
	}
	b.mu.Unlock()
}

// Status returns a snapshot for health endpoints.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		State:            b.state,
		ConsecutiveFails: b.failures,
	}
	if b.state == StateOpen {
		if left := b.config.Cooldown - b.now().Sub(b.openedAt); left > 0 {
			st.CooldownLeft = left
		}
	}
	return st
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition moves to a new state and returns it. Caller holds the lock.
func (b *Breaker) transition(next State) State {
	prev := b.state
	b.state = next

	switch next {
	case StateOpen:
		logger.Warn("Circuit breaker opened", "breaker", b.name, "from", string(prev))
	case StateClosed:
		logger.Info("Circuit breaker closed", "breaker", b.name, "from", string(prev))
	case StateHalfOpen:
		logger.Info("Circuit breaker half-open", "breaker", b.name)
	}
	return next
}

// notify releases the lock and fires the state callback.
func (b *Breaker) notify(state State) {
	b.mu.Unlock()
	if b.onState != nil {
		b.onState(state)
	}
}
