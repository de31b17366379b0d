// Package resilience guards calls to the services around the index: a
// circuit breaker for the term cache, retries for the attribute store and
// deadlines for token lookups.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CircuitBreakerConfig controls when the breaker trips and recovers. Zero
// values take defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests bounds concurrent probes while half-open.
	HalfOpenMaxRequests int
	// OnStateChange, if set, is called after every transition while the
	// breaker's lock is not held.
	OnStateChange func(name string, from, to State)
	// now replaces time.Now in tests.
	now func() time.Time
}

type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the circuit rejects the call, in which case the
// returned error wraps ErrCircuitOpen and fn is not run.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err == nil)
	return err
}

// State returns the breaker's current state. An open breaker whose reset
// timeout has passed still reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.transition(func() { cb.failures = 0 }, StateClosed)
}

func (cb *CircuitBreaker) admit() error {
	var err error
	cb.transition(func() {
		switch cb.state {
		case StateOpen:
			wait := cb.cfg.ResetTimeout - cb.cfg.now().Sub(cb.openedAt)
			if wait > 0 {
				err = fmt.Errorf("%w: %s, retry in %v", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
				return
			}
			cb.state = StateHalfOpen
			cb.probes = 1
		case StateHalfOpen:
			if cb.probes >= cb.cfg.HalfOpenMaxRequests {
				err = fmt.Errorf("%w: %s is probing", ErrCircuitOpen, cb.name)
				return
			}
			cb.probes++
		}
	}, -1)
	return err
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.transition(func() {
		if ok {
			cb.failures = 0
			if cb.state == StateHalfOpen {
				cb.state = StateClosed
				cb.probes = 0
			}
			return
		}
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.cfg.now()
			cb.probes = 0
		}
	}, -1)
}

// transition runs mutate under the lock, optionally forcing the state to
// force, then reports a state change.
func (cb *CircuitBreaker) transition(mutate func(), force State) {
	cb.mu.Lock()
	from := cb.state
	mutate()
	if force >= 0 {
		cb.state = force
		cb.probes = 0
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from == to {
		return
	}
	if to == StateOpen {
		cb.logger.Warn("circuit opened", "from", from, "consecutive_failures", failures)
	} else {
		cb.logger.Info("circuit state changed", "from", from, "to", to)
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}
