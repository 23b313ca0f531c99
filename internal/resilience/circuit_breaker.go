package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether the dependency recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards calls to an external dependency
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probes       int // successes needed in half-open before closing
	now          func() time.Time

	mu            sync.Mutex
	state         CircuitState
	failures      int
	probeSuccess  int
	probeInFlight int
	openedAt      time.Time
	requests      int64
	failuresTotal int64
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		probes:       3,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Name returns the guarded dependency name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call runs fn if the breaker allows it and records the outcome
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.RecordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.probeSuccess = 0
		cb.probeInFlight = 1
		return true

	case StateHalfOpen:
		if cb.probeInFlight < cb.probes {
			cb.probeInFlight++
			return true
		}
		return false
	}

	return false
}

// RecordResult records an outcome observed outside Call, such as an async error callback
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probeSuccess++
		if cb.probeSuccess >= cb.probes {
			cb.state = StateClosed
			cb.failures = 0
			cb.probeSuccess = 0
			cb.probeInFlight = 0
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failuresTotal++

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	case StateOpen:
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.probeSuccess = 0
	cb.probeInFlight = 0
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a snapshot of breaker counters
type Stats struct {
	State       CircuitState
	Requests    int64
	Failures    int64
	FailureRate float64 // percent
}

// GetStats returns a snapshot of the breaker counters
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{State: cb.state, Requests: cb.requests, Failures: cb.failuresTotal}
	if s.Requests > 0 {
		s.FailureRate = float64(s.Failures) / float64(s.Requests) * 100.0
	}
	return s
}

// Reset forces the breaker closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probeSuccess = 0
	cb.probeInFlight = 0
}
