package webhook

import (
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	}
	return "unknown"
}

type endpointHealth struct {
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// CircuitBreaker tracks failures per endpoint URL. After threshold
// consecutive failures the endpoint is skipped until recovery has
// elapsed; then a single trial request is let through.
type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointHealth
	threshold int
	recovery  time.Duration
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		endpoints: make(map[string]*endpointHealth),
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

func (cb *CircuitBreaker) Allow(endpoint string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	health, exists := cb.endpoints[endpoint]
	if !exists || health.state != CircuitOpen {
		return true
	}
	if cb.now().Sub(health.lastFailure) > cb.recovery {
		health.state = CircuitHalfOpen
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.endpoints, endpoint)
}

func (cb *CircuitBreaker) RecordFailure(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	health, exists := cb.endpoints[endpoint]
	if !exists {
		health = &endpointHealth{}
		cb.endpoints[endpoint] = health
	}
	health.failures++
	health.lastFailure = cb.now()

	// A failed trial reopens immediately.
	if health.state == CircuitHalfOpen || health.failures >= cb.threshold {
		health.state = CircuitOpen
	}
}

func (cb *CircuitBreaker) State(endpoint string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if health, ok := cb.endpoints[endpoint]; ok {
		return health.state
	}
	return CircuitClosed
}
