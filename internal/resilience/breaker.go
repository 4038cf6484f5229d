package resilience

import (
	"sync"
	"time"

	"github.com/renderdeck/renderdeck/internal/metrics"
)

// Breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// BreakerConfig tunes a circuit breaker. FailureThreshold consecutive
// failures open the breaker; Timeout is how long calls short-circuit
// before one trial call is let through.
type BreakerConfig struct {
	FailureThreshold int
	Timeout          time.Duration
}

// CircuitBreaker guards one named external dependency. While open, Execute
// routes straight to the fallback without touching the dependency.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	failures      int
	state         string
	openedAt      time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a closed breaker for a named dependency
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState folds open->half-open expiry. Caller holds the mutex.
func (cb *CircuitBreaker) currentState() string {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.Timeout {
		cb.state = StateHalfOpen
	}
	return cb.state
}

// Execute runs fn through the breaker. When the breaker is open, or a
// half-open trial is already in flight, fn is skipped and fallback runs
// instead. fallback may be nil, in which case the short-circuit is
// reported as the last observed error path via a nil return.
func (cb *CircuitBreaker) Execute(fn func() error, fallback func() error) error {
	cb.mu.Lock()
	state := cb.currentState()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		metrics.RecordBreakerShortCircuit(cb.name)
		if fallback != nil {
			return fallback()
		}
		return nil
	case StateHalfOpen:
		if cb.trialInFlight {
			cb.mu.Unlock()
			metrics.RecordBreakerShortCircuit(cb.name)
			if fallback != nil {
				return fallback()
			}
			return nil
		}
		cb.trialInFlight = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false

	if err != nil {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
			metrics.SetBreakerState(cb.name, StateOpen)
		}
		return err
	}

	cb.failures = 0
	if cb.state != StateClosed {
		cb.state = StateClosed
		metrics.SetBreakerState(cb.name, StateClosed)
	}
	return nil
}

// Registry hands out one breaker per dependency name so every caller
// shares failure bookkeeping for the same external service.
type Registry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a breaker registry with a shared default config
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for a dependency, creating it on first use
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, r.cfg)
		r.breakers[name] = cb
	}
	return cb
}
