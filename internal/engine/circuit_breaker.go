package engine

import (
	"sync"
	"time"

	"github.com/rendis/actionkit/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker of one action.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failed invocations before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial invocations allowed in half-open state.
	HalfOpenMax int
}

// DefaultCircuitBreakerConfig returns a sensible default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = d.HalfOpenMax
	}
	return c
}

// breaker tracks failure state for a single action.
type breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
	config              CircuitBreakerConfig
}

// Breakers manages per-action circuit breakers. Only invocations that fail
// with a server-side code (5xx or TIMEOUT) count as failures; client errors
// such as INPUT_PARSE_ERROR leave the circuit alone.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	now      func() time.Time
}

// NewBreakers creates an empty registry.
func NewBreakers() *Breakers {
	return &Breakers{
		breakers: make(map[string]*breaker),
		now:      time.Now,
	}
}

// Allow checks whether an invocation of the action may run. It returns a
// SERVICE_UNAVAILABLE error while the circuit is open.
func (r *Breakers) Allow(action string, cfg CircuitBreakerConfig) *schema.ActionError {
	cb := r.get(action, cfg)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		remaining := cb.config.Cooldown - r.now().Sub(cb.openedAt)
		if remaining > 0 {
			return schema.NewErrorf(schema.ErrCodeServiceUnavailable,
				"action %q is temporarily unavailable", action).
				WithData(map[string]any{
					"consecutive_failures": cb.consecutiveFailures,
					"retry_after":          remaining.Round(time.Millisecond).String(),
				})
		}
		cb.state = CircuitHalfOpen
		cb.halfOpenInFlight = 1
		return nil

	case CircuitHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeServiceUnavailable,
				"action %q is recovering, trial limit reached", action)
		}
		cb.halfOpenInFlight++
	}
	return nil
}

// Success records a successful invocation and closes the circuit.
func (r *Breakers) Success(action string) {
	cb := r.lookup(action)
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenInFlight = 0
	cb.state = CircuitClosed
}

// Failure records a failed invocation and returns the new circuit state.
func (r *Breakers) Failure(action string, err *schema.ActionError) CircuitState {
	cb := r.lookup(action)
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !countsAsFailure(err) {
		if cb.state == CircuitHalfOpen && cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		return cb.state
	}

	cb.consecutiveFailures++
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = r.now()
		cb.halfOpenInFlight = 0
	}
	return cb.state
}

// State returns the current state of the circuit for an action.
func (r *Breakers) State(action string) CircuitState {
	cb := r.lookup(action)
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && r.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Stats returns diagnostic information about a circuit breaker.
func (r *Breakers) Stats(action string) map[string]any {
	stats := map[string]any{
		"action": action,
		"state":  r.State(action).String(),
	}
	if cb := r.lookup(action); cb != nil {
		cb.mu.Lock()
		stats["consecutive_failures"] = cb.consecutiveFailures
		stats["failure_threshold"] = cb.config.FailureThreshold
		stats["cooldown"] = cb.config.Cooldown.String()
		cb.mu.Unlock()
	}
	return stats
}

func countsAsFailure(err *schema.ActionError) bool {
	if err == nil {
		return false
	}
	return err.Code == schema.ErrCodeTimeout || schema.HTTPStatus(err.Code) >= 500
}

func (r *Breakers) lookup(action string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[action]
}

func (r *Breakers) get(action string, cfg CircuitBreakerConfig) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[action]
	if !ok {
		cb = &breaker{
			state:  CircuitClosed,
			config: cfg.withDefaults(),
		}
		r.breakers[action] = cb
	}
	return cb
}
