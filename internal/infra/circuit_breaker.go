package infra

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Do while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State of a CircuitBreaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "CLOSED", StateOpen: "OPEN", StateHalfOpen: "HALF_OPEN"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// CircuitBreakerConfig configures a breaker. Clock, Logger and
// OnStateChange are optional.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // half-open successes that close it
	Timeout          time.Duration // open period before a half-open trial call
	Clock            func() time.Time
	Logger           *slog.Logger
	OnStateChange    func(from, to State)
}

func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker gates feed reconnects and fill publishing. Safe for
// concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	successes int // while half-open
	openedAt  time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	cfg.SuccessThreshold = max(cfg.SuccessThreshold, 1)
	return &CircuitBreaker{cfg: cfg, log: cfg.Logger.With(slog.String("breaker", cfg.Name))}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State, why string) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures, cb.successes = 0, 0
	if to == StateOpen {
		cb.openedAt = cb.cfg.Clock()
	}

	attrs := []any{slog.String("from", from.String()), slog.String("to", to.String()), slog.String("reason", why)}
	if to == StateOpen {
		cb.log.Warn("Circuit breaker state change", attrs...)
	} else {
		cb.log.Info("Circuit breaker state change", attrs...)
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// Allow reports whether a call may proceed. An open breaker lets one trial call
// through, moving to half-open, once Timeout has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	if cb.cfg.Clock().Sub(cb.openedAt) <= cb.cfg.Timeout {
		return false
	}
	cb.transition(StateHalfOpen, "timeout elapsed")
	return true
}

// Do runs fn if allowed and records its outcome.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes++; cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed, "recovered")
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if cb.failures++; cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, "failure threshold reached")
		}
	case StateHalfOpen:
		cb.transition(StateOpen, "trial call failed")
	case StateOpen:
		// late failure from a call admitted before opening
		cb.openedAt = cb.cfg.Clock()
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed, "reset")
	cb.failures, cb.successes = 0, 0
}
