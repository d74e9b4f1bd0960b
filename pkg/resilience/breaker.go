// Package resilience guards external language-model calls with a circuit
// breaker and classification-aware retry. The two compose into a Client
// wrapper: breaker inside, retry outside, so an open circuit is not retried
// against.
package resilience

import (
	"fmt"
	"sync"
	"time"

	"specsmith/pkg/logx"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

// Circuit breaker states.
const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Probing whether the backend recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// TransitionRecorder receives circuit state changes for metrics. Implemented
// by pkg/metrics.
type TransitionRecorder interface {
	ObserveBreakerTransition(toState string)
}

// BreakerConfig defines circuit breaker behavior.
type BreakerConfig struct {
	FailureThreshold int                // Consecutive failures before opening
	SuccessThreshold int                // Successes needed to close from half-open
	OpenTimeout      time.Duration      // How long the circuit stays open before probing
	HalfOpenBudget   int                // Concurrent probe calls allowed while half-open
	Recorder         TransitionRecorder // optional
}

// DefaultBreakerConfig provides reasonable defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
		HalfOpenBudget:   2,
	}
}

// CircuitOpenError is returned when a request is rejected without being
// attempted. Callers can detect it to fail fast instead of retrying.
type CircuitOpenError struct {
	State      CircuitState
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker is %s, retry after %s", e.State, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// Breaker is a consecutive-failure circuit breaker. It is constructed
// explicitly and shared by injection; there is no package-level instance.
type Breaker struct {
	config BreakerConfig
	logger *logx.Logger

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	halfOpenCalls   int
	lastFailureTime time.Time
	openedAt        time.Time
	transitions     int64
}

// NewBreaker creates a circuit breaker in the closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	if config.HalfOpenBudget <= 0 {
		config.HalfOpenBudget = DefaultBreakerConfig().HalfOpenBudget
	}
	return &Breaker{
		config: config,
		logger: logx.NewLogger("resilience"),
		state:  CircuitClosed,
	}
}

// Allow reports whether a request may proceed. A nil return means the caller
// must later invoke Record with the outcome; a *CircuitOpenError means the
// request was rejected without consuming an attempt.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		elapsed := time.Since(b.lastFailureTime)
		if elapsed >= b.config.OpenTimeout {
			b.transition(CircuitHalfOpen)
			b.halfOpenCalls = 1
			b.successCount = 0
			return nil
		}
		return &CircuitOpenError{State: CircuitOpen, RetryAfter: b.config.OpenTimeout - elapsed}

	case CircuitHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenBudget {
			return &CircuitOpenError{State: CircuitHalfOpen}
		}
		b.halfOpenCalls++
		return nil

	default:
		return &CircuitOpenError{State: b.state}
	}
}

// Record reports the outcome of a request previously admitted by Allow.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen && b.halfOpenCalls > 0 {
		b.halfOpenCalls--
	}

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case CircuitClosed:
		b.failureCount = 0

	case CircuitHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transition(CircuitClosed)
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case CircuitClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.transition(CircuitOpen)
			b.logger.Error("Circuit opened after %d consecutive failures", b.failureCount)
		}

	case CircuitHalfOpen:
		// A probe failure reopens immediately.
		b.transition(CircuitOpen)
		b.successCount = 0
		b.logger.Warn("Probe failed, circuit reopened")
	}
}

// transition switches state and records bookkeeping. Caller holds the lock.
func (b *Breaker) transition(to CircuitState) {
	if b.state == to {
		return
	}
	b.logger.Debug("Circuit %s -> %s", b.state, to)
	b.state = to
	b.transitions++
	if to == CircuitOpen {
		b.openedAt = time.Now()
	}
	if b.config.Recorder != nil {
		b.config.Recorder.ObserveBreakerTransition(to.String())
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = CircuitClosed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenCalls = 0
}

// BreakerStats is a snapshot of breaker state for diagnostics.
type BreakerStats struct {
	State        CircuitState `json:"state"`
	FailureCount int          `json:"failure_count"`
	SuccessCount int          `json:"success_count"`
	Transitions  int64        `json:"transitions"`
	LastFailure  *time.Time   `json:"last_failure,omitempty"`
	OpenSince    *time.Time   `json:"open_since,omitempty"`
}

// Stats returns current statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BreakerStats{
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		Transitions:  b.transitions,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		stats.LastFailure = &t
	}
	if b.state == CircuitOpen && !b.openedAt.IsZero() {
		t := b.openedAt
		stats.OpenSince = &t
	}
	return stats
}
