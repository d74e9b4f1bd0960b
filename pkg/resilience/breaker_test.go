package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute})

	failN(t, b, 2)
	assert.Equal(t, CircuitClosed, b.State())

	failN(t, b, 1)
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	failN(t, b, 2)

	err := b.Allow()
	require.Error(t, err)

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, CircuitOpen, openErr.State)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute})

	failN(t, b, 2)
	require.NoError(t, b.Allow())
	b.Record(true)

	// The streak restarted, so two more failures do not open the circuit.
	failN(t, b, 2)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      30 * time.Millisecond,
		HalfOpenBudget:   2,
		SuccessThreshold: 2,
	})
	failN(t, b, 2)

	require.Error(t, b.Allow())
	time.Sleep(50 * time.Millisecond)

	// Timeout elapsed: probes are admitted up to the half-open budget.
	require.NoError(t, b.Allow())
	assert.Equal(t, CircuitHalfOpen, b.State())
	require.NoError(t, b.Allow())

	err := b.Allow()
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, CircuitHalfOpen, openErr.State)
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
		HalfOpenBudget:   2,
		SuccessThreshold: 2,
	})
	failN(t, b, 2)
	time.Sleep(40 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.Record(true)
	assert.Equal(t, CircuitHalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.Record(true)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
		HalfOpenBudget:   2,
		SuccessThreshold: 2,
	})
	failN(t, b, 2)
	time.Sleep(40 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.Record(false)
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute})
	failN(t, b, 1)
	require.Equal(t, CircuitOpen, b.State())

	b.Reset()
	assert.Equal(t, CircuitClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerStats(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	failN(t, b, 2)

	stats := b.Stats()
	assert.Equal(t, CircuitOpen, stats.State)
	assert.Equal(t, 2, stats.FailureCount)
	require.NotNil(t, stats.LastFailure)
	require.NotNil(t, stats.OpenSince)
	assert.Equal(t, int64(1), stats.Transitions)
}

// recordingTransitions captures breaker state changes in order.
type recordingTransitions struct {
	states []string
}

func (r *recordingTransitions) ObserveBreakerTransition(toState string) {
	r.states = append(r.states, toState)
}

func TestBreakerNotifiesRecorderOnTransitions(t *testing.T) {
	rec := &recordingTransitions{}
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
		HalfOpenBudget:   2,
		SuccessThreshold: 1,
		Recorder:         rec,
	})

	failN(t, b, 2)
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.Record(true)

	assert.Equal(t, []string{"OPEN", "HALF_OPEN", "CLOSED"}, rec.states)
}

func TestCircuitOpenErrorMessage(t *testing.T) {
	err := &CircuitOpenError{State: CircuitOpen, RetryAfter: 42 * time.Second}
	assert.Contains(t, err.Error(), "OPEN")
	assert.Contains(t, err.Error(), "42s")

	var target *CircuitOpenError
	assert.True(t, errors.As(error(err), &target))
}
