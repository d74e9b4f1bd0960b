package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specsmith/pkg/llm/llmerrors"
)

// newFastRetrier returns a retrier whose backoff sleeps are recorded instead
// of performed.
func newFastRetrier(config RetryConfig) (*Retrier, *[]time.Duration) {
	r := NewRetrier(config)
	var delays []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return r, &delays
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r, delays := newFastRetrier(RetryConfig{MaxAttempts: 3})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return llmerrors.NewError(llmerrors.ErrorTypeTransient, "blip")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2)
}

func TestRetryExhaustsBudget(t *testing.T) {
	r, _ := newFastRetrier(RetryConfig{MaxAttempts: 3})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, "still down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTransient))
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	r, delays := newFastRetrier(RetryConfig{MaxAttempts: 3})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "auth errors must not be retried")
	assert.Empty(t, *delays)
}

func TestRetryStopsOnOpenCircuit(t *testing.T) {
	r, _ := newFastRetrier(RetryConfig{MaxAttempts: 3})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return &CircuitOpenError{State: CircuitOpen}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "breaker rejections must not be retried")
}

func TestRetryRateLimitBacksOffLonger(t *testing.T) {
	rateLimited, rlDelays := newFastRetrier(RetryConfig{MaxAttempts: 2})
	_ = rateLimited.Do(context.Background(), func(context.Context) error {
		return llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")
	})

	transient, trDelays := newFastRetrier(RetryConfig{MaxAttempts: 2})
	_ = transient.Do(context.Background(), func(context.Context) error {
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, "reset")
	})

	require.Len(t, *rlDelays, 1)
	require.Len(t, *trDelays, 1)
	assert.Greater(t, (*rlDelays)[0], (*trDelays)[0],
		"rate-limit class must wait longer than transient class")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 5})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, "blip")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWrapperRecovers(t *testing.T) {
	w := NewWrapper(Config{
		Breaker: BreakerConfig{FailureThreshold: 5, OpenTimeout: time.Minute},
		Retry:   RetryConfig{MaxAttempts: 3},
	})
	w.retrier.sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	err := w.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return llmerrors.NewError(llmerrors.ErrorTypeTransient, "blip")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, CircuitClosed, w.Breaker().State())
}

func TestWrapperFailsFastWhenOpen(t *testing.T) {
	w := NewWrapper(Config{
		Breaker: BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute},
		Retry:   RetryConfig{MaxAttempts: 2},
	})
	w.retrier.sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	failing := func(context.Context) error {
		calls++
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, "down")
	}

	err := w.Execute(context.Background(), failing)
	require.Error(t, err)
	require.Equal(t, CircuitOpen, w.Breaker().State())
	require.Equal(t, 2, calls)

	// Circuit is open: the next invocation is rejected without running fn.
	err = w.Execute(context.Background(), failing)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 2, calls)
}

func TestWrapperHalfOpenTrialBudget(t *testing.T) {
	w := NewWrapper(Config{
		Breaker: BreakerConfig{
			FailureThreshold: 2,
			OpenTimeout:      20 * time.Millisecond,
			HalfOpenBudget:   2,
			SuccessThreshold: 2,
		},
		Retry: RetryConfig{MaxAttempts: 1},
	})

	failing := func(context.Context) error {
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, "down")
	}
	_ = w.Execute(context.Background(), failing)
	_ = w.Execute(context.Background(), failing)
	require.Equal(t, CircuitOpen, w.Breaker().State())

	time.Sleep(40 * time.Millisecond)

	// After the open timeout the breaker admits probe calls again.
	calls := 0
	err := w.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitHalfOpen, w.Breaker().State())
}
