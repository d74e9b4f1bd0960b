package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"specsmith/pkg/llm/llmerrors"
	"specsmith/pkg/logx"
)

// RetryConfig bounds the retry loop. Delays themselves come from the error
// class, not from here: a rate-limit error waits on the rate-limit backoff
// curve, a transient network error on the shorter one.
type RetryConfig struct {
	MaxAttempts int // Total attempts, first call included
}

// DefaultRetryConfig provides reasonable defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3}
}

// Retrier re-invokes a failing operation with classification-aware backoff.
type Retrier struct {
	config RetryConfig
	logger *logx.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier.
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	return &Retrier{
		config: config,
		logger: logx.NewLogger("resilience"),
		sleep:  sleepCtx,
	}
}

// Do invokes fn until it succeeds, the error is non-retryable, the attempt
// budget is exhausted, or the context ends. The last error is wrapped with the
// attempt count.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// An open circuit means the backend is known-bad; retrying here
		// would only burn the attempt budget against the breaker.
		var openErr *CircuitOpenError
		if errors.As(err, &openErr) {
			return err
		}
		if !llmerrors.IsRetryable(err) {
			r.logger.Debug("Not retrying %s error", llmerrors.TypeOf(err))
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := delayFor(err, attempt)
		r.logger.Debug("Attempt %d/%d failed (%s), retrying in %s",
			attempt, r.config.MaxAttempts, llmerrors.TypeOf(err), delay)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// delayFor computes the backoff before retry number attempt+1, using the
// backoff curve of the error's class.
func delayFor(err error, attempt int) time.Duration {
	config := llmerrors.DefaultBackoffConfigs[llmerrors.TypeOf(err)]
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		config = llmErr.GetBackoffConfig()
	}

	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt-1)))
	if delay > config.MaxDelay || delay <= 0 {
		delay = config.MaxDelay
	}

	if config.Jitter {
		// +/- 10% to spread simultaneous retries.
		jitter := time.Duration(rand.Int63n(int64(delay)/5+1)) - delay/10
		delay += jitter
		if delay < config.InitialDelay {
			delay = config.InitialDelay
		}
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
