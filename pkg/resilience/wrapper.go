package resilience

import (
	"context"
)

// Config bundles the settings for a wrapper.
type Config struct {
	Breaker BreakerConfig
	Retry   RetryConfig
}

// DefaultConfig provides reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Breaker: DefaultBreakerConfig(),
		Retry:   DefaultRetryConfig(),
	}
}

// Wrapper guards whole engine invocations, never individual nodes: the
// breaker sees every real attempt, the retrier sits outside so breaker
// rejections are returned to the caller instead of retried against an open
// circuit.
type Wrapper struct {
	breaker *Breaker
	retrier *Retrier
}

// NewWrapper builds a wrapper. One instance is shared across sessions by
// injection, so one session's failures can open the circuit for all.
func NewWrapper(config Config) *Wrapper {
	return &Wrapper{
		breaker: NewBreaker(config.Breaker),
		retrier: NewRetrier(config.Retry),
	}
}

// Execute runs fn under the breaker with classification-aware retry.
func (w *Wrapper) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return w.retrier.Do(ctx, func(ctx context.Context) error {
		if err := w.breaker.Allow(); err != nil {
			return err
		}
		err := fn(ctx)
		w.breaker.Record(err == nil)
		return err
	})
}

// Breaker exposes the underlying breaker for diagnostics and manual reset.
func (w *Wrapper) Breaker() *Breaker {
	return w.breaker
}
