package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Retry defaults.
const (
	DefaultAttempts       = 3
	DefaultBaseDelay      = time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// TimeoutError is produced when a single attempt exceeds its time limit.
// It is retryable.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt timed out after %s", e.After)
}

// IsRetryable implements the retry classifier contract.
func (e *TimeoutError) IsRetryable() bool { return true }

// RetryConfig controls a Retrier.
type RetryConfig struct {
	Attempts       int           `yaml:"attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Jitter         bool          `yaml:"jitter"`
}

// DefaultRetryConfig returns 3 attempts, 1s doubling backoff and a 30s
// per-attempt limit, without jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:       DefaultAttempts,
		BaseDelay:      DefaultBaseDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Retryable is the default classifier: an error is retryable when it, or
// anything it wraps, reports IsRetryable() == true.
func Retryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// Retrier runs an operation up to Attempts times with exponential backoff.
// Delays are BaseDelay, 2*BaseDelay, ... between attempts; there is no delay
// after the last attempt.
type Retrier struct {
	cfg      RetryConfig
	classify func(error) bool
	sleep    func(context.Context, time.Duration) error
	onRetry  func(attempt int, err error, delay time.Duration)
}

// NewRetrier builds a Retrier. Zero config fields fall back to defaults.
func NewRetrier(cfg RetryConfig) *Retrier {
	def := DefaultRetryConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	return &Retrier{
		cfg:      cfg,
		classify: Retryable,
		sleep:    sleepCtx,
	}
}

// WithClassifier replaces the retryability predicate.
func (r *Retrier) WithClassifier(fn func(error) bool) *Retrier {
	r.classify = fn
	return r
}

// WithSleeper replaces the backoff wait. Tests use it to record delays
// without sleeping.
func (r *Retrier) WithSleeper(fn func(context.Context, time.Duration) error) *Retrier {
	r.sleep = fn
	return r
}

// OnRetry registers a hook called before each backoff sleep.
func (r *Retrier) OnRetry(fn func(attempt int, err error, delay time.Duration)) *Retrier {
	r.onRetry = fn
	return r
}

// Config returns the effective configuration.
func (r *Retrier) Config() RetryConfig { return r.cfg }

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up. The last error is returned unchanged. Each attempt
// gets its own context bounded by AttemptTimeout, cancelled when fn returns.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	release, err := r.run(ctx, fn, false)
	if release != nil {
		release()
	}
	return err
}

// Open is Do for calls whose result outlives fn, such as streams. The time
// limit covers fn only; on success the attempt context stays live and the
// caller must invoke the returned cancel once done with the result.
func (r *Retrier) Open(ctx context.Context, fn func(context.Context) error) (context.CancelFunc, error) {
	return r.run(ctx, fn, true)
}

// Call is the value-returning form of Do.
func Call[T any](ctx context.Context, r *Retrier, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Retrier) run(ctx context.Context, fn func(context.Context) error, keep bool) (context.CancelFunc, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		release, err := r.attempt(ctx, fn, keep)
		if err == nil {
			return release, nil
		}
		lastErr = err

		if ctx.Err() != nil || !r.classify(err) || attempt == r.cfg.Attempts {
			return nil, lastErr
		}

		delay := r.backoff(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (r *Retrier) attempt(ctx context.Context, fn func(context.Context) error, keep bool) (context.CancelFunc, error) {
	timeout := r.cfg.AttemptTimeout
	actx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(timeout, func() { cancel(&TimeoutError{After: timeout}) })

	err := fn(actx)
	fired := !timer.Stop()

	// A result in hand wins over a timer that fired as fn returned. A kept
	// result is the exception: its context is already cancelled.
	if err == nil && !keep {
		cancel(nil)
		return nil, nil
	}
	if err == nil && !fired {
		return func() { cancel(context.Canceled) }, nil
	}
	if fired && ctx.Err() == nil {
		var te *TimeoutError
		if errors.As(context.Cause(actx), &te) {
			cancel(nil)
			return nil, te
		}
	}
	cancel(nil)
	if err == nil {
		err = context.Cause(actx)
	}
	return nil, err
}

func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.cfg.BaseDelay << (attempt - 1)
	if r.cfg.Jitter && d > 0 {
		half := d / 2
		d = half + rand.N(half+1)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
