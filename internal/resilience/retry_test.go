package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type retryableErr struct{ retry bool }

func (e *retryableErr) Error() string      { return "backend said no" }
func (e *retryableErr) IsRetryable() bool { return e.retry }

func newTestRetrier(cfg RetryConfig) (*Retrier, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetrier(cfg)
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r, slept := newTestRetrier(DefaultRetryConfig())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &retryableErr{retry: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, *slept)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i, (*slept)[i], want[i])
		}
	}
}

func TestRetryNonRetryableReturnsImmediately(t *testing.T) {
	r, slept := newTestRetrier(DefaultRetryConfig())

	orig := &retryableErr{retry: false}
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return orig
	})
	if err != orig {
		t.Fatalf("expected original error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no sleeps, got %v", *slept)
	}
}

func TestRetryUnclassifiedErrorIsNotRetried(t *testing.T) {
	r, _ := newTestRetrier(DefaultRetryConfig())

	calls := 0
	_ = r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("plain")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	r, slept := newTestRetrier(DefaultRetryConfig())

	var last error
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		last = &retryableErr{retry: true}
		return last
	})
	if err != last {
		t.Fatalf("expected last error unchanged, got %v", err)
	}
	if calls != DefaultAttempts {
		t.Fatalf("expected %d calls, got %d", DefaultAttempts, calls)
	}
	if len(*slept) != DefaultAttempts-1 {
		t.Fatalf("expected no sleep after last attempt, got %v", *slept)
	}
}

func TestRetryAttemptTimeout(t *testing.T) {
	r, _ := newTestRetrier(RetryConfig{Attempts: 2, AttemptTimeout: 20 * time.Millisecond})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %T %v", err, err)
	}
	if te.After != 20*time.Millisecond {
		t.Errorf("After = %s", te.After)
	}
	if calls != 2 {
		t.Fatalf("timeouts are retryable, expected 2 calls, got %d", calls)
	}
}

func TestRetryKeepsResultFinishedAtDeadline(t *testing.T) {
	r, slept := newTestRetrier(RetryConfig{Attempts: 3, AttemptTimeout: 10 * time.Millisecond})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("a result returned with the deadline must count, got %v", err)
	}
	if calls != 1 || len(*slept) != 0 {
		t.Fatalf("expected one attempt, got %d calls and %d backoffs", calls, len(*slept))
	}
}

func TestRetryOpenPastDeadlineTimesOut(t *testing.T) {
	r, _ := newTestRetrier(RetryConfig{Attempts: 1, AttemptTimeout: 10 * time.Millisecond})

	release, err := r.Open(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	var te *TimeoutError
	if !errors.As(err, &te) || release != nil {
		t.Fatalf("a kept result on a cancelled context must time out, got %v", err)
	}
}

func TestRetryStopsOnParentCancel(t *testing.T) {
	r, _ := newTestRetrier(DefaultRetryConfig())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &retryableErr{retry: true}
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	var re *retryableErr
	if !errors.As(err, &re) {
		t.Fatalf("expected last attempt error, got %v", err)
	}
}

func TestRetryOpenKeepsContextAlive(t *testing.T) {
	r, _ := newTestRetrier(RetryConfig{Attempts: 1, AttemptTimeout: 20 * time.Millisecond})

	var attemptCtx context.Context
	release, err := r.Open(context.Background(), func(ctx context.Context) error {
		attemptCtx = ctx
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if attemptCtx.Err() != nil {
		t.Fatal("attempt context should survive past the attempt timeout")
	}
	release()
	if attemptCtx.Err() == nil {
		t.Fatal("release should cancel the attempt context")
	}
}

func TestCallReturnsValue(t *testing.T) {
	r, _ := newTestRetrier(DefaultRetryConfig())
	calls := 0
	v, err := Call(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &TimeoutError{After: time.Second}
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	r := NewRetrier(RetryConfig{BaseDelay: time.Second, Jitter: true})
	for i := 0; i < 50; i++ {
		d := r.backoff(2)
		if d < time.Second || d > 2*time.Second {
			t.Fatalf("jittered delay %s out of [1s, 2s]", d)
		}
	}
}
