package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("not found")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoWithResultUnwrapsLastError(t *testing.T) {
	cause := errors.New("timeout")
	var retried []int
	cfg := fastConfig(2)
	cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	_, err := DoWithResult(context.Background(), cfg, func() (int, error) {
		return 0, Retryable(cause)
	})
	if err != cause {
		t.Fatalf("expected unwrapped cause, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("returned error must not be marked retryable")
	}
	if len(retried) != 1 || retried[0] != 1 {
		t.Errorf("expected one retry after attempt 1, got %v", retried)
	}
}

func TestOnceNeverRetries(t *testing.T) {
	calls := 0
	Do(context.Background(), Once(), func() error {
		calls++
		return Retryable(errors.New("flaky"))
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{MaxAttempts: 3, InitialWait: time.Hour, MaxWait: time.Hour}
	err := Do(ctx, cfg, func() error { return Retryable(errors.New("flaky")) })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := Config{InitialWait: time.Second, MaxWait: 3 * time.Second, Multiplier: 2}
	if got := cfg.Backoff(1); got != time.Second {
		t.Errorf("attempt 1: expected 1s, got %v", got)
	}
	if got := cfg.Backoff(2); got != 2*time.Second {
		t.Errorf("attempt 2: expected 2s, got %v", got)
	}
	if got := cfg.Backoff(5); got != 3*time.Second {
		t.Errorf("attempt 5: expected cap of 3s, got %v", got)
	}
}
