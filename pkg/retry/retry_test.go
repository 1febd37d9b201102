package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, OperationName: "t"}
	got, err := WithRetry(context.Background(), cfg, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, OperationName: "t"}
	_, err := WithRetry(context.Background(), cfg, func() (int, error) {
		return 0, errors.New("always fails")
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}
}

func TestWithRetryNonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	sentinel := errors.New("fatal")
	cfg := Config{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		RetryableFunc:  func(err error) bool { return !errors.Is(err, sentinel) },
		OperationName:  "t",
	}
	_, err := WithRetry(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (non-retryable should stop immediately)", attempts)
	}
}
