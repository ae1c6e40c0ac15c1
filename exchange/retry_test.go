package exchange

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrierRetriesTransientErrors(t *testing.T) {
	var apiErrors int
	r := NewRetrier(RetryConfig{Attempts: 3, Delay: time.Millisecond, Backoff: 2},
		func(string) { apiErrors++ })

	calls := 0
	err := r.Do(context.Background(), "place", func() error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	// 每次失败都要计入熔断器错误窗口
	if apiErrors != 2 {
		t.Fatalf("expected 2 api errors reported, got %d", apiErrors)
	}
}

func TestRetrierGivesUpAfterAttempts(t *testing.T) {
	r := NewRetrier(RetryConfig{Attempts: 2, Delay: time.Millisecond, Backoff: 2}, nil)
	calls := 0
	err := r.Do(context.Background(), "fetch", func() error {
		calls++
		return errors.New("network down")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetrierDoesNotRetryOrderNotFound(t *testing.T) {
	r := NewRetrier(RetryConfig{Attempts: 5, Delay: time.Millisecond, Backoff: 2}, nil)
	calls := 0
	err := r.Do(context.Background(), "fetch", func() error {
		calls++
		return ErrOrderNotFound
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("deterministic error must not be retried, got %d calls", calls)
	}
}

func TestRetrierHonoursContextCancel(t *testing.T) {
	r := NewRetrier(RetryConfig{Attempts: 10, Delay: 50 * time.Millisecond, Backoff: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Do(ctx, "fetch", func() error { return errors.New("boom") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
