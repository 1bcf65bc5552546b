package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func alwaysTransient(error) bool { return true }
func neverTransient(error) bool  { return false }

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy, alwaysTransient, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call on immediate success, got %d", calls)
	}
}

func TestDo_NonTransientFailsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), DefaultPolicy, neverTransient, func() error {
		calls++
		return boom
	})
	if err != boom {
		t.Fatalf("expected the original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("a non-transient error should not be retried, got %d calls", calls)
	}
}

func TestDo_RetriesUpToMaxAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected exactly MaxAttempts=3 calls, got %d", calls)
	}
}

func TestDo_SucceedsAfterTransientRetries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls (1 failure then success), got %d", calls)
	}
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, alwaysTransient, func() error {
		calls++
		return errors.New("transient")
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls >= 5 {
		t.Errorf("cancellation should have stopped retries before exhausting MaxAttempts, got %d calls", calls)
	}
}
