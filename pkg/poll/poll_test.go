package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntil_DoneOnThirdTick(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Config{Interval: time.Millisecond, MaxAttempts: 10}, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestUntil_AttemptsExhausted(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Config{Interval: time.Millisecond, MaxAttempts: 4}, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("Expected ErrAttemptsExhausted, got %v", err)
	}
	if calls != 4 {
		t.Errorf("Expected 4 calls, got %d", calls)
	}
}

func TestUntil_FnErrorAborts(t *testing.T) {
	boom := errors.New("job failed")
	calls := 0
	err := Until(context.Background(), Config{Interval: time.Millisecond, MaxAttempts: 10}, func(ctx context.Context) (bool, error) {
		calls++
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fn error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestUntil_TimeoutBounds(t *testing.T) {
	err := Until(context.Background(), Config{Interval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestUntil_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Until(ctx, Config{Interval: time.Millisecond, MaxAttempts: 10}, func(ctx context.Context) (bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context canceled, got %v", err)
	}
}

func TestUntil_RequiresInterval(t *testing.T) {
	err := Until(context.Background(), Config{MaxAttempts: 5}, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	if err == nil {
		t.Fatal("Expected error for zero interval")
	}
}

func TestUntil_RequiresBound(t *testing.T) {
	err := Until(context.Background(), Config{Interval: time.Millisecond}, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	if err == nil {
		t.Fatal("Expected error for unbounded cycle")
	}
}
