package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transfa/payment-service/internal/domain"
)

var fast = Policy{
	Name:        "fast-test",
	BaseDelay:   time.Millisecond,
	Multiplier:  2.0,
	MaxDelay:    4 * time.Millisecond,
	MaxAttempts: 4,
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	transient := &domain.RetryableProcessorError{Err: errors.New("connection reset")}
	failures := 2
	calls := 0

	attempts, err := Do(context.Background(), fast, "authorize", func(ctx context.Context) error {
		calls++
		if calls <= failures {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if attempts != failures+1 {
		t.Fatalf("expected %d attempts, got %d", failures+1, attempts)
	}
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	transient := &domain.RetryableProcessorError{Err: errors.New("503")}
	calls := 0

	attempts, err := Do(context.Background(), fast, "authorize", func(ctx context.Context) error {
		calls++
		return transient
	})
	if !domain.IsRetryable(err) {
		t.Fatalf("expected the transient error surfaced, got %v", err)
	}
	if attempts != fast.MaxAttempts || calls != fast.MaxAttempts {
		t.Fatalf("expected exactly %d attempts, got attempts=%d calls=%d", fast.MaxAttempts, attempts, calls)
	}
}

func TestDo_NonRetryableShortCircuits(t *testing.T) {
	terminal := &domain.TerminalProcessorError{Code: "51", Reason: "insufficient funds"}
	calls := 0

	attempts, err := Do(context.Background(), fast, "authorize", func(ctx context.Context) error {
		calls++
		return terminal
	})
	var got *domain.TerminalProcessorError
	if !errors.As(err, &got) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("terminal errors must not be retried: attempts=%d calls=%d", attempts, calls)
	}
}

func TestDo_AmbiguousShortCircuits(t *testing.T) {
	ambiguous := &domain.AmbiguousProcessorError{Err: errors.New("timeout")}
	calls := 0

	_, err := Do(context.Background(), fast, "capture", func(ctx context.Context) error {
		calls++
		return ambiguous
	})
	if !domain.IsAmbiguous(err) {
		t.Fatalf("expected ambiguous error surfaced, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("ambiguous outcomes must never be blindly retried, got %d calls", calls)
	}
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	transient := &domain.RetryableProcessorError{Err: errors.New("reset")}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, fast, "authorize", func(ctx context.Context) error {
		calls++
		cancel()
		return transient
	})
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected no attempts after cancellation, got %d", calls)
	}
}

func TestDelay_NeverExceedsMax(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			if d := fast.Delay(attempt); d < 0 || d > fast.MaxDelay {
				t.Fatalf("attempt %d: delay %s outside [0, %s]", attempt, d, fast.MaxDelay)
			}
		}
	}
}
