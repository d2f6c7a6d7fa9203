package ledger_test

import (
	"SpiritLedger/internal/ledger"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// ============================================================================
// Test: RetryPolicy
// ============================================================================

func TestRetryPolicy_FirstAttemptSucceeds(t *testing.T) {
	p := ledger.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	calls := 0

	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryPolicy_ConflictThenSuccess(t *testing.T) {
	p := ledger.RetryPolicy{MaxAttempts: 3, Delay: time.Microsecond}
	calls := 0

	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("store: %w", ledger.ErrConflict)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("should succeed on third attempt: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicy_ExhaustionSurfacesTransientFailure(t *testing.T) {
	p := ledger.RetryPolicy{MaxAttempts: 3, Delay: time.Microsecond}
	calls := 0

	err := p.Do(context.Background(), func() error {
		calls++
		return ledger.ErrConflict
	})
	if !errors.Is(err, ledger.ErrTransientFailure) {
		t.Errorf("expected ErrTransientFailure, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestRetryPolicy_DomainErrorsNotRetried(t *testing.T) {
	p := ledger.RetryPolicy{MaxAttempts: 3, Delay: time.Microsecond}
	calls := 0

	err := p.Do(context.Background(), func() error {
		calls++
		return ledger.ErrInsufficientFunds
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if calls != 1 {
		t.Errorf("domain error should not be retried, got %d calls", calls)
	}
}

func TestRetryPolicy_CancelledContext(t *testing.T) {
	p := ledger.RetryPolicy{MaxAttempts: 3, Delay: time.Microsecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
