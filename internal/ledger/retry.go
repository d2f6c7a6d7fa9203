package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds the optimistic-retry loop around every ledger
// mutation. Only ErrConflict is retried; domain errors pass through
// untouched. Exhausting the budget surfaces ErrTransientFailure.
type RetryPolicy struct {
	MaxAttempts int
	// Delay is multiplied by the attempt number, giving a short
	// linearly increasing backoff between attempts.
	Delay time.Duration

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// DefaultRetryPolicy matches the storage contention profile of a chat
// economy: conflicts are rare and short-lived.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 100 * time.Millisecond}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget runs out.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt < attempts {
			sleep(time.Duration(attempt) * p.Delay)
		}
	}

	return fmt.Errorf("%w: %d attempts exhausted: %v", ErrTransientFailure, attempts, err)
}
