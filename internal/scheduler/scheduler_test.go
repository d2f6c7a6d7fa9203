package scheduler_test

import (
	"SpiritLedger/internal/scheduler"
	"context"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// Test: Interval jobs
// ============================================================================

func TestStep_IntervalJobRunsAndWaits(t *testing.T) {
	s := scheduler.New(nil)
	runs := 0
	s.Add(scheduler.Job{
		Name:  "sweep",
		Every: time.Minute,
		Run:   func(context.Context) error { runs++; return nil },
	})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	s.Step(ctx, now)
	if runs != 1 {
		t.Fatalf("first step: runs = %d, want 1", runs)
	}

	s.Step(ctx, now.Add(30*time.Second))
	if runs != 1 {
		t.Errorf("half interval elapsed: runs = %d, want 1", runs)
	}

	s.Step(ctx, now.Add(time.Minute))
	if runs != 2 {
		t.Errorf("full interval elapsed: runs = %d, want 2", runs)
	}
}

func TestStep_FailingJobRetriesNextDue(t *testing.T) {
	s := scheduler.New(nil)
	runs := 0
	s.Add(scheduler.Job{
		Name:  "flaky",
		Every: time.Minute,
		Run:   func(context.Context) error { runs++; return errors.New("boom") },
	})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	s.Step(ctx, now)
	s.Step(ctx, now.Add(time.Second))
	if runs != 1 {
		t.Errorf("failure must not trigger immediate retry: runs = %d", runs)
	}
	s.Step(ctx, now.Add(time.Minute))
	if runs != 2 {
		t.Errorf("failed job runs again on its next due time: runs = %d", runs)
	}
}

// ============================================================================
// Test: Daily jobs
// ============================================================================

func TestStep_DailyJobExactlyOncePerDay(t *testing.T) {
	s := scheduler.New(nil)
	runs := 0
	s.Add(scheduler.Job{
		Name: "draw",
		At:   "22:00",
		Run:  func(context.Context) error { runs++; return nil },
	})
	ctx := context.Background()

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s.Step(ctx, day.Add(21*time.Hour+59*time.Minute))
	if runs != 0 {
		t.Fatalf("before due time: runs = %d, want 0", runs)
	}

	s.Step(ctx, day.Add(22*time.Hour))
	if runs != 1 {
		t.Fatalf("at due time: runs = %d, want 1", runs)
	}

	// Later the same day: no repeat
	s.Step(ctx, day.Add(23*time.Hour))
	s.Step(ctx, day.Add(23*time.Hour+59*time.Minute))
	if runs != 1 {
		t.Errorf("same day again: runs = %d, want 1", runs)
	}

	// Next day, past the due time
	s.Step(ctx, day.AddDate(0, 0, 1).Add(22*time.Hour+5*time.Minute))
	if runs != 2 {
		t.Errorf("next day: runs = %d, want 2", runs)
	}
}

func TestStep_DailyJobFailureRetriedSameDay(t *testing.T) {
	s := scheduler.New(nil)
	runs := 0
	s.Add(scheduler.Job{
		Name: "open",
		At:   "08:00",
		Run: func(context.Context) error {
			runs++
			if runs == 1 {
				return errors.New("db unavailable")
			}
			return nil
		},
	})
	ctx := context.Background()

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// First attempt at 08:00 fails; the day must not be marked done.
	s.Step(ctx, day.Add(8*time.Hour))
	if runs != 1 {
		t.Fatalf("at due time: runs = %d, want 1", runs)
	}

	// The next tick retries and succeeds.
	s.Step(ctx, day.Add(8*time.Hour+30*time.Second))
	if runs != 2 {
		t.Fatalf("tick after failure: runs = %d, want 2 (retry)", runs)
	}

	// After the success, the rest of the day is quiet.
	s.Step(ctx, day.Add(9*time.Hour))
	s.Step(ctx, day.Add(20*time.Hour))
	if runs != 2 {
		t.Errorf("after success: runs = %d, want 2", runs)
	}

	// Next day runs once more.
	s.Step(ctx, day.AddDate(0, 0, 1).Add(8*time.Hour))
	if runs != 3 {
		t.Errorf("next day: runs = %d, want 3", runs)
	}
}

func TestStep_DailyJobLateStartStillFires(t *testing.T) {
	s := scheduler.New(nil)
	runs := 0
	s.Add(scheduler.Job{
		Name: "open",
		At:   "08:00",
		Run:  func(context.Context) error { runs++; return nil },
	})

	// Process started mid-afternoon; the 08:00 job has not run today.
	now := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	s.Step(context.Background(), now)
	if runs != 1 {
		t.Errorf("runs = %d, want 1 (due time already passed today)", runs)
	}
}

func TestStep_InvalidDailyTimeDisablesJob(t *testing.T) {
	s := scheduler.New(nil)
	runs := 0
	s.Add(scheduler.Job{
		Name: "broken",
		At:   "25:99",
		Run:  func(context.Context) error { runs++; return nil },
	})

	s.Step(context.Background(), time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	if runs != 0 {
		t.Errorf("unparseable time must never run: runs = %d", runs)
	}
}
