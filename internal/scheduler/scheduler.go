// Package scheduler drives all periodic work from one goroutine. Jobs
// declare either a fixed interval or a daily wall-clock time; the loop
// wakes on a coarse tick and runs whatever is due. A failing job is
// logged and retried, never fatal: interval jobs at their next
// interval, daily jobs on every following tick until they succeed.
package scheduler

import (
	"SpiritLedger/internal/observability"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTick is how often the loop checks for due jobs. It bounds how
// late an interval job can fire.
const DefaultTick = 30 * time.Second

// Job is one unit of periodic work. Exactly one of Every or At must be
// set. At is a UTC wall-clock time in "15:04" form; the job succeeds at
// most once per calendar day at or after that time, with failed runs
// retried on later ticks the same day.
type Job struct {
	Name  string
	Every time.Duration
	At    string
	Run   func(ctx context.Context) error

	lastRun time.Time
	lastDay time.Time
}

// Scheduler owns the job list and the tick loop.
type Scheduler struct {
	jobs    []*Job
	tick    time.Duration
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func New(metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		tick:    DefaultTick,
		metrics: metrics,
		log:     observability.NewLogger("scheduler"),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// SetTick overrides the loop interval.
func (s *Scheduler) SetTick(d time.Duration) { s.tick = d }

// Add registers a job. Not safe to call after Run has started.
func (s *Scheduler) Add(j Job) {
	s.jobs = append(s.jobs, &j)
}

// Run blocks until ctx is cancelled, stepping on every tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Int("jobs", len(s.jobs)).Dur("tick", s.tick).Msg("scheduler started")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Step(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Step(ctx, s.now())
		}
	}
}

// Step runs every job that is due at the given instant. Exposed so
// tests can drive the loop deterministically.
func (s *Scheduler) Step(ctx context.Context, now time.Time) {
	for _, j := range s.jobs {
		if !s.due(j, now) {
			continue
		}
		s.runJob(ctx, j, now)
	}
}

func (s *Scheduler) due(j *Job, now time.Time) bool {
	if j.Every > 0 {
		return j.lastRun.IsZero() || now.Sub(j.lastRun) >= j.Every
	}

	at, err := time.Parse("15:04", j.At)
	if err != nil {
		s.log.Error().Str("job", j.Name).Str("at", j.At).Msg("unparseable daily time, job disabled")
		return false
	}
	day := now.UTC().Truncate(24 * time.Hour)
	due := day.Add(time.Duration(at.Hour())*time.Hour + time.Duration(at.Minute())*time.Minute)
	return !now.UTC().Before(due) && !j.lastDay.Equal(day)
}

func (s *Scheduler) runJob(ctx context.Context, j *Job, now time.Time) {
	start := time.Now()
	err := j.Run(ctx)
	elapsed := time.Since(start)

	j.lastRun = now
	// A daily job is only marked done for the day when it succeeds, so
	// a failure at the wall-clock time is retried on following ticks.
	if err == nil {
		j.lastDay = now.UTC().Truncate(24 * time.Hour)
	}

	status := "ok"
	if err != nil {
		status = "error"
		s.log.Error().Err(err).Str("job", j.Name).Dur("elapsed", elapsed).Msg("job failed")
	} else {
		s.log.Debug().Str("job", j.Name).Dur("elapsed", elapsed).Msg("job finished")
	}
	if s.metrics != nil {
		s.metrics.SchedulerJobRuns.WithLabelValues(j.Name, status).Inc()
		s.metrics.SchedulerJobDuration.WithLabelValues(j.Name).Observe(elapsed.Seconds())
	}
}
