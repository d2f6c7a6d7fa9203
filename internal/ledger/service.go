package ledger

import (
	"SpiritLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EvictionGracePeriod is how long an account may stay below zero before
// it shows up as an eviction candidate.
const EvictionGracePeriod = 72 * time.Hour

// Check-in rewards: a flat base plus a small streak bonus, capped so a
// long streak does not dominate the economy.
const (
	checkinBaseReward     = 100
	checkinStreakBonus    = 10
	checkinStreakBonusCap = 7
)

// Service owns all account mutations. Every write runs inside the
// bounded optimistic-retry loop; no caller ever holds a lock across an
// externally observable wait.
type Service struct {
	store   Store
	retry   RetryPolicy
	journal JournalSink
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(store Store, retry RetryPolicy, journal JournalSink, metrics *observability.Metrics) *Service {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Service{
		store:   store,
		retry:   retry,
		journal: journal,
		metrics: metrics,
		log:     observability.NewLogger("ledger"),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateAccount returns the existing account or creates one with the
// default starting resources. Safe under concurrent first interactions.
func (s *Service) CreateAccount(ctx context.Context, actor ActorID) (Account, error) {
	var out Account
	err := s.retry.Do(ctx, func() error {
		a, err := s.store.Get(ctx, actor)
		if err == nil {
			out = a
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		created, err := s.store.Create(ctx, Account{
			Actor:                actor,
			Stage:                StageFloor,
			NextBreakthroughCost: InitialBreakthroughCost,
			CreatedAt:            s.now(),
			UpdatedAt:            s.now(),
		})
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

// GetBalance returns the account record for an actor.
func (s *Service) GetBalance(ctx context.Context, actor ActorID) (Account, error) {
	return s.store.Get(ctx, actor)
}

// AdjustPoints applies a signed delta and returns the new balance.
// The result may go negative; callers needing non-negativity pre-check
// or use Debit. The first non-negative to negative transition is
// timestamped for the eviction policy; the reverse transition clears it.
func (s *Service) AdjustPoints(ctx context.Context, actor ActorID, delta int64) (int64, error) {
	a, err := s.adjust(ctx, actor, JournalAdjustPoints, "", delta, 0)
	if err != nil {
		return 0, err
	}
	return a.Points, nil
}

// AdjustPills applies a signed delta to pills, flooring the result at
// zero rather than failing.
func (s *Service) AdjustPills(ctx context.Context, actor ActorID, delta int64) (int64, error) {
	a, err := s.adjust(ctx, actor, JournalAdjustPills, "", 0, delta)
	if err != nil {
		return 0, err
	}
	return a.Pills, nil
}

// Debit removes amount points, failing with ErrInsufficientFunds when
// the balance is short. Used by the engines for wagers and fees.
func (s *Service) Debit(ctx context.Context, actor ActorID, amount int64, kind, ref string) (Account, error) {
	if amount <= 0 {
		return Account{}, fmt.Errorf("%w: debit amount must be positive, got %d", ErrValidation, amount)
	}
	return s.mutate(ctx, actor, kind, ref, func(a *Account) error {
		if a.Points < amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, a.Points, amount)
		}
		a.Points -= amount
		return nil
	})
}

// Credit adds amount points under the given journal kind.
func (s *Service) Credit(ctx context.Context, actor ActorID, amount int64, kind, ref string) (Account, error) {
	if amount <= 0 {
		return Account{}, fmt.Errorf("%w: credit amount must be positive, got %d", ErrValidation, amount)
	}
	return s.mutate(ctx, actor, kind, ref, func(a *Account) error {
		a.Points += amount
		return nil
	})
}

// SetStage forces the stage to an arbitrary valid value.
func (s *Service) SetStage(ctx context.Context, actor ActorID, stage int) error {
	if !ValidStage(stage) {
		return fmt.Errorf("%w: stage %d out of range [0, %d]", ErrValidation, stage, StageAscended)
	}
	_, err := s.mutate(ctx, actor, JournalStage, "", func(a *Account) error {
		a.Stage = stage
		return nil
	})
	return err
}

// TryAdvanceStage moves the account up one stage, capped at the highest
// non-ascended stage. Returns false without error when already capped.
func (s *Service) TryAdvanceStage(ctx context.Context, actor ActorID) (Account, bool, error) {
	advanced := false
	a, err := s.mutate(ctx, actor, JournalStage, "", func(a *Account) error {
		advanced = false
		if a.Stage >= MaxStage {
			return nil
		}
		a.Stage++
		advanced = true
		return nil
	})
	return a, advanced, err
}

// TryRegressStage moves the account down one stage. The floor and the
// ascended state are both exempt. Returns false when nothing changed.
func (s *Service) TryRegressStage(ctx context.Context, actor ActorID) (Account, bool, error) {
	regressed := false
	a, err := s.mutate(ctx, actor, JournalStage, "", func(a *Account) error {
		regressed = false
		if a.Stage <= StageFloor || a.Ascended() {
			return nil
		}
		a.Stage--
		regressed = true
		return nil
	})
	return a, regressed, err
}

// BreakthroughResult describes a completed breakthrough.
type BreakthroughResult struct {
	Account      Account
	PointsSpent  int64
	PillsSpent   int64
	CrossedRealm bool
}

// AttemptBreakthrough spends the account's current breakthrough cost to
// advance one stage. Crossing a realm boundary additionally consumes
// pills; a failed precondition consumes nothing. Breaking through from
// the highest table stage is the only route into the ascended state.
func (s *Service) AttemptBreakthrough(ctx context.Context, actor ActorID) (BreakthroughResult, error) {
	var res BreakthroughResult
	a, err := s.mutate(ctx, actor, JournalBreakthrough, "", func(a *Account) error {
		res = BreakthroughResult{}
		if a.Ascended() {
			return fmt.Errorf("%w: already ascended", ErrAlreadyResolved)
		}

		cost := a.NextBreakthroughCost
		if a.Points < cost {
			return fmt.Errorf("%w: breakthrough needs %d points, have %d", ErrInsufficientFunds, cost, a.Points)
		}
		pills := BreakthroughPills(a.Stage)
		if a.Pills < pills {
			return fmt.Errorf("%w: breakthrough needs %d pills, have %d", ErrInsufficientFunds, pills, a.Pills)
		}

		a.Points -= cost
		a.Pills -= pills
		a.Stage++
		if a.Ascended() {
			a.NextBreakthroughCost = 0
		} else {
			a.NextBreakthroughCost = BreakthroughCost(a.Stage)
		}

		res.PointsSpent = cost
		res.PillsSpent = pills
		res.CrossedRealm = pills > 0
		return nil
	})
	res.Account = a
	return res, err
}

// CheckInResult describes a successful daily check-in.
type CheckInResult struct {
	Account Account
	Reward  int64
	Streak  int
}

// CheckIn grants the daily reward once per calendar day (UTC). A gap of
// more than one day resets the streak.
func (s *Service) CheckIn(ctx context.Context, actor ActorID) (CheckInResult, error) {
	var res CheckInResult
	today := s.now().UTC().Truncate(24 * time.Hour)

	a, err := s.mutate(ctx, actor, JournalCheckin, "", func(a *Account) error {
		res = CheckInResult{}
		if a.LastCheckin != nil {
			last := a.LastCheckin.UTC().Truncate(24 * time.Hour)
			if last.Equal(today) {
				return fmt.Errorf("%w: already checked in today", ErrAlreadyResolved)
			}
			if last.Equal(today.AddDate(0, 0, -1)) {
				a.CheckinStreak++
			} else {
				a.CheckinStreak = 1
			}
		} else {
			a.CheckinStreak = 1
		}

		bonusDays := a.CheckinStreak - 1
		if bonusDays > checkinStreakBonusCap {
			bonusDays = checkinStreakBonusCap
		}
		reward := int64(checkinBaseReward + bonusDays*checkinStreakBonus)

		a.Points += reward
		t := today
		a.LastCheckin = &t

		res.Reward = reward
		res.Streak = a.CheckinStreak
		return nil
	})
	res.Account = a
	return res, err
}

// SetShield marks the account as protected for the given day.
func (s *Service) SetShield(ctx context.Context, actor ActorID, day time.Time) error {
	d := day.UTC().Truncate(24 * time.Hour)
	_, err := s.mutate(ctx, actor, JournalStage, "shield", func(a *Account) error {
		a.ShieldActiveOn = &d
		return nil
	})
	return err
}

// ListEvictionCandidates returns accounts that have been negative for
// longer than the grace period.
func (s *Service) ListEvictionCandidates(ctx context.Context) ([]NegativeMark, error) {
	return s.store.ListNegative(ctx, s.now().Add(-EvictionGracePeriod))
}

// ClearNegativeMark drops the marker after external enforcement ran.
func (s *Service) ClearNegativeMark(ctx context.Context, actor ActorID) error {
	return s.store.ClearNegative(ctx, actor)
}

// adjust is the shared path for the two plain delta operations.
func (s *Service) adjust(ctx context.Context, actor ActorID, kind, ref string, pointsDelta, pillsDelta int64) (Account, error) {
	return s.mutate(ctx, actor, kind, ref, func(a *Account) error {
		a.Points += pointsDelta
		a.Pills += pillsDelta
		if a.Pills < 0 {
			a.Pills = 0
		}
		return nil
	})
}

// mutate runs a read-modify-write cycle under the retry policy, then
// maintains the negative marker and emits the journal entry.
func (s *Service) mutate(ctx context.Context, actor ActorID, kind, ref string, fn func(a *Account) error) (Account, error) {
	var out Account
	attempt := 0

	err := s.retry.Do(ctx, func() error {
		attempt++
		if attempt > 1 && s.metrics != nil {
			s.metrics.LedgerRetries.Inc()
		}

		before, err := s.store.Get(ctx, actor)
		if err != nil {
			return err
		}

		next := before
		if err := fn(&next); err != nil {
			return err
		}
		next.UpdatedAt = s.now()

		updated, err := s.store.Update(ctx, next)
		if err != nil {
			if errors.Is(err, ErrConflict) && s.metrics != nil {
				s.metrics.LedgerConflicts.Inc()
			}
			return err
		}
		out = updated

		s.maintainNegativeMark(ctx, before, updated)
		s.journal.Record(JournalEntry{
			JournalID:   uuid.New(),
			BatchID:     uuid.New(),
			Actor:       actor,
			Kind:        kind,
			PointsDelta: updated.Points - before.Points,
			PillsDelta:  updated.Pills - before.Pills,
			StageBefore: before.Stage,
			StageAfter:  updated.Stage,
			Reference:   ref,
			CreatedAt:   updated.UpdatedAt,
		})
		return nil
	})

	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.LedgerMutations.WithLabelValues(kind, outcome).Inc()
	}
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

// maintainNegativeMark timestamps the first drop below zero and clears
// the marker once the balance recovers. Marker upkeep is best-effort;
// a failure here must not fail the committed mutation.
func (s *Service) maintainNegativeMark(ctx context.Context, before, after Account) {
	switch {
	case before.Points >= 0 && after.Points < 0:
		if err := s.store.MarkNegative(ctx, after.Actor, after.UpdatedAt); err != nil {
			s.log.Warn().Err(err).Int64("actor", int64(after.Actor)).Msg("record negative mark failed")
		}
	case before.Points < 0 && after.Points >= 0:
		if err := s.store.ClearNegative(ctx, after.Actor); err != nil {
			s.log.Warn().Err(err).Int64("actor", int64(after.Actor)).Msg("clear negative mark failed")
		}
	}
}
