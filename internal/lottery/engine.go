package lottery

import (
	"SpiritLedger/internal/ledger"
	"SpiritLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Engine runs the pooled-wager lottery. Every operation that touches
// the open round holds roundMu, so a draw always sees the complete
// wager set: a wager is either evaluated by the draw or rejected
// because the round closed, never debited and silently dropped.
type Engine struct {
	store    Store
	accounts *ledger.Service
	digits   DigitSource
	metrics  *observability.Metrics
	log      zerolog.Logger
	now      func() time.Time

	roundMu chanMutex
}

// chanMutex is a mutex that can be held across store calls without
// blocking forever on a cancelled context.
type chanMutex chan struct{}

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() { <-m }

func NewEngine(store Store, accounts *ledger.Service, digits DigitSource, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:    store,
		accounts: accounts,
		digits:   digits,
		metrics:  metrics,
		log:      observability.NewLogger("lottery"),
		now:      time.Now,
		roundMu:  make(chanMutex, 1),
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// OpenRound starts a new betting window. The pool carries over from the
// last closed round, floored at PoolFloor. Fails when a round is
// already open; the scheduler enforces one round at a time.
func (e *Engine) OpenRound(ctx context.Context) (Round, error) {
	if err := e.roundMu.lock(ctx); err != nil {
		return Round{}, err
	}
	defer e.roundMu.unlock()

	if _, err := e.store.OpenedRound(ctx); err == nil {
		return Round{}, fmt.Errorf("%w: a round is already open", ledger.ErrAlreadyResolved)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return Round{}, err
	}

	pool := int64(PoolFloor)
	if last, ok, err := e.store.LastClosedPool(ctx); err != nil {
		return Round{}, err
	} else if ok && last > pool {
		pool = last
	}

	r, err := e.store.OpenRound(ctx, Round{
		Digits:   e.digits.Digits(),
		Pool:     pool,
		Status:   StatusOpen,
		OpenedAt: e.now(),
	})
	if err != nil {
		return Round{}, err
	}

	if e.metrics != nil {
		e.metrics.LotteryPool.Set(float64(r.Pool))
	}
	e.log.Info().Int64("round", r.ID).Int64("pool", r.Pool).Msg("lottery round opened")
	return r, nil
}

// PlaceWager validates and records a bet, debiting the actor
// immediately and growing the pool by the cost. The round lock keeps
// the wager out of the window between a draw reading the wager set and
// closing the round.
func (e *Engine) PlaceWager(ctx context.Context, actor ledger.ActorID, digits [3]int, multiplier int) (Wager, error) {
	for _, d := range digits {
		if d < 0 || d > 9 {
			return Wager{}, fmt.Errorf("%w: digit %d out of range 0-9", ledger.ErrValidation, d)
		}
	}
	if multiplier <= 0 {
		return Wager{}, fmt.Errorf("%w: multiplier must be positive, got %d", ledger.ErrValidation, multiplier)
	}

	if err := e.roundMu.lock(ctx); err != nil {
		return Wager{}, err
	}
	defer e.roundMu.unlock()

	round, err := e.store.OpenedRound(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Wager{}, fmt.Errorf("%w: no open round", ledger.ErrAlreadyResolved)
		}
		return Wager{}, err
	}

	cost := int64(multiplier) * UnitCost
	ref := fmt.Sprintf("round:%d", round.ID)
	if _, err := e.accounts.Debit(ctx, actor, cost, ledger.JournalWager, ref); err != nil {
		return Wager{}, err
	}

	w, err := e.store.AddWager(ctx, Wager{
		RoundID:    round.ID,
		Actor:      actor,
		Digits:     digits,
		Multiplier: multiplier,
		Cost:       cost,
		CreatedAt:  e.now(),
	})
	if err != nil {
		// The debit already committed; give it back rather than
		// leave the actor paying for a wager that was never recorded.
		if _, refundErr := e.accounts.Credit(ctx, actor, cost, ledger.JournalWager, ref+":refund"); refundErr != nil {
			e.log.Error().Err(refundErr).Int64("actor", int64(actor)).Int64("cost", cost).
				Msg("wager refund failed, balance inconsistent")
		}
		return Wager{}, err
	}

	pool, err := e.store.AddToPool(ctx, round.ID, cost)
	if err != nil {
		return Wager{}, err
	}

	if e.metrics != nil {
		e.metrics.LotteryWagers.Inc()
		e.metrics.LotteryPool.Set(float64(pool))
	}
	return w, nil
}

// WagerResult is one wager's outcome in a draw.
type WagerResult struct {
	Wager   Wager
	Matches int
	Payout  int64
}

// DrawResult summarizes a completed draw.
type DrawResult struct {
	Round     Round
	Digits    [3]int
	Results   []WagerResult
	TotalPaid int64
	Pool      int64
}

// Draw resolves the open round: exactly 3 positional matches pay the
// tier-1 rate, exactly 2 pay tier-2, fewer pay nothing. The pool drops
// by the total paid, clamped at the floor, and all wagers are consumed.
func (e *Engine) Draw(ctx context.Context) (DrawResult, error) {
	if err := e.roundMu.lock(ctx); err != nil {
		return DrawResult{}, err
	}
	defer e.roundMu.unlock()

	round, err := e.store.OpenedRound(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return DrawResult{}, fmt.Errorf("%w: no open round to draw", ledger.ErrAlreadyResolved)
		}
		return DrawResult{}, err
	}

	wagers, err := e.store.Wagers(ctx, round.ID)
	if err != nil {
		return DrawResult{}, err
	}

	res := DrawResult{Round: round, Digits: round.Digits}
	ref := fmt.Sprintf("round:%d", round.ID)
	for _, w := range wagers {
		matches := matchCount(w.Digits, round.Digits)
		payout := int64(0)
		switch matches {
		case 3:
			payout = int64(w.Multiplier) * Tier1Payout
		case 2:
			payout = int64(w.Multiplier) * Tier2Payout
		}

		if payout > 0 {
			if _, err := e.accounts.Credit(ctx, w.Actor, payout, ledger.JournalPayout, ref); err != nil {
				e.log.Error().Err(err).Int64("actor", int64(w.Actor)).Int64("payout", payout).
					Msg("lottery payout failed")
				continue
			}
			res.TotalPaid += payout
			if e.metrics != nil {
				tier := "tier1"
				if matches == 2 {
					tier = "tier2"
				}
				e.metrics.LotteryPayouts.WithLabelValues(tier).Inc()
			}
		}
		res.Results = append(res.Results, WagerResult{Wager: w, Matches: matches, Payout: payout})
	}

	pool := round.Pool - res.TotalPaid
	if pool < PoolFloor {
		pool = PoolFloor
	}
	res.Pool = pool

	if err := e.store.CloseRound(ctx, round.ID, pool, e.now()); err != nil {
		return DrawResult{}, err
	}

	if e.metrics != nil {
		e.metrics.LotteryPool.Set(float64(pool))
	}
	e.log.Info().Int64("round", round.ID).
		Int("wagers", len(wagers)).
		Int64("paid", res.TotalPaid).
		Int64("pool", pool).
		Msg("lottery drawn")
	return res, nil
}

// PoolInfo reports the pool without exposing the secret digits.
type PoolInfo struct {
	Pool int64
	Open bool
}

// GetPoolInfo returns the current pool and whether a round is open.
func (e *Engine) GetPoolInfo(ctx context.Context) (PoolInfo, error) {
	round, err := e.store.OpenedRound(ctx)
	if err == nil {
		return PoolInfo{Pool: round.Pool, Open: true}, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return PoolInfo{}, err
	}

	last, ok, err := e.store.LastClosedPool(ctx)
	if err != nil {
		return PoolInfo{}, err
	}
	if !ok || last < PoolFloor {
		last = PoolFloor
	}
	return PoolInfo{Pool: last, Open: false}, nil
}
