package duel

import (
	"SpiritLedger/internal/ledger"
	"SpiritLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Engine orchestrates the duel state machine. Per-duel operations are
// serialized through a keyed mutex; cross-account effects go through
// the store's atomic Settle.
type Engine struct {
	store    Store
	accounts *ledger.Service
	retry    ledger.RetryPolicy
	dice     Dice
	locks    *keyLock
	metrics  *observability.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewEngine(store Store, accounts *ledger.Service, retry ledger.RetryPolicy, dice Dice, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:    store,
		accounts: accounts,
		retry:    retry,
		dice:     dice,
		locks:    newKeyLock(),
		metrics:  metrics,
		log:      observability.NewLogger("duel"),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Outcome describes how a finished duel resolved. WinnerID is nil for
// a drawn or rejected duel; the transfer fields are zero unless a
// settlement ran.
type Outcome struct {
	WinnerID       *ledger.ActorID
	Drawn          bool
	PointsMoved    int64
	PillsMoved     int64
	LoserRegressed bool
	WinnerAdvanced bool
}

// Create opens a challenge in the Waiting state. Both parties must
// exist, be past the un-initiated stage, and not already have an
// unfinished duel between them.
func (e *Engine) Create(ctx context.Context, challenger, challenged ledger.ActorID) (Duel, error) {
	if challenger == challenged {
		return Duel{}, fmt.Errorf("%w: cannot duel yourself", ledger.ErrInvalidParticipant)
	}

	for _, actor := range []ledger.ActorID{challenger, challenged} {
		a, err := e.accounts.GetBalance(ctx, actor)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return Duel{}, fmt.Errorf("%w: actor %d has no account", ledger.ErrInvalidParticipant, actor)
			}
			return Duel{}, err
		}
		if a.Stage <= ledger.StageFloor {
			return Duel{}, fmt.Errorf("%w: actor %d has not begun cultivation", ledger.ErrInvalidParticipant, actor)
		}
	}

	active, err := e.store.ActiveBetween(ctx, challenger, challenged)
	if err != nil {
		return Duel{}, err
	}
	if active {
		return Duel{}, fmt.Errorf("%w: an unfinished duel already exists between %d and %d",
			ledger.ErrInvalidParticipant, challenger, challenged)
	}

	d, err := e.store.Create(ctx, Duel{
		Challenger:   challenger,
		Challenged:   challenged,
		Status:       StatusWaiting,
		LastActionAt: e.now(),
		CreatedAt:    e.now(),
	})
	if err != nil {
		return Duel{}, err
	}

	if e.metrics != nil {
		e.metrics.DuelsCreated.Inc()
	}
	e.log.Info().Int64("duel", d.ID).
		Int64("challenger", int64(challenger)).
		Int64("challenged", int64(challenged)).
		Msg("duel created")
	return d, nil
}

// Accept moves a Waiting duel into Playing: two cards to each side,
// challenger acts first.
func (e *Engine) Accept(ctx context.Context, duelID int64) (Duel, error) {
	unlock := e.locks.lock(duelID)
	defer unlock()

	var out Duel
	err := e.retry.Do(ctx, func() error {
		d, err := e.store.Get(ctx, duelID)
		if err != nil {
			return err
		}
		if d.Status != StatusWaiting {
			return fmt.Errorf("%w: duel %d is %s", ledger.ErrAlreadyResolved, duelID, d.Status)
		}

		d.ChallengerCards = []int{e.dice.DealCard(), e.dice.DealCard()}
		d.ChallengedCards = []int{e.dice.DealCard(), e.dice.DealCard()}
		turn := d.Challenger
		d.CurrentTurn = &turn
		d.Status = StatusPlaying
		d.LastActionAt = e.now()

		out, err = e.store.Update(ctx, d)
		return err
	})
	return out, err
}

// Reject declines a Waiting challenge. No winner, no settlement.
func (e *Engine) Reject(ctx context.Context, duelID int64) (Duel, error) {
	unlock := e.locks.lock(duelID)
	defer unlock()

	var out Duel
	err := e.retry.Do(ctx, func() error {
		d, err := e.store.Get(ctx, duelID)
		if err != nil {
			return err
		}
		if d.Status != StatusWaiting {
			return fmt.Errorf("%w: duel %d is %s", ledger.ErrAlreadyResolved, duelID, d.Status)
		}

		d.Status = StatusFinished
		d.CurrentTurn = nil
		d.LastActionAt = e.now()

		out, err = e.store.Update(ctx, d)
		return err
	})
	if err == nil && e.metrics != nil {
		e.metrics.DuelsSettled.WithLabelValues("rejected").Inc()
	}
	return out, err
}

// Draw deals one card to the acting side. Busting the side's own limit
// finishes the duel immediately with the opponent as winner; otherwise
// the turn passes.
func (e *Engine) Draw(ctx context.Context, duelID int64, actor ledger.ActorID) (Duel, *Outcome, error) {
	unlock := e.locks.lock(duelID)
	defer unlock()

	d, err := e.playingDuelFor(ctx, duelID, actor)
	if err != nil {
		return Duel{}, nil, err
	}

	limits, err := e.bustLimits(ctx, d)
	if err != nil {
		return Duel{}, nil, err
	}

	card := e.dice.DealCard()
	if actor == d.Challenger {
		d.ChallengerCards = append(d.ChallengerCards, card)
	} else {
		d.ChallengedCards = append(d.ChallengedCards, card)
	}
	d.LastActionAt = e.now()

	limit := limits[actor]
	if HandValue(d.cards(actor), limit) > limit {
		winner := d.Opponent(actor)
		outcome, err := e.finishWithWinner(ctx, d, winner, actor)
		if err != nil {
			return Duel{}, nil, err
		}
		final, err := e.store.Get(ctx, duelID)
		if err != nil {
			return Duel{}, nil, err
		}
		return final, outcome, nil
	}

	turn := d.Opponent(actor)
	d.CurrentTurn = &turn
	updated, err := e.updateWithRetry(ctx, d)
	return updated, nil, err
}

// Stand marks the acting side as stood. When both sides have stood the
// duel finishes: higher value within its own limit wins, equal values
// draw with no settlement.
func (e *Engine) Stand(ctx context.Context, duelID int64, actor ledger.ActorID) (Duel, *Outcome, error) {
	unlock := e.locks.lock(duelID)
	defer unlock()

	d, err := e.playingDuelFor(ctx, duelID, actor)
	if err != nil {
		return Duel{}, nil, err
	}

	if actor == d.Challenger {
		d.ChallengerStood = true
	} else {
		d.ChallengedStood = true
	}
	d.LastActionAt = e.now()

	if !d.stood(d.Opponent(actor)) {
		turn := d.Opponent(actor)
		d.CurrentTurn = &turn
		updated, err := e.updateWithRetry(ctx, d)
		return updated, nil, err
	}

	// Both sides stood: compare values against each side's own limit.
	limits, err := e.bustLimits(ctx, d)
	if err != nil {
		return Duel{}, nil, err
	}
	chalLimit := limits[d.Challenger]
	chgdLimit := limits[d.Challenged]
	chalValue := HandValue(d.ChallengerCards, chalLimit)
	chgdValue := HandValue(d.ChallengedCards, chgdLimit)
	chalBust := chalValue > chalLimit
	chgdBust := chgdValue > chgdLimit

	var winner, loser ledger.ActorID
	switch {
	case chalBust && chgdBust, !chalBust && !chgdBust && chalValue == chgdValue:
		return e.finishDrawn(ctx, d)
	case chalBust:
		winner, loser = d.Challenged, d.Challenger
	case chgdBust:
		winner, loser = d.Challenger, d.Challenged
	case chalValue > chgdValue:
		winner, loser = d.Challenger, d.Challenged
	default:
		winner, loser = d.Challenged, d.Challenger
	}

	outcome, err := e.finishWithWinner(ctx, d, winner, loser)
	if err != nil {
		return Duel{}, nil, err
	}
	final, err := e.store.Get(ctx, duelID)
	if err != nil {
		return Duel{}, nil, err
	}
	return final, outcome, nil
}

// SweptDuel is one duel the timeout sweep resolved.
type SweptDuel struct {
	Duel    Duel
	Outcome *Outcome
}

// SweepReport summarizes one timeout sweep.
type SweepReport struct {
	WaitingExpired int
	PlayingExpired int
	Swept          []SweptDuel
}

// SweepTimeouts resolves expired duels: a stale Waiting duel is an
// implicit decline with no settlement; a stale Playing duel is an
// auto-loss for the side holding the turn. Re-running the sweep over an
// already finished duel is a no-op.
func (e *Engine) SweepTimeouts(ctx context.Context) (SweepReport, error) {
	start := e.now()
	var report SweepReport

	expired, err := e.store.ListExpired(ctx,
		start.Add(-WaitingTimeout),
		start.Add(-PlayingTimeout),
	)
	if err != nil {
		return report, err
	}

	for _, candidate := range expired {
		swept, err := e.sweepOne(ctx, candidate.ID)
		if err != nil {
			e.log.Warn().Err(err).Int64("duel", candidate.ID).Msg("sweep failed, will retry next tick")
			continue
		}
		if swept == nil {
			continue
		}
		report.Swept = append(report.Swept, *swept)
		if swept.Outcome != nil && swept.Outcome.WinnerID != nil {
			report.PlayingExpired++
		} else {
			report.WaitingExpired++
		}
	}

	if e.metrics != nil {
		e.metrics.DuelSweepDuration.Observe(time.Since(start).Seconds())
		e.metrics.DuelsSwept.WithLabelValues("waiting").Add(float64(report.WaitingExpired))
		e.metrics.DuelsSwept.WithLabelValues("playing").Add(float64(report.PlayingExpired))
	}
	return report, nil
}

// sweepOne re-checks a single expired candidate under its lock. Returns
// nil when the duel no longer qualifies (already settled, or acted on
// since the listing).
func (e *Engine) sweepOne(ctx context.Context, duelID int64) (*SweptDuel, error) {
	unlock := e.locks.lock(duelID)
	defer unlock()

	d, err := e.store.Get(ctx, duelID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	switch {
	case d.Status == StatusWaiting && now.Sub(d.LastActionAt) > WaitingTimeout:
		d.Status = StatusFinished
		d.CurrentTurn = nil
		d.LastActionAt = now
		updated, err := e.updateWithRetry(ctx, d)
		if err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.DuelsSettled.WithLabelValues("expired").Inc()
		}
		return &SweptDuel{Duel: updated}, nil

	case d.Status == StatusPlaying && now.Sub(d.LastActionAt) > PlayingTimeout && d.CurrentTurn != nil:
		loser := *d.CurrentTurn
		winner := d.Opponent(loser)
		outcome, err := e.finishWithWinner(ctx, d, winner, loser)
		if err != nil {
			if errors.Is(err, ledger.ErrAlreadyResolved) {
				return nil, nil
			}
			return nil, err
		}
		final, err := e.store.Get(ctx, duelID)
		if err != nil {
			return nil, err
		}
		return &SweptDuel{Duel: final, Outcome: outcome}, nil
	}

	return nil, nil
}

// playingDuelFor loads a duel and validates that actor may act now.
func (e *Engine) playingDuelFor(ctx context.Context, duelID int64, actor ledger.ActorID) (Duel, error) {
	d, err := e.store.Get(ctx, duelID)
	if err != nil {
		return Duel{}, err
	}
	if !d.Involves(actor) {
		return Duel{}, fmt.Errorf("%w: actor %d is not part of duel %d", ledger.ErrInvalidParticipant, actor, duelID)
	}
	switch d.Status {
	case StatusFinished:
		return Duel{}, fmt.Errorf("%w: duel %d is finished", ledger.ErrAlreadyResolved, duelID)
	case StatusWaiting:
		return Duel{}, fmt.Errorf("%w: duel %d has not been accepted", ledger.ErrValidation, duelID)
	}
	if d.CurrentTurn == nil || *d.CurrentTurn != actor {
		return Duel{}, fmt.Errorf("%w: duel %d", ledger.ErrWrongTurn, duelID)
	}
	return d, nil
}

// bustLimits computes each side's own limit from the current stages.
func (e *Engine) bustLimits(ctx context.Context, d Duel) (map[ledger.ActorID]int, error) {
	chal, err := e.accounts.GetBalance(ctx, d.Challenger)
	if err != nil {
		return nil, err
	}
	chgd, err := e.accounts.GetBalance(ctx, d.Challenged)
	if err != nil {
		return nil, err
	}
	return map[ledger.ActorID]int{
		d.Challenger: BustLimit(chal.Stage, chgd.Stage),
		d.Challenged: BustLimit(chgd.Stage, chal.Stage),
	}, nil
}

// finishDrawn closes a duel with no winner and no settlement.
func (e *Engine) finishDrawn(ctx context.Context, d Duel) (Duel, *Outcome, error) {
	d.Status = StatusFinished
	d.CurrentTurn = nil
	d.Drawn = true
	d.WinnerID = nil

	updated, err := e.updateWithRetry(ctx, d)
	if err != nil {
		return Duel{}, nil, err
	}
	if e.metrics != nil {
		e.metrics.DuelsSettled.WithLabelValues("drawn").Inc()
	}
	return updated, &Outcome{Drawn: true}, nil
}

// finishWithWinner runs the exactly-once settlement: the duel row, the
// full resource transfer and the stage shifts commit atomically in the
// store. The 50% advance is rolled once, before any attempt.
func (e *Engine) finishWithWinner(ctx context.Context, d Duel, winner, loser ledger.ActorID) (*Outcome, error) {
	d.Status = StatusFinished
	d.CurrentTurn = nil
	// Settlement time, not the stale timestamp a timed-out duel carries.
	d.LastActionAt = e.now()
	w := winner
	d.WinnerID = &w

	winnerAdvances := e.dice.AdvanceWinner()

	var res SettleResult
	err := e.retry.Do(ctx, func() error {
		var err error
		res, err = e.store.Settle(ctx, d, winner, loser, winnerAdvances)
		return err
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.DuelsSettled.WithLabelValues("won").Inc()
	}
	e.log.Info().Int64("duel", d.ID).
		Int64("winner", int64(winner)).
		Int64("loser", int64(loser)).
		Int64("points", res.PointsMoved).
		Int64("pills", res.PillsMoved).
		Msg("duel settled")

	return &Outcome{
		WinnerID:       &w,
		PointsMoved:    res.PointsMoved,
		PillsMoved:     res.PillsMoved,
		LoserRegressed: res.LoserRegressed,
		WinnerAdvanced: res.WinnerAdvanced,
	}, nil
}

// updateWithRetry persists a duel row under the shared retry policy.
func (e *Engine) updateWithRetry(ctx context.Context, d Duel) (Duel, error) {
	var out Duel
	err := e.retry.Do(ctx, func() error {
		var err error
		out, err = e.store.Update(ctx, d)
		return err
	})
	return out, err
}
