package duel

import (
	"SpiritLedger/internal/ledger"
	"context"
	"time"
)

// Status is the duel lifecycle phase.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Timeout policy, enforced by the scheduler sweep only.
const (
	WaitingTimeout = 60 * time.Second
	PlayingTimeout = 120 * time.Second
)

// Duel is one two-party card contest. Exactly one side holds the turn
// while playing; once finished, settlement has run exactly once.
type Duel struct {
	ID              int64
	Challenger      ledger.ActorID
	Challenged      ledger.ActorID
	Status          Status
	CurrentTurn     *ledger.ActorID
	ChallengerCards []int
	ChallengedCards []int
	ChallengerStood bool
	ChallengedStood bool
	WinnerID        *ledger.ActorID
	Drawn           bool
	LastActionAt    time.Time
	CreatedAt       time.Time
	Version         int64
}

// Involves reports whether actor is one of the two parties.
func (d Duel) Involves(actor ledger.ActorID) bool {
	return actor == d.Challenger || actor == d.Challenged
}

// Opponent returns the other party.
func (d Duel) Opponent(actor ledger.ActorID) ledger.ActorID {
	if actor == d.Challenger {
		return d.Challenged
	}
	return d.Challenger
}

// cards returns the hand belonging to actor.
func (d Duel) cards(actor ledger.ActorID) []int {
	if actor == d.Challenger {
		return d.ChallengerCards
	}
	return d.ChallengedCards
}

// stood reports whether actor has stood.
func (d Duel) stood(actor ledger.ActorID) bool {
	if actor == d.Challenger {
		return d.ChallengerStood
	}
	return d.ChallengedStood
}

// SettleResult reports what an atomic settlement actually moved.
type SettleResult struct {
	PointsMoved    int64
	PillsMoved     int64
	LoserRegressed bool
	WinnerAdvanced bool
}

// Store is the persistence contract for duels. Update is
// version-checked and returns ledger.ErrConflict on a lost race.
// Settle must atomically write the finished duel row, transfer the
// loser's full (non-negative) balances to the winner, apply the stage
// shifts, and append the settlement journal rows: either all of it
// commits or none of it does. A second Settle on the same duel must
// fail with ledger.ErrAlreadyResolved.
type Store interface {
	Create(ctx context.Context, d Duel) (Duel, error)
	Get(ctx context.Context, id int64) (Duel, error)
	Update(ctx context.Context, d Duel) (Duel, error)
	ActiveBetween(ctx context.Context, a, b ledger.ActorID) (bool, error)
	ListExpired(ctx context.Context, waitingBefore, playingBefore time.Time) ([]Duel, error)
	Settle(ctx context.Context, d Duel, winner, loser ledger.ActorID, winnerAdvances bool) (SettleResult, error)
}
