package ledger

import (
	"context"
	"time"
)

// ActorID is the opaque identity handed to the core by the external
// messaging layer. The core never interprets it.
type ActorID int64

// Account is the per-actor resource record. Points are signed and may
// go negative through explicit adjustments; pills are floored at zero
// by the ledger itself; stage indexes the progression table with the
// ascended sentinel one past the end.
type Account struct {
	Actor                ActorID
	Points               int64
	Pills                int64
	Stage                int
	NextBreakthroughCost int64
	ShieldActiveOn       *time.Time
	LastCheckin          *time.Time
	CheckinStreak        int
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Ascended reports whether the account sits in the terminal state.
func (a Account) Ascended() bool {
	return a.Stage >= StageAscended
}

// NegativeMark records the first moment an account's points crossed
// below zero. External policy (eviction after a grace period) consumes
// these; the ledger only maintains them.
type NegativeMark struct {
	Actor           ActorID
	FirstNegativeAt time.Time
}

// Store is the persistence contract for accounts. Update must compare
// the version it was given against the stored row and return ErrConflict
// (wrapped or bare) when another writer got there first; the service
// retries around that.
type Store interface {
	Get(ctx context.Context, actor ActorID) (Account, error)
	Create(ctx context.Context, a Account) (Account, error)
	Update(ctx context.Context, a Account) (Account, error)

	MarkNegative(ctx context.Context, actor ActorID, at time.Time) error
	ClearNegative(ctx context.Context, actor ActorID) error
	ListNegative(ctx context.Context, before time.Time) ([]NegativeMark, error)
}
