package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Journal entry kinds. One kind per mutation source so the audit trail
// can be filtered without parsing references.
const (
	JournalAdjustPoints = "adjust_points"
	JournalAdjustPills  = "adjust_pills"
	JournalStage        = "stage"
	JournalCheckin      = "checkin"
	JournalBreakthrough = "breakthrough"
	JournalSettlement   = "duel_settlement"
	JournalWager        = "lottery_wager"
	JournalPayout       = "lottery_payout"
)

// JournalEntry is one append-only audit row describing a resource
// movement. Deltas are relative to the pre-mutation account.
type JournalEntry struct {
	JournalID   uuid.UUID
	BatchID     uuid.UUID
	Actor       ActorID
	Kind        string
	PointsDelta int64
	PillsDelta  int64
	StageBefore int
	StageAfter  int
	Reference   string
	CreatedAt   time.Time
}

// JournalSink receives entries after a mutation commits. Implementations
// must not block the caller; the ledger treats recording as fire-and-forget.
type JournalSink interface {
	Record(e JournalEntry)
}

// NopJournal discards entries. Used when no audit pipeline is wired.
type NopJournal struct{}

func (NopJournal) Record(JournalEntry) {}
