package persistence

import (
	"SpiritLedger/internal/ledger"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JournalRow is one row in the journal table. journal_id is the
// idempotency key: replays insert under ON CONFLICT DO NOTHING.
type JournalRow struct {
	JournalID   uuid.UUID
	BatchID     uuid.UUID
	Actor       ledger.ActorID
	Kind        string
	PointsDelta int64
	PillsDelta  int64
	StageBefore int
	StageAfter  int
	Reference   string
	CreatedAt   time.Time
}

func rowFromEntry(e ledger.JournalEntry) JournalRow {
	return JournalRow{
		JournalID:   e.JournalID,
		BatchID:     e.BatchID,
		Actor:       e.Actor,
		Kind:        e.Kind,
		PointsDelta: e.PointsDelta,
		PillsDelta:  e.PillsDelta,
		StageBefore: e.StageBefore,
		StageAfter:  e.StageAfter,
		Reference:   e.Reference,
		CreatedAt:   e.CreatedAt,
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// writeJournalBatch inserts rows with a single multi-row INSERT.
func writeJournalBatch(ctx context.Context, db execer, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO journal
		(journal_id, batch_id, actor_id, kind, points_delta, pills_delta, stage_before, stage_after, reference, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*10)
	for i, r := range rows {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			r.JournalID, r.BatchID, int64(r.Actor), r.Kind,
			r.PointsDelta, r.PillsDelta, r.StageBefore, r.StageAfter,
			r.Reference, r.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := db.ExecContext(ctx, query, args...)
	return err
}
