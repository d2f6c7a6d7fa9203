// Package query serves read-only views over the persisted tables. It
// never mutates; all writes stay behind the engines.
package query

import (
	"SpiritLedger/internal/ledger"
	"context"
	"database/sql"
	"fmt"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Leaderboard returns the top accounts ordered by stage, then points.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id, points, pills, stage
		FROM accounts
		ORDER BY stage DESC, points DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.ActorID, &e.Points, &e.Pills, &e.Stage); err != nil {
			return nil, err
		}
		e.Rank = len(out) + 1
		e.StageName = ledger.StageName(e.Stage)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DuelHistory returns an actor's finished duels, newest first.
func (s *Service) DuelHistory(ctx context.Context, actor ledger.ActorID, limit int) ([]DuelRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, challenger, challenged, winner_id, drawn, last_action_at
		FROM duels
		WHERE status = 'finished' AND (challenger = $1 OR challenged = $1)
		ORDER BY last_action_at DESC
		LIMIT $2`, int64(actor), limit)
	if err != nil {
		return nil, fmt.Errorf("duel history: %w", err)
	}
	defer rows.Close()

	var out []DuelRecord
	for rows.Next() {
		var r DuelRecord
		var winner sql.NullInt64
		if err := rows.Scan(&r.DuelID, &r.Challenger, &r.Challenged, &winner, &r.Drawn, &r.FinishedAt); err != nil {
			return nil, err
		}
		if winner.Valid {
			w := winner.Int64
			r.WinnerID = &w
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RoundHistory returns drawn lottery rounds, newest first. Winning
// digits are public once the round is drawn.
func (s *Service) RoundHistory(ctx context.Context, limit int) ([]RoundRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.digit_1, r.digit_2, r.digit_3, r.pool, r.opened_at, r.drawn_at,
		       (SELECT COUNT(*) FROM lottery_wagers w WHERE w.round_id = r.id)
		FROM lottery_rounds r
		WHERE r.status = 'drawn'
		ORDER BY r.drawn_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("round history: %w", err)
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var r RoundRecord
		if err := rows.Scan(&r.RoundID, &r.Digits[0], &r.Digits[1], &r.Digits[2],
			&r.Pool, &r.OpenedAt, &r.DrawnAt, &r.Wagers); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActorJournal returns an actor's recent ledger movements.
func (s *Service) ActorJournal(ctx context.Context, actor ledger.ActorID, limit int) ([]JournalRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, points_delta, pills_delta, reference, created_at
		FROM journal
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, int64(actor), limit)
	if err != nil {
		return nil, fmt.Errorf("actor journal: %w", err)
	}
	defer rows.Close()

	var out []JournalRecord
	for rows.Next() {
		var r JournalRecord
		if err := rows.Scan(&r.Kind, &r.PointsDelta, &r.PillsDelta, &r.Reference, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
