package persistence

import (
	"SpiritLedger/internal/duel"
	"SpiritLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DuelStore is the Postgres implementation of duel.Store. Settlement
// runs as one transaction over the duel row, both account rows and the
// journal, with the duel row locked first so a concurrent sweep and a
// player action cannot both settle.
type DuelStore struct {
	db *sql.DB
}

func NewDuelStore(db *sql.DB) *DuelStore {
	return &DuelStore{db: db}
}

const duelColumns = `id, challenger, challenged, status, current_turn,
	challenger_cards, challenged_cards, challenger_stood, challenged_stood,
	winner_id, drawn, last_action_at, created_at, version`

func (s *DuelStore) Create(ctx context.Context, d duel.Duel) (duel.Duel, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO duels (challenger, challenged, status, current_turn,
			challenger_cards, challenged_cards, challenger_stood, challenged_stood,
			winner_id, drawn, last_action_at, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
		RETURNING `+duelColumns,
		int64(d.Challenger), int64(d.Challenged), string(d.Status), actorPtr(d.CurrentTurn),
		pq.Array(cardsToInt64(d.ChallengerCards)), pq.Array(cardsToInt64(d.ChallengedCards)),
		d.ChallengerStood, d.ChallengedStood,
		actorPtr(d.WinnerID), d.Drawn, d.LastActionAt, d.CreatedAt)
	created, err := scanDuel(row)
	return created, classify(err)
}

func (s *DuelStore) Get(ctx context.Context, id int64) (duel.Duel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+duelColumns+` FROM duels WHERE id = $1`, id)
	d, err := scanDuel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return duel.Duel{}, fmt.Errorf("duel %d: %w", id, ledger.ErrNotFound)
	}
	return d, classify(err)
}

func (s *DuelStore) Update(ctx context.Context, d duel.Duel) (duel.Duel, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE duels
		SET status = $2, current_turn = $3,
		    challenger_cards = $4, challenged_cards = $5,
		    challenger_stood = $6, challenged_stood = $7,
		    winner_id = $8, drawn = $9, last_action_at = $10,
		    version = version + 1
		WHERE id = $1 AND version = $11
		RETURNING `+duelColumns,
		d.ID, string(d.Status), actorPtr(d.CurrentTurn),
		pq.Array(cardsToInt64(d.ChallengerCards)), pq.Array(cardsToInt64(d.ChallengedCards)),
		d.ChallengerStood, d.ChallengedStood,
		actorPtr(d.WinnerID), d.Drawn, d.LastActionAt, d.Version)

	updated, err := scanDuel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return duel.Duel{}, fmt.Errorf("duel %d version %d: %w", d.ID, d.Version, ledger.ErrConflict)
	}
	return updated, classify(err)
}

func (s *DuelStore) ActiveBetween(ctx context.Context, a, b ledger.ActorID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM duels
			WHERE status IN ('waiting', 'playing')
			  AND ((challenger = $1 AND challenged = $2)
			    OR (challenger = $2 AND challenged = $1))
		)`, int64(a), int64(b)).Scan(&exists)
	return exists, classify(err)
}

func (s *DuelStore) ListExpired(ctx context.Context, waitingBefore, playingBefore time.Time) ([]duel.Duel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+duelColumns+` FROM duels
		WHERE (status = 'waiting' AND last_action_at < $1)
		   OR (status = 'playing' AND last_action_at < $2)
		ORDER BY last_action_at`, waitingBefore, playingBefore)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []duel.Duel
	for rows.Next() {
		d, err := scanDuel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Settle finishes the duel and moves the loser's positive balances to
// the winner in a single transaction. The duel row is locked first; a
// row already finished fails with ledger.ErrAlreadyResolved, which is
// how a racing sweep and a racing player action stay single-shot.
func (s *DuelStore) Settle(ctx context.Context, d duel.Duel, winner, loser ledger.ActorID, winnerAdvances bool) (duel.SettleResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return duel.SettleResult{}, classify(err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM duels WHERE id = $1 FOR UPDATE`, d.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return duel.SettleResult{}, fmt.Errorf("duel %d: %w", d.ID, ledger.ErrNotFound)
	}
	if err != nil {
		return duel.SettleResult{}, classify(err)
	}
	if duel.Status(status) == duel.StatusFinished {
		return duel.SettleResult{}, fmt.Errorf("duel %d: %w", d.ID, ledger.ErrAlreadyResolved)
	}

	// Lock both accounts in a fixed order to avoid deadlocking against
	// another settlement touching the same pair.
	locked := make(map[ledger.ActorID]ledger.Account, 2)
	first, second := winner, loser
	if second < first {
		first, second = second, first
	}
	for _, actor := range []ledger.ActorID{first, second} {
		a, err := lockAccount(ctx, tx, actor)
		if err != nil {
			return duel.SettleResult{}, err
		}
		locked[actor] = a
	}
	loserAcct, winnerAcct := locked[loser], locked[winner]

	var res duel.SettleResult
	if loserAcct.Points > 0 {
		res.PointsMoved = loserAcct.Points
	}
	if loserAcct.Pills > 0 {
		res.PillsMoved = loserAcct.Pills
	}
	res.LoserRegressed = loserAcct.Stage > ledger.StageFloor && !loserAcct.Ascended()
	res.WinnerAdvanced = winnerAdvances && winnerAcct.Stage < ledger.MaxStage

	// The engine stamps d.LastActionAt with the settlement time before
	// calling Settle; the same instant dates the journal rows.
	now := d.LastActionAt

	loserStage := loserAcct.Stage
	if res.LoserRegressed {
		loserStage--
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET points = points - $2, pills = pills - $3, stage = $4,
		    version = version + 1, updated_at = $5
		WHERE actor_id = $1`,
		int64(loser), res.PointsMoved, res.PillsMoved, loserStage, now); err != nil {
		return duel.SettleResult{}, classify(err)
	}

	winnerStage := winnerAcct.Stage
	if res.WinnerAdvanced {
		winnerStage++
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET points = points + $2, pills = pills + $3, stage = $4,
		    version = version + 1, updated_at = $5
		WHERE actor_id = $1`,
		int64(winner), res.PointsMoved, res.PillsMoved, winnerStage, now); err != nil {
		return duel.SettleResult{}, classify(err)
	}

	// Negative markers follow the points transition, same as the
	// ledger's own mutation path.
	marks := []struct {
		actor  ledger.ActorID
		points int64
	}{
		{loser, loserAcct.Points - res.PointsMoved},
		{winner, winnerAcct.Points + res.PointsMoved},
	}
	for _, m := range marks {
		if m.points < 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO negative_marks (actor_id, first_negative_at)
				VALUES ($1, $2)
				ON CONFLICT (actor_id) DO NOTHING`,
				int64(m.actor), now)
		} else {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM negative_marks WHERE actor_id = $1`, int64(m.actor))
		}
		if err != nil {
			return duel.SettleResult{}, classify(err)
		}
	}

	// The full final state is written: the hand that busted and the
	// stood flags are part of the duel's history.
	if _, err := tx.ExecContext(ctx, `
		UPDATE duels
		SET status = $2, current_turn = NULL,
		    challenger_cards = $3, challenged_cards = $4,
		    challenger_stood = $5, challenged_stood = $6,
		    winner_id = $7, drawn = $8, last_action_at = $9,
		    version = version + 1
		WHERE id = $1`,
		d.ID, string(duel.StatusFinished),
		pq.Array(cardsToInt64(d.ChallengerCards)), pq.Array(cardsToInt64(d.ChallengedCards)),
		d.ChallengerStood, d.ChallengedStood,
		actorPtr(d.WinnerID), d.Drawn, now); err != nil {
		return duel.SettleResult{}, classify(err)
	}

	batchID := uuid.New()
	ref := fmt.Sprintf("duel:%d", d.ID)
	journalRows := []JournalRow{
		{
			JournalID:   uuid.New(),
			BatchID:     batchID,
			Actor:       loser,
			Kind:        ledger.JournalSettlement,
			PointsDelta: -res.PointsMoved,
			PillsDelta:  -res.PillsMoved,
			StageBefore: loserAcct.Stage,
			StageAfter:  loserStage,
			Reference:   ref,
			CreatedAt:   now,
		},
		{
			JournalID:   uuid.New(),
			BatchID:     batchID,
			Actor:       winner,
			Kind:        ledger.JournalSettlement,
			PointsDelta: res.PointsMoved,
			PillsDelta:  res.PillsMoved,
			StageBefore: winnerAcct.Stage,
			StageAfter:  winnerStage,
			Reference:   ref,
			CreatedAt:   now,
		},
	}
	if err := writeJournalBatch(ctx, tx, journalRows); err != nil {
		return duel.SettleResult{}, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return duel.SettleResult{}, classify(err)
	}
	return res, nil
}

// lockAccount reads one account row under FOR UPDATE.
func lockAccount(ctx context.Context, tx *sql.Tx, actor ledger.ActorID) (ledger.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE actor_id = $1 FOR UPDATE`, int64(actor))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("actor %d: %w", actor, ledger.ErrNotFound)
	}
	return a, classify(err)
}

func scanDuel(row rowScanner) (duel.Duel, error) {
	var d duel.Duel
	var challenger, challenged int64
	var status string
	var turn, winner sql.NullInt64
	var challengerCards, challengedCards pq.Int64Array

	err := row.Scan(&d.ID, &challenger, &challenged, &status, &turn,
		&challengerCards, &challengedCards, &d.ChallengerStood, &d.ChallengedStood,
		&winner, &d.Drawn, &d.LastActionAt, &d.CreatedAt, &d.Version)
	if err != nil {
		return duel.Duel{}, err
	}

	d.Challenger = ledger.ActorID(challenger)
	d.Challenged = ledger.ActorID(challenged)
	d.Status = duel.Status(status)
	if turn.Valid {
		t := ledger.ActorID(turn.Int64)
		d.CurrentTurn = &t
	}
	if winner.Valid {
		w := ledger.ActorID(winner.Int64)
		d.WinnerID = &w
	}
	d.ChallengerCards = int64ToCards(challengerCards)
	d.ChallengedCards = int64ToCards(challengedCards)
	return d, nil
}

func actorPtr(a *ledger.ActorID) interface{} {
	if a == nil {
		return nil
	}
	return int64(*a)
}

func cardsToInt64(cards []int) []int64 {
	out := make([]int64, len(cards))
	for i, c := range cards {
		out[i] = int64(c)
	}
	return out
}

func int64ToCards(arr pq.Int64Array) []int {
	if len(arr) == 0 {
		return nil
	}
	out := make([]int, len(arr))
	for i, c := range arr {
		out[i] = int(c)
	}
	return out
}
