package persistence

import (
	"SpiritLedger/internal/ledger"
	"SpiritLedger/internal/lottery"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LotteryStore is the Postgres implementation of lottery.Store. A
// partial unique index on status keeps at most one open round.
type LotteryStore struct {
	db *sql.DB
}

func NewLotteryStore(db *sql.DB) *LotteryStore {
	return &LotteryStore{db: db}
}

const roundColumns = `id, digit_1, digit_2, digit_3, pool, status, opened_at, drawn_at`

func (s *LotteryStore) OpenRound(ctx context.Context, r lottery.Round) (lottery.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lottery_rounds (digit_1, digit_2, digit_3, pool, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+roundColumns,
		r.Digits[0], r.Digits[1], r.Digits[2], r.Pool, r.Status, r.OpenedAt)
	created, err := scanRound(row)
	if err != nil && isUniqueViolation(err) {
		return lottery.Round{}, fmt.Errorf("a round is already open: %w", ledger.ErrAlreadyResolved)
	}
	return created, classify(err)
}

func (s *LotteryStore) OpenedRound(ctx context.Context) (lottery.Round, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM lottery_rounds WHERE status = 'open'`)
	r, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lottery.Round{}, fmt.Errorf("no open round: %w", ledger.ErrNotFound)
	}
	return r, classify(err)
}

func (s *LotteryStore) AddWager(ctx context.Context, w lottery.Wager) (lottery.Wager, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO lottery_wagers (round_id, actor_id, digit_1, digit_2, digit_3, multiplier, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		w.RoundID, int64(w.Actor), w.Digits[0], w.Digits[1], w.Digits[2],
		w.Multiplier, w.Cost, w.CreatedAt).Scan(&w.ID)
	return w, classify(err)
}

func (s *LotteryStore) Wagers(ctx context.Context, roundID int64) ([]lottery.Wager, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, actor_id, digit_1, digit_2, digit_3, multiplier, cost, created_at
		FROM lottery_wagers WHERE round_id = $1 ORDER BY id`, roundID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []lottery.Wager
	for rows.Next() {
		var w lottery.Wager
		var actor int64
		if err := rows.Scan(&w.ID, &w.RoundID, &actor,
			&w.Digits[0], &w.Digits[1], &w.Digits[2], &w.Multiplier, &w.Cost, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Actor = ledger.ActorID(actor)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *LotteryStore) AddToPool(ctx context.Context, roundID int64, delta int64) (int64, error) {
	var pool int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE lottery_rounds SET pool = pool + $2 WHERE id = $1
		RETURNING pool`, roundID, delta).Scan(&pool)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("round %d: %w", roundID, ledger.ErrNotFound)
	}
	return pool, classify(err)
}

func (s *LotteryStore) CloseRound(ctx context.Context, roundID int64, finalPool int64, drawnAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lottery_rounds
		SET status = 'drawn', pool = $2, drawn_at = $3
		WHERE id = $1 AND status = 'open'`,
		roundID, finalPool, drawnAt)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("round %d not open: %w", roundID, ledger.ErrAlreadyResolved)
	}
	return nil
}

func (s *LotteryStore) LastClosedPool(ctx context.Context) (int64, bool, error) {
	var pool int64
	err := s.db.QueryRowContext(ctx, `
		SELECT pool FROM lottery_rounds
		WHERE status = 'drawn'
		ORDER BY drawn_at DESC LIMIT 1`).Scan(&pool)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err)
	}
	return pool, true, nil
}

func scanRound(row rowScanner) (lottery.Round, error) {
	var r lottery.Round
	var drawnAt sql.NullTime
	err := row.Scan(&r.ID, &r.Digits[0], &r.Digits[1], &r.Digits[2],
		&r.Pool, &r.Status, &r.OpenedAt, &drawnAt)
	if err != nil {
		return lottery.Round{}, err
	}
	if drawnAt.Valid {
		t := drawnAt.Time
		r.DrawnAt = &t
	}
	return r, nil
}
