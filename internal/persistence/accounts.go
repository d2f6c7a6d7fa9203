package persistence

import (
	"SpiritLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AccountStore is the Postgres implementation of ledger.Store. Writes
// go through a version-checked UPDATE; a zero-row result means another
// writer won and surfaces as ledger.ErrConflict.
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `actor_id, points, pills, stage, next_breakthrough_cost,
	shield_active_on, last_checkin, checkin_streak, version, created_at, updated_at`

func (s *AccountStore) Get(ctx context.Context, actor ledger.ActorID) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE actor_id = $1`, int64(actor))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("actor %d: %w", actor, ledger.ErrNotFound)
	}
	return a, classify(err)
}

func (s *AccountStore) Create(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
		ON CONFLICT (actor_id) DO NOTHING
		RETURNING `+accountColumns,
		int64(a.Actor), a.Points, a.Pills, a.Stage, a.NextBreakthroughCost,
		a.ShieldActiveOn, a.LastCheckin, a.CheckinStreak, a.CreatedAt, a.UpdatedAt)

	created, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Insert hit the conflict clause: a concurrent Create won
		return ledger.Account{}, fmt.Errorf("actor %d already exists: %w", a.Actor, ledger.ErrConflict)
	}
	return created, classify(err)
}

func (s *AccountStore) Update(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET points = $2, pills = $3, stage = $4, next_breakthrough_cost = $5,
		    shield_active_on = $6, last_checkin = $7, checkin_streak = $8,
		    version = version + 1, updated_at = $9
		WHERE actor_id = $1 AND version = $10
		RETURNING `+accountColumns,
		int64(a.Actor), a.Points, a.Pills, a.Stage, a.NextBreakthroughCost,
		a.ShieldActiveOn, a.LastCheckin, a.CheckinStreak, a.UpdatedAt, a.Version)

	updated, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the row vanished or the version moved; disambiguate
		if _, getErr := s.Get(ctx, a.Actor); errors.Is(getErr, ledger.ErrNotFound) {
			return ledger.Account{}, getErr
		}
		return ledger.Account{}, fmt.Errorf("actor %d version %d: %w", a.Actor, a.Version, ledger.ErrConflict)
	}
	return updated, classify(err)
}

func (s *AccountStore) MarkNegative(ctx context.Context, actor ledger.ActorID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO negative_marks (actor_id, first_negative_at)
		VALUES ($1, $2)
		ON CONFLICT (actor_id) DO NOTHING`,
		int64(actor), at)
	return classify(err)
}

func (s *AccountStore) ClearNegative(ctx context.Context, actor ledger.ActorID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM negative_marks WHERE actor_id = $1`, int64(actor))
	return classify(err)
}

func (s *AccountStore) ListNegative(ctx context.Context, before time.Time) ([]ledger.NegativeMark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id, first_negative_at
		FROM negative_marks
		WHERE first_negative_at <= $1
		ORDER BY first_negative_at`, before)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var marks []ledger.NegativeMark
	for rows.Next() {
		var m ledger.NegativeMark
		var actor int64
		if err := rows.Scan(&actor, &m.FirstNegativeAt); err != nil {
			return nil, err
		}
		m.Actor = ledger.ActorID(actor)
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var a ledger.Account
	var actor int64
	err := row.Scan(&actor, &a.Points, &a.Pills, &a.Stage, &a.NextBreakthroughCost,
		&a.ShieldActiveOn, &a.LastCheckin, &a.CheckinStreak, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	a.Actor = ledger.ActorID(actor)
	return a, nil
}
