package persistence_test

import (
	"SpiritLedger/internal/duel"
	"SpiritLedger/internal/ledger"
	"SpiritLedger/internal/lottery"
	"SpiritLedger/internal/persistence"
	"SpiritLedger/internal/testutil"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func setup(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}
	return db, cleanup
}

func mustCreateAccount(t *testing.T, store *persistence.AccountStore, actor ledger.ActorID, points, pills int64, stage int) ledger.Account {
	t.Helper()
	now := time.Now().UTC()
	a, err := store.Create(context.Background(), ledger.Account{
		Actor:                actor,
		Points:               points,
		Pills:                pills,
		Stage:                stage,
		NextBreakthroughCost: ledger.InitialBreakthroughCost,
		CreatedAt:            now,
		UpdatedAt:            now,
	})
	if err != nil {
		t.Fatalf("create account %d: %v", actor, err)
	}
	return a
}

// ============================================================================
// Test: Account store
// ============================================================================

func TestAccountStore_VersionedUpdate(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()
	store := persistence.NewAccountStore(db)
	ctx := context.Background()

	a := mustCreateAccount(t, store, 1, 100, 0, 0)
	if a.Version != 1 {
		t.Fatalf("fresh version = %d, want 1", a.Version)
	}

	a.Points = 150
	updated, err := store.Update(ctx, a)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Points != 150 || updated.Version != 2 {
		t.Errorf("after update: points=%d version=%d", updated.Points, updated.Version)
	}

	// Writing with the stale version loses
	a.Points = 999
	if _, err := store.Update(ctx, a); !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("stale write: expected ErrConflict, got %v", err)
	}

	got, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Points != 150 {
		t.Errorf("stale write must not land: points = %d", got.Points)
	}
}

func TestAccountStore_NegativeMarks(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()
	store := persistence.NewAccountStore(db)
	ctx := context.Background()

	mustCreateAccount(t, store, 1, -50, 0, 0)
	first := time.Now().UTC().Add(-100 * time.Hour)
	if err := store.MarkNegative(ctx, 1, first); err != nil {
		t.Fatal(err)
	}
	// A second mark keeps the original timestamp
	if err := store.MarkNegative(ctx, 1, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	marks, err := store.ListNegative(ctx, time.Now().UTC().Add(-ledger.EvictionGracePeriod))
	if err != nil {
		t.Fatal(err)
	}
	if len(marks) != 1 || marks[0].Actor != 1 {
		t.Fatalf("marks = %+v, want single mark for actor 1", marks)
	}
	if !marks[0].FirstNegativeAt.Round(time.Second).Equal(first.Round(time.Second)) {
		t.Errorf("first mark must win: got %v, want %v", marks[0].FirstNegativeAt, first)
	}

	if err := store.ClearNegative(ctx, 1); err != nil {
		t.Fatal(err)
	}
	marks, _ = store.ListNegative(ctx, time.Now().UTC())
	if len(marks) != 0 {
		t.Errorf("after clear: marks = %+v", marks)
	}
}

// ============================================================================
// Test: Duel settlement
// ============================================================================

func TestDuelStore_SettleOnce(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()
	accounts := persistence.NewAccountStore(db)
	duels := persistence.NewDuelStore(db)
	ctx := context.Background()

	mustCreateAccount(t, accounts, 1, 300, 4, 5)
	mustCreateAccount(t, accounts, 2, 500, 1, 6)

	now := time.Now().UTC()
	turn := ledger.ActorID(1)
	d, err := duels.Create(ctx, duel.Duel{
		Challenger:   1,
		Challenged:   2,
		Status:       duel.StatusPlaying,
		CurrentTurn:  &turn,
		LastActionAt: now,
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatalf("create duel: %v", err)
	}

	winner := ledger.ActorID(2)
	d.Status = duel.StatusFinished
	d.WinnerID = &winner

	res, err := duels.Settle(ctx, d, 2, 1, false)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.PointsMoved != 300 || res.PillsMoved != 4 {
		t.Errorf("moved %d points %d pills, want 300/4", res.PointsMoved, res.PillsMoved)
	}
	if !res.LoserRegressed {
		t.Error("loser at stage 5 must regress")
	}

	loser, _ := accounts.Get(ctx, 1)
	won, _ := accounts.Get(ctx, 2)
	if loser.Points != 0 || loser.Pills != 0 || loser.Stage != 4 {
		t.Errorf("loser = %+v", loser)
	}
	if won.Points != 800 || won.Pills != 5 {
		t.Errorf("winner = %+v", won)
	}

	// Settling again must refuse and move nothing
	if _, err := duels.Settle(ctx, d, 2, 1, false); !errors.Is(err, ledger.ErrAlreadyResolved) {
		t.Fatalf("second settle: expected ErrAlreadyResolved, got %v", err)
	}
	won2, _ := accounts.Get(ctx, 2)
	if won2.Points != 800 {
		t.Errorf("second settle moved points: %d", won2.Points)
	}
}

func TestDuelStore_SettlePersistsFinalHands(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()
	accounts := persistence.NewAccountStore(db)
	duels := persistence.NewDuelStore(db)
	ctx := context.Background()

	mustCreateAccount(t, accounts, 1, 100, 0, 3)
	mustCreateAccount(t, accounts, 2, 100, 0, 3)

	now := time.Now().UTC()
	turn := ledger.ActorID(1)
	d, err := duels.Create(ctx, duel.Duel{
		Challenger:      1,
		Challenged:      2,
		Status:          duel.StatusPlaying,
		CurrentTurn:     &turn,
		ChallengerCards: []int{10, 9},
		ChallengedCards: []int{8, 7},
		ChallengedStood: true,
		LastActionAt:    now,
		CreatedAt:       now,
	})
	if err != nil {
		t.Fatalf("create duel: %v", err)
	}

	// The challenger draws into a bust; the fatal card exists only on
	// the struct handed to Settle.
	d.ChallengerCards = append(d.ChallengerCards, 5)
	winner := ledger.ActorID(2)
	d.Status = duel.StatusFinished
	d.WinnerID = &winner
	settledAt := now.Add(30 * time.Second)
	d.LastActionAt = settledAt

	if _, err := duels.Settle(ctx, d, 2, 1, false); err != nil {
		t.Fatalf("settle: %v", err)
	}

	got, err := duels.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ChallengerCards) != 3 || got.ChallengerCards[2] != 5 {
		t.Errorf("busting hand not persisted: %v", got.ChallengerCards)
	}
	if !got.ChallengedStood {
		t.Error("stood flag lost in settlement")
	}
	if !got.LastActionAt.Round(time.Second).Equal(settledAt.Round(time.Second)) {
		t.Errorf("last action = %v, want settlement time %v", got.LastActionAt, settledAt)
	}
}

func TestDuelStore_SettleMaintainsNegativeMarks(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()
	accounts := persistence.NewAccountStore(db)
	duels := persistence.NewDuelStore(db)
	ctx := context.Background()

	// Winner in debt, loser still in debt after losing nothing.
	mustCreateAccount(t, accounts, 1, -20, 0, 3)
	mustCreateAccount(t, accounts, 2, -50, 0, 3)
	loserFirst := time.Now().UTC().Add(-10 * time.Hour)
	if err := accounts.MarkNegative(ctx, 1, loserFirst); err != nil {
		t.Fatal(err)
	}
	if err := accounts.MarkNegative(ctx, 2, time.Now().UTC().Add(-5*time.Hour)); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	turn := ledger.ActorID(1)
	d, err := duels.Create(ctx, duel.Duel{
		Challenger:   1,
		Challenged:   2,
		Status:       duel.StatusPlaying,
		CurrentTurn:  &turn,
		LastActionAt: now,
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatal(err)
	}
	winner := ledger.ActorID(2)
	d.Status = duel.StatusFinished
	d.WinnerID = &winner

	// Nothing moves (loser has no positive balance), but a credit of
	// zero still leaves the winner negative; regress the loser only.
	if _, err := duels.Settle(ctx, d, 2, 1, false); err != nil {
		t.Fatalf("settle: %v", err)
	}

	marks, err := accounts.ListNegative(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(marks) != 2 {
		t.Fatalf("both stayed negative, marks = %+v", marks)
	}
	for _, m := range marks {
		if m.Actor == 1 && !m.FirstNegativeAt.Round(time.Second).Equal(loserFirst.Round(time.Second)) {
			t.Errorf("settlement must not reset the loser's first-negative timestamp: %v", m.FirstNegativeAt)
		}
	}

	// A second duel the indebted account wins for real: the credit
	// brings it non-negative and the mark must go with it.
	mustCreateAccount(t, accounts, 3, 300, 0, 3)
	turn2 := ledger.ActorID(2)
	d2, err := duels.Create(ctx, duel.Duel{
		Challenger:   2,
		Challenged:   3,
		Status:       duel.StatusPlaying,
		CurrentTurn:  &turn2,
		LastActionAt: now,
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatal(err)
	}
	winner = 2
	d2.Status = duel.StatusFinished
	d2.WinnerID = &winner
	if _, err := duels.Settle(ctx, d2, 2, 3, false); err != nil {
		t.Fatalf("settle: %v", err)
	}

	recovered, _ := accounts.Get(ctx, 2)
	if recovered.Points != 250 {
		t.Fatalf("winner balance = %d, want 250", recovered.Points)
	}
	marks, err = accounts.ListNegative(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range marks {
		if m.Actor == 2 {
			t.Errorf("recovered account still marked negative: %+v", m)
		}
	}
}

func TestDuelStore_ActiveBetween(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()
	duels := persistence.NewDuelStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	if _, err := duels.Create(ctx, duel.Duel{
		Challenger: 1, Challenged: 2, Status: duel.StatusWaiting,
		LastActionAt: now, CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	// Both orderings count
	for _, pair := range [][2]ledger.ActorID{{1, 2}, {2, 1}} {
		active, err := duels.ActiveBetween(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatal(err)
		}
		if !active {
			t.Errorf("pair %v: expected active", pair)
		}
	}

	active, err := duels.ActiveBetween(ctx, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Error("no duel between 1 and 3")
	}
}

// ============================================================================
// Test: Lottery store
// ============================================================================

func TestLotteryStore_SingleOpenRound(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()
	store := persistence.NewLotteryStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	r, err := store.OpenRound(ctx, lottery.Round{
		Digits: [3]int{1, 2, 3}, Pool: lottery.PoolFloor,
		Status: lottery.StatusOpen, OpenedAt: now,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err = store.OpenRound(ctx, lottery.Round{
		Digits: [3]int{4, 5, 6}, Pool: lottery.PoolFloor,
		Status: lottery.StatusOpen, OpenedAt: now,
	})
	if !errors.Is(err, ledger.ErrAlreadyResolved) {
		t.Fatalf("second open: expected ErrAlreadyResolved, got %v", err)
	}

	if err := store.CloseRound(ctx, r.ID, 123_456, now); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.CloseRound(ctx, r.ID, 1, now); !errors.Is(err, ledger.ErrAlreadyResolved) {
		t.Errorf("double close: expected ErrAlreadyResolved, got %v", err)
	}

	pool, ok, err := store.LastClosedPool(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || pool != 123_456 {
		t.Errorf("last closed pool = %d ok=%v", pool, ok)
	}
}
