package ledger_test

import (
	"SpiritLedger/internal/ledger"
	"testing"
)

// ============================================================================
// Test: Stage table
// ============================================================================

func TestValidStage_Bounds(t *testing.T) {
	if ledger.ValidStage(-1) {
		t.Error("-1 should be invalid")
	}
	if !ledger.ValidStage(0) {
		t.Error("0 should be valid")
	}
	if !ledger.ValidStage(ledger.MaxStage) {
		t.Error("max stage should be valid")
	}
	if !ledger.ValidStage(ledger.StageAscended) {
		t.Error("ascended sentinel should be valid")
	}
	if ledger.ValidStage(ledger.StageAscended + 1) {
		t.Error("beyond ascended should be invalid")
	}
}

func TestMajorLevel(t *testing.T) {
	cases := []struct {
		stage, want int
	}{
		{0, 0}, {1, 0}, {2, 0},
		{3, 1}, {5, 1},
		{6, 2},
		{ledger.MaxStage, 10},
		{ledger.StageAscended, 11},
	}
	for _, c := range cases {
		if got := ledger.MajorLevel(c.stage); got != c.want {
			t.Errorf("MajorLevel(%d) = %d, want %d", c.stage, got, c.want)
		}
	}
}

func TestStageName(t *testing.T) {
	if got := ledger.StageName(0); got != "Qi Refining (Early)" {
		t.Errorf("stage 0: got %q", got)
	}
	if got := ledger.StageName(4); got != "Foundation Establishment (Middle)" {
		t.Errorf("stage 4: got %q", got)
	}
	if got := ledger.StageName(ledger.StageAscended); got != "Ascended" {
		t.Errorf("ascended: got %q", got)
	}
}

// ============================================================================
// Test: Breakthrough economics
// ============================================================================

func TestBreakthroughCost_GrowsWithStage(t *testing.T) {
	// Stage 0: (200 + 200) * 1.25^0 * 1.0 = 400
	if got := ledger.BreakthroughCost(0); got != 400 {
		t.Errorf("cost(0) = %d, want 400", got)
	}
	// Stage 1: (200 + 200) * 1.25^0 * 1.5 = 600
	if got := ledger.BreakthroughCost(1); got != 600 {
		t.Errorf("cost(1) = %d, want 600", got)
	}
	// Stage 3: (200 + 400) * 1.25^1 * 1.0 = 750
	if got := ledger.BreakthroughCost(3); got != 750 {
		t.Errorf("cost(3) = %d, want 750", got)
	}

	prev := int64(0)
	for major := 0; major < 11; major++ {
		c := ledger.BreakthroughCost(major * 3)
		if c <= prev {
			t.Errorf("cost at major %d (%d) should exceed previous realm start (%d)", major, c, prev)
		}
		prev = c
	}
}

func TestBreakthroughPills_RealmBoundariesOnly(t *testing.T) {
	if got := ledger.BreakthroughPills(0); got != 0 {
		t.Errorf("pills(0) = %d, want 0", got)
	}
	if got := ledger.BreakthroughPills(1); got != 0 {
		t.Errorf("pills(1) = %d, want 0", got)
	}
	// 2 -> 3 crosses into realm 1: 2^1 = 2 pills
	if got := ledger.BreakthroughPills(2); got != 2 {
		t.Errorf("pills(2) = %d, want 2", got)
	}
	// 5 -> 6 crosses into realm 2: 2^2 = 4 pills
	if got := ledger.BreakthroughPills(5); got != 4 {
		t.Errorf("pills(5) = %d, want 4", got)
	}
	// 32 -> 33 crosses into ascension: 2^11 pills
	if got := ledger.BreakthroughPills(ledger.MaxStage); got != 2048 {
		t.Errorf("pills(max) = %d, want 2048", got)
	}
}
