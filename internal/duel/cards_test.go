package duel_test

import (
	"SpiritLedger/internal/duel"
	"testing"
)

// ============================================================================
// Test: Hand scoring
// ============================================================================

func TestHandValue_FaceCards(t *testing.T) {
	// J + Q = 10 + 10
	if got := duel.HandValue([]int{11, 12}, 21); got != 20 {
		t.Errorf("J+Q = %d, want 20", got)
	}
	// K + 9 = 19
	if got := duel.HandValue([]int{13, 9}, 21); got != 19 {
		t.Errorf("K+9 = %d, want 19", got)
	}
}

func TestHandValue_AceReduction(t *testing.T) {
	// A counts 11 while safe
	if got := duel.HandValue([]int{1, 5}, 21); got != 16 {
		t.Errorf("A+5 = %d, want 16", got)
	}
	// A+K+5 would be 26; ace drops to 1 -> 16
	if got := duel.HandValue([]int{1, 13, 5}, 21); got != 16 {
		t.Errorf("A+K+5 = %d, want 16", got)
	}
	// Two aces: 11+11+9=31 -> 21 (one ace reduced)
	if got := duel.HandValue([]int{1, 1, 9}, 21); got != 21 {
		t.Errorf("A+A+9 = %d, want 21", got)
	}
	// Aces reduce against the side's own raised limit, not 21
	if got := duel.HandValue([]int{1, 12}, 23); got != 21 {
		t.Errorf("A+Q at limit 23 = %d, want 21", got)
	}
}

func TestHandValue_BustStaysBust(t *testing.T) {
	if got := duel.HandValue([]int{10, 10, 5}, 21); got != 25 {
		t.Errorf("10+10+5 = %d, want 25 (no aces to reduce)", got)
	}
}

// ============================================================================
// Test: Bust limit adjustment
// ============================================================================

func TestBustLimit_NoGap(t *testing.T) {
	if got := duel.BustLimit(4, 5); got != duel.BaseBustLimit {
		t.Errorf("same major level: limit = %d, want %d", got, duel.BaseBustLimit)
	}
}

func TestBustLimit_OneMajorLevelGapUnchanged(t *testing.T) {
	// Stage 0 (major 0) vs stage 3 (major 1): gap of one, no adjustment
	if got := duel.BustLimit(0, 3); got != duel.BaseBustLimit {
		t.Errorf("one-level gap: limit = %d, want %d", got, duel.BaseBustLimit)
	}
}

func TestBustLimit_DisadvantagedSideRaised(t *testing.T) {
	// Stage 1 (major 0) vs stage 9 (major 3): gap 3 raises own limit by 2
	if got := duel.BustLimit(1, 9); got != duel.BaseBustLimit+2 {
		t.Errorf("gap 3: limit = %d, want %d", got, duel.BaseBustLimit+2)
	}
	// The stronger side keeps the base limit
	if got := duel.BustLimit(9, 1); got != duel.BaseBustLimit {
		t.Errorf("advantaged side: limit = %d, want %d", got, duel.BaseBustLimit)
	}
}
