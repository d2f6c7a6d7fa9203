package duel

import (
	"SpiritLedger/internal/ledger"
	"math/rand"
	"sync"
)

// Card ranks run 1..13 (ace..king); suits are irrelevant to scoring.
const (
	rankAce  = 1
	rankKing = 13
)

// BaseBustLimit is the unadjusted bust limit for both sides.
const BaseBustLimit = 21

// Dice is the injected randomness source: card dealing and the winner's
// 50% stage-advance roll.
type Dice interface {
	DealCard() int
	AdvanceWinner() bool
}

// randDice is the production Dice backed by math/rand. Cards are dealt
// with replacement, so every rank stays uniformly likely.
type randDice struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewDice creates a production randomness source.
func NewDice(seed int64) Dice {
	return &randDice{r: rand.New(rand.NewSource(seed))}
}

func (d *randDice) DealCard() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.r.Intn(rankKing) + 1
}

func (d *randDice) AdvanceWinner() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.r.Intn(2) == 0
}

// HandValue scores a hand against a bust limit. Number cards count face
// value, court cards count 10, aces count 11 but drop to 1 one at a
// time while the total would bust.
func HandValue(cards []int, limit int) int {
	total := 0
	aces := 0
	for _, rank := range cards {
		switch {
		case rank == rankAce:
			total += 11
			aces++
		case rank > 10:
			total += 10
		default:
			total += rank
		}
	}
	for total > limit && aces > 0 {
		total -= 10
		aces--
	}
	return total
}

// BustLimit returns a side's own bust limit. A side trailing the
// opponent by two or more major levels gets its limit raised by the
// gap minus one; a one-level gap changes nothing.
func BustLimit(ownStage, opponentStage int) int {
	gap := ledger.MajorLevel(opponentStage) - ledger.MajorLevel(ownStage)
	if gap >= 2 {
		return BaseBustLimit + gap - 1
	}
	return BaseBustLimit
}
