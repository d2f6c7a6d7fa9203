package lottery

import (
	"SpiritLedger/internal/ledger"
	"context"
	"math/rand"
	"sync"
	"time"
)

// Economy constants. Payouts are per wager multiplier; the pool never
// reports a value below the floor.
const (
	UnitCost    = 100
	Tier1Payout = 50_000
	Tier2Payout = 5_000
	PoolFloor   = 100_000
)

// Round status values.
const (
	StatusOpen  = "open"
	StatusDrawn = "drawn"
)

// Round is one betting window. The three winning digits stay secret
// until the draw.
type Round struct {
	ID       int64
	Digits   [3]int
	Pool     int64
	Status   string
	OpenedAt time.Time
	DrawnAt  *time.Time
}

// Wager is one actor's bet within a round.
type Wager struct {
	ID         int64
	RoundID    int64
	Actor      ledger.ActorID
	Digits     [3]int
	Multiplier int
	Cost       int64
	CreatedAt  time.Time
}

// Store is the persistence contract for rounds and wagers. OpenRound
// must refuse to create a second open round; LastClosedPool feeds the
// carry-over when the next round opens.
type Store interface {
	OpenRound(ctx context.Context, r Round) (Round, error)
	OpenedRound(ctx context.Context) (Round, error)
	AddWager(ctx context.Context, w Wager) (Wager, error)
	Wagers(ctx context.Context, roundID int64) ([]Wager, error)
	AddToPool(ctx context.Context, roundID int64, delta int64) (int64, error)
	CloseRound(ctx context.Context, roundID int64, finalPool int64, drawnAt time.Time) error
	LastClosedPool(ctx context.Context) (int64, bool, error)
}

// DigitSource produces the secret winning digits for a round.
type DigitSource interface {
	Digits() [3]int
}

type randDigits struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewDigitSource creates the production digit source.
func NewDigitSource(seed int64) DigitSource {
	return &randDigits{r: rand.New(rand.NewSource(seed))}
}

func (d *randDigits) Digits() [3]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return [3]int{d.r.Intn(10), d.r.Intn(10), d.r.Intn(10)}
}

// matchCount compares wager digits against winning digits position by
// position.
func matchCount(wager, winning [3]int) int {
	n := 0
	for i := 0; i < 3; i++ {
		if wager[i] == winning[i] {
			n++
		}
	}
	return n
}
