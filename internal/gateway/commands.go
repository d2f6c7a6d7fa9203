// Package gateway is the NATS-facing shell. It subscribes to command
// subjects, parses and validates payloads, pushes them through the
// admission controller into the engines, and publishes outcome events
// for downstream consumers.
package gateway

import (
	"SpiritLedger/internal/ledger"
	"time"
)

// Kind identifies a command. The wire subject is
// spirit.cmd.{group}.{action}; the kind is {group}.{action}.
type Kind string

const (
	KindCreateAccount  Kind = "ledger.create_account"
	KindAdjustPoints   Kind = "ledger.adjust_points"
	KindAdjustPills    Kind = "ledger.adjust_pills"
	KindSetStage       Kind = "ledger.set_stage"
	KindBreakthrough   Kind = "ledger.breakthrough"
	KindCheckin        Kind = "ledger.checkin"
	KindSetShield      Kind = "ledger.set_shield"
	KindBulkContribute Kind = "ledger.bulk_contribute"

	KindDuelCreate Kind = "duel.create"
	KindDuelAccept Kind = "duel.accept"
	KindDuelReject Kind = "duel.reject"
	KindDuelDraw   Kind = "duel.draw"
	KindDuelStand  Kind = "duel.stand"

	KindLotteryWager Kind = "lottery.wager"
)

// Contribution is one line of a bulk adjustment.
type Contribution struct {
	Actor ledger.ActorID
	Delta int64
}

// Command is a fully parsed command ready for dispatch. Only the fields
// relevant to Kind are populated.
type Command struct {
	Kind  Kind
	Actor ledger.ActorID

	// ledger
	Delta         int64
	Stage         int
	ShieldDay     time.Time
	Contributions []Contribution

	// duel
	Opponent ledger.ActorID
	DuelID   int64

	// lottery
	Digits     [3]int
	Multiplier int
}
