package gateway

import (
	"SpiritLedger/internal/ledger"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// subjectPrefix is stripped before mapping a subject to a Kind.
const subjectPrefix = "spirit.cmd."

// KindFromSubject maps a command subject to its Kind.
func KindFromSubject(subject string) (Kind, error) {
	rest, ok := strings.CutPrefix(subject, subjectPrefix)
	if !ok {
		return "", fmt.Errorf("%w: subject %q outside command space", ledger.ErrValidation, subject)
	}
	switch k := Kind(rest); k {
	case KindCreateAccount, KindAdjustPoints, KindAdjustPills, KindSetStage,
		KindBreakthrough, KindCheckin, KindSetShield, KindBulkContribute,
		KindDuelCreate, KindDuelAccept, KindDuelReject, KindDuelDraw, KindDuelStand,
		KindLotteryWager:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown command subject %q", ledger.ErrValidation, subject)
}

// ParseCommand converts a raw message into a typed Command. Field names
// use snake_case to match upstream producers.
func ParseCommand(subject string, data []byte) (Command, error) {
	kind, err := KindFromSubject(subject)
	if err != nil {
		return Command{}, err
	}

	switch kind {
	case KindAdjustPoints, KindAdjustPills:
		return parseAdjust(kind, data)
	case KindSetStage:
		return parseSetStage(data)
	case KindSetShield:
		return parseSetShield(data)
	case KindBulkContribute:
		return parseBulkContribute(data)
	case KindDuelCreate:
		return parseDuelCreate(data)
	case KindDuelAccept, KindDuelReject, KindDuelDraw, KindDuelStand:
		return parseDuelAction(kind, data)
	case KindLotteryWager:
		return parseWager(data)
	default:
		// create_account, breakthrough, checkin carry only the actor
		return parseActorOnly(kind, data)
	}
}

type actorJSON struct {
	ActorID int64 `json:"actor_id"`
}

func parseActorOnly(kind Kind, data []byte) (Command, error) {
	var j actorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("%w: parse %s: %v", ledger.ErrValidation, kind, err)
	}
	if j.ActorID == 0 {
		return Command{}, fmt.Errorf("%w: %s requires actor_id", ledger.ErrValidation, kind)
	}
	return Command{Kind: kind, Actor: ledger.ActorID(j.ActorID)}, nil
}

type adjustJSON struct {
	ActorID int64 `json:"actor_id"`
	Delta   int64 `json:"delta"`
}

func parseAdjust(kind Kind, data []byte) (Command, error) {
	var j adjustJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("%w: parse %s: %v", ledger.ErrValidation, kind, err)
	}
	if j.ActorID == 0 {
		return Command{}, fmt.Errorf("%w: %s requires actor_id", ledger.ErrValidation, kind)
	}
	return Command{Kind: kind, Actor: ledger.ActorID(j.ActorID), Delta: j.Delta}, nil
}

type setStageJSON struct {
	ActorID int64 `json:"actor_id"`
	Stage   *int  `json:"stage"`
}

func parseSetStage(data []byte) (Command, error) {
	var j setStageJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("%w: parse set_stage: %v", ledger.ErrValidation, err)
	}
	if j.ActorID == 0 || j.Stage == nil {
		return Command{}, fmt.Errorf("%w: set_stage requires actor_id and stage", ledger.ErrValidation)
	}
	return Command{Kind: KindSetStage, Actor: ledger.ActorID(j.ActorID), Stage: *j.Stage}, nil
}

type setShieldJSON struct {
	ActorID int64  `json:"actor_id"`
	Day     string `json:"day"`
}

func parseSetShield(data []byte) (Command, error) {
	var j setShieldJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("%w: parse set_shield: %v", ledger.ErrValidation, err)
	}
	if j.ActorID == 0 {
		return Command{}, fmt.Errorf("%w: set_shield requires actor_id", ledger.ErrValidation)
	}
	day, err := time.Parse("2006-01-02", j.Day)
	if err != nil {
		return Command{}, fmt.Errorf("%w: parse day %q: %v", ledger.ErrValidation, j.Day, err)
	}
	return Command{Kind: KindSetShield, Actor: ledger.ActorID(j.ActorID), ShieldDay: day}, nil
}

type contributionJSON struct {
	ActorID int64 `json:"actor_id"`
	Delta   int64 `json:"delta"`
}

type bulkContributeJSON struct {
	ActorID       int64              `json:"actor_id"`
	Contributions []contributionJSON `json:"contributions"`
}

func parseBulkContribute(data []byte) (Command, error) {
	var j bulkContributeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("%w: parse bulk_contribute: %v", ledger.ErrValidation, err)
	}
	if len(j.Contributions) == 0 {
		return Command{}, fmt.Errorf("%w: bulk_contribute requires contributions", ledger.ErrValidation)
	}
	cmd := Command{Kind: KindBulkContribute, Actor: ledger.ActorID(j.ActorID)}
	for _, c := range j.Contributions {
		if c.ActorID == 0 {
			return Command{}, fmt.Errorf("%w: contribution missing actor_id", ledger.ErrValidation)
		}
		cmd.Contributions = append(cmd.Contributions, Contribution{
			Actor: ledger.ActorID(c.ActorID),
			Delta: c.Delta,
		})
	}
	return cmd, nil
}

type duelCreateJSON struct {
	ActorID    int64 `json:"actor_id"`
	OpponentID int64 `json:"opponent_id"`
}

func parseDuelCreate(data []byte) (Command, error) {
	var j duelCreateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("%w: parse duel.create: %v", ledger.ErrValidation, err)
	}
	if j.ActorID == 0 || j.OpponentID == 0 {
		return Command{}, fmt.Errorf("%w: duel.create requires actor_id and opponent_id", ledger.ErrValidation)
	}
	return Command{
		Kind:     KindDuelCreate,
		Actor:    ledger.ActorID(j.ActorID),
		Opponent: ledger.ActorID(j.OpponentID),
	}, nil
}

type duelActionJSON struct {
	ActorID int64 `json:"actor_id"`
	DuelID  int64 `json:"duel_id"`
}

func parseDuelAction(kind Kind, data []byte) (Command, error) {
	var j duelActionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("%w: parse %s: %v", ledger.ErrValidation, kind, err)
	}
	if j.ActorID == 0 || j.DuelID == 0 {
		return Command{}, fmt.Errorf("%w: %s requires actor_id and duel_id", ledger.ErrValidation, kind)
	}
	return Command{Kind: kind, Actor: ledger.ActorID(j.ActorID), DuelID: j.DuelID}, nil
}

type wagerJSON struct {
	ActorID    int64 `json:"actor_id"`
	Digits     []int `json:"digits"`
	Multiplier int   `json:"multiplier"`
}

func parseWager(data []byte) (Command, error) {
	var j wagerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("%w: parse lottery.wager: %v", ledger.ErrValidation, err)
	}
	if j.ActorID == 0 {
		return Command{}, fmt.Errorf("%w: lottery.wager requires actor_id", ledger.ErrValidation)
	}
	if len(j.Digits) != 3 {
		return Command{}, fmt.Errorf("%w: lottery.wager requires exactly 3 digits, got %d", ledger.ErrValidation, len(j.Digits))
	}
	return Command{
		Kind:       KindLotteryWager,
		Actor:      ledger.ActorID(j.ActorID),
		Digits:     [3]int{j.Digits[0], j.Digits[1], j.Digits[2]},
		Multiplier: j.Multiplier,
	}, nil
}
