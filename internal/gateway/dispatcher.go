package gateway

import (
	"SpiritLedger/internal/admission"
	"SpiritLedger/internal/duel"
	"SpiritLedger/internal/ledger"
	"SpiritLedger/internal/lottery"
	"SpiritLedger/internal/observability"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// EventPublisher receives outcome notifications after a command commits.
type EventPublisher interface {
	Publish(kind string, actor ledger.ActorID, payload interface{})
}

// Dispatcher routes parsed commands to the engines behind the admission
// controller.
type Dispatcher struct {
	accounts *ledger.Service
	duels    *duel.Engine
	rounds   *lottery.Engine
	admit    *admission.Controller
	events   EventPublisher
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewDispatcher(
	accounts *ledger.Service,
	duels *duel.Engine,
	rounds *lottery.Engine,
	admit *admission.Controller,
	events EventPublisher,
	metrics *observability.Metrics,
) *Dispatcher {
	return &Dispatcher{
		accounts: accounts,
		duels:    duels,
		rounds:   rounds,
		admit:    admit,
		events:   events,
		metrics:  metrics,
		log:      observability.NewLogger("dispatcher"),
	}
}

// Dispatch runs one command. Every command passes the per-actor rate
// gate; bulk contributions additionally hold one of the actor's slots
// for their whole run.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	if ok, retryAfter := d.admit.TryAdmit(cmd.Actor); !ok {
		// The hint goes out as an event so the external layer can tell
		// the actor when to come back; the Nak redelivers the command.
		d.notify("admission_denied", cmd.Actor, map[string]interface{}{
			"kind":           string(cmd.Kind),
			"retry_after_ms": retryAfter.Milliseconds(),
		})
		return fmt.Errorf("%w: retry after %s", ledger.ErrAdmissionDenied, retryAfter)
	}

	err := d.run(ctx, cmd)

	if d.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		d.metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), status).Inc()
	}
	return err
}

func (d *Dispatcher) run(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindCreateAccount:
		a, err := d.accounts.CreateAccount(ctx, cmd.Actor)
		if err != nil {
			return err
		}
		d.notify("account_created", cmd.Actor, map[string]interface{}{"stage": a.Stage})
		return nil

	case KindAdjustPoints:
		points, err := d.accounts.AdjustPoints(ctx, cmd.Actor, cmd.Delta)
		if err != nil {
			return err
		}
		d.notify("points_adjusted", cmd.Actor, map[string]interface{}{"delta": cmd.Delta, "points": points})
		return nil

	case KindAdjustPills:
		pills, err := d.accounts.AdjustPills(ctx, cmd.Actor, cmd.Delta)
		if err != nil {
			return err
		}
		d.notify("pills_adjusted", cmd.Actor, map[string]interface{}{"delta": cmd.Delta, "pills": pills})
		return nil

	case KindSetStage:
		return d.accounts.SetStage(ctx, cmd.Actor, cmd.Stage)

	case KindBreakthrough:
		res, err := d.accounts.AttemptBreakthrough(ctx, cmd.Actor)
		if err != nil {
			return err
		}
		d.notify("breakthrough", cmd.Actor, map[string]interface{}{
			"stage":         res.Account.Stage,
			"stage_name":    ledger.StageName(res.Account.Stage),
			"points_spent":  res.PointsSpent,
			"pills_spent":   res.PillsSpent,
			"crossed_realm": res.CrossedRealm,
		})
		return nil

	case KindCheckin:
		res, err := d.accounts.CheckIn(ctx, cmd.Actor)
		if err != nil {
			return err
		}
		d.notify("checkin", cmd.Actor, map[string]interface{}{"reward": res.Reward, "streak": res.Streak})
		return nil

	case KindSetShield:
		return d.accounts.SetShield(ctx, cmd.Actor, cmd.ShieldDay)

	case KindBulkContribute:
		return d.bulkContribute(ctx, cmd)

	case KindDuelCreate:
		created, err := d.duels.Create(ctx, cmd.Actor, cmd.Opponent)
		if err != nil {
			return err
		}
		d.notify("duel_created", cmd.Actor, map[string]interface{}{"duel_id": created.ID, "opponent": cmd.Opponent})
		return nil

	case KindDuelAccept:
		_, err := d.duels.Accept(ctx, cmd.DuelID)
		return err

	case KindDuelReject:
		_, err := d.duels.Reject(ctx, cmd.DuelID)
		return err

	case KindDuelDraw:
		dd, outcome, err := d.duels.Draw(ctx, cmd.DuelID, cmd.Actor)
		if err != nil {
			return err
		}
		d.notifySettled(dd, outcome)
		return nil

	case KindDuelStand:
		dd, outcome, err := d.duels.Stand(ctx, cmd.DuelID, cmd.Actor)
		if err != nil {
			return err
		}
		d.notifySettled(dd, outcome)
		return nil

	case KindLotteryWager:
		w, err := d.rounds.PlaceWager(ctx, cmd.Actor, cmd.Digits, cmd.Multiplier)
		if err != nil {
			return err
		}
		d.notify("wager_placed", cmd.Actor, map[string]interface{}{"round_id": w.RoundID, "cost": w.Cost})
		return nil
	}

	return fmt.Errorf("%w: unhandled command kind %q", ledger.ErrValidation, cmd.Kind)
}

// bulkContribute applies many deltas as one heavy operation under one
// of the submitting actor's slots. Lines fail independently; the first
// store error aborts the rest.
func (d *Dispatcher) bulkContribute(ctx context.Context, cmd Command) error {
	if err := d.admit.AcquireSlot(cmd.Actor); err != nil {
		return err
	}
	defer d.admit.ReleaseSlot(cmd.Actor)

	for _, c := range cmd.Contributions {
		if _, err := d.accounts.AdjustPoints(ctx, c.Actor, c.Delta); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				d.log.Warn().Int64("actor", int64(c.Actor)).Msg("bulk line skipped, unknown actor")
				continue
			}
			return fmt.Errorf("bulk contribute actor %d: %w", c.Actor, err)
		}
	}
	d.notify("bulk_contributed", cmd.Actor, map[string]interface{}{"lines": len(cmd.Contributions)})
	return nil
}

func (d *Dispatcher) notifySettled(dd duel.Duel, outcome *duel.Outcome) {
	if outcome == nil {
		return
	}
	payload := map[string]interface{}{
		"duel_id":      dd.ID,
		"drawn":        outcome.Drawn,
		"points_moved": outcome.PointsMoved,
		"pills_moved":  outcome.PillsMoved,
	}
	actor := dd.Challenger
	if outcome.WinnerID != nil {
		payload["winner"] = *outcome.WinnerID
		actor = *outcome.WinnerID
	}
	d.notify("duel_settled", actor, payload)
}

func (d *Dispatcher) notify(kind string, actor ledger.ActorID, payload interface{}) {
	if d.events != nil {
		d.events.Publish(kind, actor, payload)
	}
}

// Processor connects the subscriber channel to the dispatcher and owns
// the ack decision: domain rejections ack (redelivery cannot change the
// answer), transient failures nak for redelivery.
type Processor struct {
	cmdChan <-chan RawCommand
	disp    *Dispatcher
	log     zerolog.Logger
}

func NewProcessor(cmdChan <-chan RawCommand, disp *Dispatcher) *Processor {
	return &Processor{
		cmdChan: cmdChan,
		disp:    disp,
		log:     observability.NewLogger("gateway"),
	}
}

// Run consumes commands until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.cmdChan:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Processor) handle(ctx context.Context, raw RawCommand) {
	cmd, err := ParseCommand(raw.Subject, raw.Data)
	if err != nil {
		// Malformed payloads never become valid on redelivery
		p.log.Error().Err(err).Str("subject", raw.Subject).Msg("command rejected")
		raw.Ack()
		return
	}

	err = p.disp.Dispatch(ctx, cmd)
	switch {
	case err == nil:
		raw.Ack()
	case retryable(err):
		p.log.Warn().Err(err).Str("kind", string(cmd.Kind)).Msg("command deferred")
		raw.Nak()
	default:
		p.log.Info().Err(err).Str("kind", string(cmd.Kind)).Msg("command refused")
		raw.Ack()
	}
}

// retryable reports whether redelivering the command could succeed.
func retryable(err error) bool {
	return errors.Is(err, ledger.ErrTransientFailure) ||
		errors.Is(err, ledger.ErrAdmissionDenied) ||
		errors.Is(err, context.DeadlineExceeded)
}
