package gameserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/auth"
	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// BattleHandler runs turn actions against live sessions. Every action is
// planned by the engine, written through to storage, and only then applied
// to the session, all under the battle's lock.
type BattleHandler struct {
	engine   *battle.Engine
	registry *session.Registry
	battles  BattleStore
	moves    MoveStore
	events   *Broadcaster
	logger   *zap.Logger
}

// NewBattleHandler creates a BattleHandler.
//
// Precondition: all arguments must be non-nil.
func NewBattleHandler(
	engine *battle.Engine,
	registry *session.Registry,
	battles BattleStore,
	moves MoveStore,
	events *Broadcaster,
	logger *zap.Logger,
) *BattleHandler {
	return &BattleHandler{
		engine:   engine,
		registry: registry,
		battles:  battles,
		moves:    moves,
		events:   events,
		logger:   logger,
	}
}

// Switch selects a creature: the first selection while awaiting selection,
// or a replacement for a fainted creature.
func (h *BattleHandler) Switch(ctx context.Context, id auth.Identity, battleID, creatureID int64) error {
	return h.registry.With(ctx, battleID, func(hd *session.Handle) error {
		s := hd.Session()
		var (
			plan *battle.SelectPlan
			err  error
		)
		if s.Phase() == battle.PhaseAwaitingReplacement {
			plan, err = h.engine.PlanReplace(s, id.PlayerID, creatureID)
		} else {
			plan, err = h.engine.PlanSelect(s, id.PlayerID, creatureID)
		}
		if err != nil {
			return err
		}
		return h.applySelect(ctx, s, plan)
	})
}

// Select chooses the first active creature.
//
// Postcondition: Returns INVALID_STATE outside the selection phase and
// INVALID_SELECTION for fainted or foreign creatures.
func (h *BattleHandler) Select(ctx context.Context, id auth.Identity, battleID, creatureID int64) error {
	return h.registry.With(ctx, battleID, func(hd *session.Handle) error {
		plan, err := h.engine.PlanSelect(hd.Session(), id.PlayerID, creatureID)
		if err != nil {
			return err
		}
		return h.applySelect(ctx, hd.Session(), plan)
	})
}

// Replace swaps in a creature after the active one fainted. The turn passes
// to the opponent.
func (h *BattleHandler) Replace(ctx context.Context, id auth.Identity, battleID, creatureID int64) error {
	return h.registry.With(ctx, battleID, func(hd *session.Handle) error {
		plan, err := h.engine.PlanReplace(hd.Session(), id.PlayerID, creatureID)
		if err != nil {
			return err
		}
		return h.applySelect(ctx, hd.Session(), plan)
	})
}

func (h *BattleHandler) applySelect(ctx context.Context, s *battle.Session, plan *battle.SelectPlan) error {
	log := observability.BattleLogger(h.logger, plan.BattleID, plan.ActorID)
	var turn int64
	if plan.Starts || plan.Replace {
		turn = plan.Turn
	}
	if err := h.battles.ApplySelection(ctx, postgres.SelectionWrite{
		BattleID:   plan.BattleID,
		PlayerID:   plan.ActorID,
		CreatureID: plan.CreatureID,
		Turn:       turn,
		Log:        plan.Log,
	}); err != nil {
		log.Error("persisting selection", zap.Error(err))
		return storeError(err, "saving selection")
	}
	s.ApplySelect(plan)
	log.Info("creature selected",
		zap.Int64("creature_id", plan.CreatureID),
		zap.Bool("replace", plan.Replace),
		zap.Stringer("phase", s.Phase()),
	)

	result := SwitchResult{
		BattleID:   plan.BattleID,
		PlayerID:   plan.ActorID,
		CreatureID: plan.CreatureID,
		Replace:    plan.Replace,
		Phase:      s.Phase(),
		Turn:       s.Turn(),
	}
	h.events.To(plan.ActorID, Event{Type: EventPokemonSwitchSuccess, Data: result})
	h.events.Room(plan.BattleID, Event{Type: EventPokemonSwitched, Data: result})
	if plan.Starts {
		h.events.Room(plan.BattleID, Event{Type: EventBattleReady, Data: s.View()})
	}
	h.events.LogAppended(ctx, s, plan.Log)
	return nil
}

// MoveOutcome is the reply to a resolved move.
type MoveOutcome struct {
	MoveResult
	// Ended is set when the move knocked out the opponent's last creature.
	Ended *BattleEnded `json:"ended,omitempty"`
}

// UseMove resolves one move. Validation happens in this order: participant,
// phase, turn, then the move and the creatures.
//
// Postcondition: On a storage failure the session is back in progress and an
// INTERNAL error is returned; nothing was applied.
func (h *BattleHandler) UseMove(ctx context.Context, id auth.Identity, battleID, moveID, attackerID, defenderID int64) (MoveOutcome, error) {
	var out MoveOutcome
	err := h.registry.With(ctx, battleID, func(hd *session.Handle) error {
		s := hd.Session()
		if err := h.engine.CanMove(s, id.PlayerID); err != nil {
			return err
		}
		move, err := h.moves.Get(ctx, moveID)
		if err != nil {
			return storeError(err, "loading move")
		}
		plan, err := h.engine.PlanMove(s, id.PlayerID, move, attackerID, defenderID)
		if err != nil {
			return err
		}

		log := observability.BattleLogger(h.logger, battleID, id.PlayerID)
		write := postgres.MoveWrite{Move: plan.Record, Turn: plan.Turn, Logs: plan.Logs}
		if plan.End != nil {
			write.End = endWrite(plan.End, plan.Record.AcceptedAt)
		}
		rewards, err := h.battles.RecordMove(ctx, write)
		if err != nil {
			s.AbortMove()
			log.Error("persisting move", zap.Int64("move_id", moveID), zap.Error(err))
			if errors.Is(err, postgres.ErrBattleNotActive) {
				return apperr.InvalidState("battle is not active")
			}
			return apperr.Internal(err, "saving move failed")
		}

		s.ApplyMove(plan)
		log.Info("move resolved",
			zap.String("move", move.Name),
			zap.Int("damage", plan.Record.Damage),
			zap.Bool("fainted", plan.Fainted),
			zap.Stringer("phase", s.Phase()),
		)
		out.MoveResult = moveResult(plan, s)
		h.events.Room(battleID, Event{Type: EventMoveResult, Data: out.MoveResult})
		h.events.LogAppended(ctx, s, newEntries(s, plan.Record.Seq)...)
		if plan.End != nil {
			ended := h.ended(ctx, s, plan.End, rewards)
			out.Ended = &ended
			hd.Discard()
		}
		return nil
	})
	if err != nil {
		return MoveOutcome{}, err
	}
	return out, nil
}

// Forfeit ends the battle in the opponent's favour.
func (h *BattleHandler) Forfeit(ctx context.Context, id auth.Identity, battleID int64) (BattleEnded, error) {
	var out BattleEnded
	err := h.registry.With(ctx, battleID, func(hd *session.Handle) error {
		s := hd.Session()
		plan, err := h.engine.PlanForfeit(s, id.PlayerID)
		if err != nil {
			return err
		}
		out, err = h.finish(ctx, s, plan)
		if err != nil {
			return err
		}
		hd.Discard()
		return nil
	})
	return out, err
}

// FinalizeResult is the outcome of an explicit end request.
type FinalizeResult struct {
	BattleEnded
	// AlreadyFinished is true when the record had already ended with the
	// requested winner.
	AlreadyFinished bool `json:"alreadyFinished"`
}

// Finalize ends a battle on request of a participant. It is accepted only
// when the claimed loser has no healthy creature, or when the battle already
// ended with the same winner.
func (h *BattleHandler) Finalize(ctx context.Context, id auth.Identity, battleID, winnerID, loserID int64) (FinalizeResult, error) {
	rec, err := h.battles.Get(ctx, battleID)
	if err != nil {
		return FinalizeResult{}, storeError(err, "loading battle")
	}
	if !rec.IsParticipant(id.PlayerID) {
		return FinalizeResult{}, apperr.Forbidden("not a participant in this battle")
	}
	if rec.Status == battle.StatusFinished {
		if rec.WinnerID == nil || *rec.WinnerID != winnerID {
			return FinalizeResult{}, apperr.Conflict("battle already finished with a different winner")
		}
		res := FinalizeResult{AlreadyFinished: true}
		res.BattleID = battleID
		res.WinnerID = winnerID
		if rec.LoserID != nil {
			res.LoserID = *rec.LoserID
		}
		return res, nil
	}

	var out FinalizeResult
	err = h.registry.With(ctx, battleID, func(hd *session.Handle) error {
		s := hd.Session()
		plan, err := h.engine.PlanFinalize(s, id.PlayerID, winnerID, loserID)
		if err != nil {
			return err
		}
		out.BattleEnded, err = h.finish(ctx, s, plan)
		if err != nil {
			return err
		}
		hd.Discard()
		return nil
	})
	return out, err
}

func (h *BattleHandler) finish(ctx context.Context, s *battle.Session, plan *battle.EndPlan) (BattleEnded, error) {
	at := h.engine.Now()
	if n := len(plan.Logs); n > 0 {
		at = plan.Logs[n-1].AcceptedAt
	}
	rewards, err := h.battles.Finish(ctx, *endWrite(plan, at))
	if err != nil {
		observability.BattleLogger(h.logger, plan.BattleID, 0).Error("persisting battle end", zap.Error(err))
		return BattleEnded{}, storeError(err, "finishing battle")
	}
	s.ApplyEnd(plan)
	h.events.LogAppended(ctx, s, plan.Logs...)
	return h.ended(ctx, s, plan, rewards), nil
}

func (h *BattleHandler) ended(ctx context.Context, s *battle.Session, plan *battle.EndPlan, rewards []battle.RewardResult) BattleEnded {
	evt := BattleEnded{
		BattleID: plan.BattleID,
		WinnerID: plan.WinnerID,
		LoserID:  plan.LoserID,
		Reason:   plan.Reason,
		Rewards:  rewards,
	}
	observability.BattleLogger(h.logger, plan.BattleID, 0).Info("battle ended",
		zap.Int64("winner_id", plan.WinnerID),
		zap.Int64("loser_id", plan.LoserID),
		zap.String("reason", string(plan.Reason)),
	)
	h.events.RoomAndPersonal(ctx, plan.BattleID, Event{Type: EventBattleEnded, Data: evt}, s.Participants()...)
	return evt
}

func endWrite(plan *battle.EndPlan, at time.Time) *postgres.EndWrite {
	return &postgres.EndWrite{
		BattleID: plan.BattleID,
		WinnerID: plan.WinnerID,
		LoserID:  plan.LoserID,
		Reason:   plan.Reason,
		Rewards:  plan.Rewards,
		Logs:     plan.Logs,
		At:       at,
	}
}

func moveResult(plan *battle.MovePlan, s *battle.Session) MoveResult {
	return MoveResult{
		BattleID:           plan.Record.BattleID,
		Seq:                plan.Record.Seq,
		AttackerID:         plan.Record.AttackerID,
		AttackerCreatureID: plan.Record.AttackerCreatureID,
		DefenderCreatureID: plan.Record.DefenderCreatureID,
		Move:               plan.Move,
		Damage:             plan.Record.Damage,
		STAB:               plan.STAB,
		Effectiveness:      plan.Effectiveness,
		DefenderHP:         plan.DefenderHP,
		DefenderMaxHP:      plan.DefenderMaxHP,
		Fainted:            plan.Fainted,
		Phase:              s.Phase(),
		Turn:               s.Turn(),
		Replacing:          s.Replacing(),
		Message: battle.MoveNarrative(s.Name(plan.Record.AttackerID), plan.Attacker.Name(),
			plan.Move.Name, plan.Defender.Name(), plan.Record.Damage),
	}
}

// newEntries returns the buffered log entries from seq onwards.
func newEntries(s *battle.Session, seq int64) []battle.LogEntry {
	var out []battle.LogEntry
	for _, e := range s.Logs() {
		if e.Seq >= seq {
			out = append(out, e)
		}
	}
	return out
}
