package gameserver

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/auth"
	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/session"
)

// Client-to-server message types.
const (
	MsgCreateBattle    = "create_battle"
	MsgJoinBattle      = "join_battle"
	MsgRandomMatch     = "random_match"
	MsgJoinArena       = "join_battle_arena"
	MsgSwitchPokemon   = "switch_pokemon"
	MsgUseMove         = "use_move"
	MsgForfeitBattle   = "forfeit_battle"
	MsgCheckBattleRoom = "check_battle_room"
)

// Inbound is the envelope of every client-to-server message.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RosterRequest is the payload of create_battle, join_battle and
// random_match.
type RosterRequest struct {
	SelectedCreatureIDs []int64 `json:"selectedCreatureIds"`
	IsRandom            bool    `json:"isRandom"`
	Code                string  `json:"code"`
}

// MoveTarget names the acting and the targeted creature of a move.
type MoveTarget struct {
	Attacker int64 `json:"attacker"`
	Defender int64 `json:"defender"`
}

// BattleRequest is the payload of the in-battle messages.
type BattleRequest struct {
	BattleID           int64      `json:"battleId"`
	CreatureInstanceID int64      `json:"creatureInstanceId"`
	MoveID             int64      `json:"moveId"`
	Target             MoveTarget `json:"target"`
}

// Dispatcher routes real-time messages to the battle services. Failures are
// reported to the originating connection as error events.
type Dispatcher struct {
	lobby   *Lobby
	arena   *Arena
	battles *BattleHandler
	events  *Broadcaster
	logger  *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: all arguments must be non-nil.
func NewDispatcher(lobby *Lobby, arena *Arena, battles *BattleHandler, events *Broadcaster, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{lobby: lobby, arena: arena, battles: battles, events: events, logger: logger}
}

// Handle processes one inbound message from c.
func (d *Dispatcher) Handle(ctx context.Context, c *session.Client, msg Inbound) {
	if err := d.handle(ctx, c, msg); err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			d.logger.Error("handling message",
				zap.String("type", msg.Type),
				zap.Int64("player_id", c.PlayerID()),
				zap.Error(err),
			)
		} else {
			d.logger.Debug("message rejected",
				zap.String("type", msg.Type),
				zap.Int64("player_id", c.PlayerID()),
				zap.Error(err),
			)
		}
		d.events.Reply(c, errorEvent(err))
	}
}

func (d *Dispatcher) handle(ctx context.Context, c *session.Client, msg Inbound) error {
	id := auth.Identity{PlayerID: c.PlayerID(), Name: c.Name()}
	switch msg.Type {
	case MsgCreateBattle:
		var req RosterRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		_, err := d.lobby.Create(ctx, id, req.SelectedCreatureIDs, req.IsRandom)
		return err
	case MsgJoinBattle:
		var req RosterRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		_, err := d.lobby.Join(ctx, id, req.Code, req.SelectedCreatureIDs)
		return err
	case MsgRandomMatch:
		var req RosterRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		_, _, err := d.lobby.RandomMatch(ctx, id, req.SelectedCreatureIDs)
		return err
	}

	var req BattleRequest
	if err := decode(msg.Data, &req); err != nil {
		return err
	}
	if req.BattleID <= 0 {
		switch msg.Type {
		case MsgJoinArena, MsgSwitchPokemon, MsgUseMove, MsgForfeitBattle, MsgCheckBattleRoom:
			return apperr.Validation("battleId is required")
		}
	}
	switch msg.Type {
	case MsgJoinArena:
		return d.arena.EnterArena(ctx, c, req.BattleID)
	case MsgSwitchPokemon:
		return d.battles.Switch(ctx, id, req.BattleID, req.CreatureInstanceID)
	case MsgUseMove:
		_, err := d.battles.UseMove(ctx, id, req.BattleID, req.MoveID, req.Target.Attacker, req.Target.Defender)
		return err
	case MsgForfeitBattle:
		_, err := d.battles.Forfeit(ctx, id, req.BattleID)
		return err
	case MsgCheckBattleRoom:
		d.events.Reply(c, Event{Type: EventBattleRoomCheck, Data: d.arena.CheckRoom(id.PlayerID, req.BattleID)})
		return nil
	default:
		return apperr.Validationf("unknown message type %q", msg.Type)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.WrapWithCode(err, apperr.CodeValidation, "malformed message data")
	}
	return nil
}
