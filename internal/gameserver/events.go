package gameserver

import (
	"context"
	"encoding/json"
	"slices"

	"go.uber.org/zap"

	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/notify"
)

// Event types sent to clients.
const (
	EventBattleCreated        = "battle_created"
	EventBattleJoined         = "battle_joined"
	EventBattleStarted        = "battle_started"
	EventBattleReady          = "battle_ready"
	EventMoveResult           = "move_result"
	EventPokemonSwitched      = "pokemon_switched"
	EventPokemonSwitchSuccess = "pokemon_switch_success"
	EventBattleEnded          = "battle_ended"
	EventBattleUpdated        = "battle_updated"
	EventBattleRoomCheck      = "battle_room_check"
	EventError                = "error"
)

// Event is the envelope of every server-to-client message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// BattleCreated is sent to the creator of a battle.
type BattleCreated struct {
	BattleID int64  `json:"battleId"`
	Code     string `json:"code"`
	IsRandom bool   `json:"isRandom"`
}

// BattleJoined is sent to both participants when the second one joins.
type BattleJoined struct {
	BattleID    int64  `json:"battleId"`
	Code        string `json:"code"`
	OpponentID  int64  `json:"opponentId"`
	Opponent    string `json:"opponentName"`
	RandomMatch bool   `json:"randomMatch"`
}

// SwitchResult is the payload of pokemon_switched and pokemon_switch_success.
type SwitchResult struct {
	BattleID   int64        `json:"battleId"`
	PlayerID   int64        `json:"playerId"`
	CreatureID int64        `json:"creatureId"`
	Replace    bool         `json:"replace"`
	Phase      battle.Phase `json:"phase"`
	Turn       int64        `json:"currentTurn,omitempty"`
}

// MoveResult describes a resolved move.
type MoveResult struct {
	BattleID           int64        `json:"battleId"`
	Seq                int64        `json:"seq"`
	AttackerID         int64        `json:"attackerId"`
	AttackerCreatureID int64        `json:"attackerCreatureId"`
	DefenderCreatureID int64        `json:"defenderCreatureId"`
	Move               battle.Move  `json:"move"`
	Damage             int          `json:"damage"`
	STAB               bool         `json:"stab"`
	Effectiveness      float64      `json:"effectiveness"`
	DefenderHP         int          `json:"defenderHp"`
	DefenderMaxHP      int          `json:"defenderMaxHp"`
	Fainted            bool         `json:"fainted"`
	Phase              battle.Phase `json:"phase"`
	Turn               int64        `json:"currentTurn"`
	Replacing          int64        `json:"replacing,omitempty"`
	Message            string       `json:"message"`
}

// BattleEnded announces the winner and the experience awarded.
type BattleEnded struct {
	BattleID int64                 `json:"battleId"`
	WinnerID int64                 `json:"winnerId"`
	LoserID  int64                 `json:"loserId"`
	Reason   battle.Reason         `json:"reason"`
	Rewards  []battle.RewardResult `json:"rewards"`
}

// RoomCheck answers a check_battle_room request.
type RoomCheck struct {
	BattleID  int64   `json:"battleId"`
	Member    bool    `json:"member"`
	Loaded    bool    `json:"loaded"`
	Connected []int64 `json:"connected"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string      `json:"message"`
	Code    apperr.Code `json:"code"`
}

func errorEvent(err error) Event {
	return Event{Type: EventError, Data: ErrorData{Message: apperr.Message(err), Code: apperr.CodeOf(err)}}
}

// Broadcaster fans events out to battle rooms, single connections and
// personal channels.
type Broadcaster struct {
	conns    *Connections
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewBroadcaster creates a Broadcaster.
//
// Precondition: all arguments must be non-nil.
func NewBroadcaster(conns *Connections, notifier notify.Notifier, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{conns: conns, notifier: notifier, logger: logger}
}

func (b *Broadcaster) encode(evt Event) ([]byte, bool) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("encoding event", zap.String("type", evt.Type), zap.Error(err))
		return nil, false
	}
	return data, true
}

// Room sends evt to every member of the battle room.
func (b *Broadcaster) Room(battleID int64, evt Event) {
	data, ok := b.encode(evt)
	if !ok {
		return
	}
	for _, id := range b.conns.RoomMembers(battleID) {
		b.conns.Deliver(id, data)
	}
}

// To sends evt to the player's current connection only.
func (b *Broadcaster) To(playerID int64, evt Event) {
	if data, ok := b.encode(evt); ok {
		b.conns.Deliver(playerID, data)
	}
}

// Personal publishes evt on each player's personal channel. Delivery
// failures are logged; they never fail the action that caused them.
func (b *Broadcaster) Personal(ctx context.Context, evt Event, playerIDs ...int64) {
	data, ok := b.encode(evt)
	if !ok {
		return
	}
	for _, id := range playerIDs {
		if err := b.notifier.Notify(ctx, id, data); err != nil {
			b.logger.Warn("personal notification failed",
				zap.Int64("player_id", id), zap.String("type", evt.Type), zap.Error(err))
		}
	}
}

// RoomAndPersonal sends evt to the battle room and to the personal channel of
// each listed player who is not in that room, so nobody receives it twice.
func (b *Broadcaster) RoomAndPersonal(ctx context.Context, battleID int64, evt Event, playerIDs ...int64) {
	members := b.conns.RoomMembers(battleID)
	b.Room(battleID, evt)
	away := slices.DeleteFunc(slices.Clone(playerIDs), func(id int64) bool {
		return slices.Contains(members, id)
	})
	if len(away) > 0 {
		b.Personal(ctx, evt, away...)
	}
}

// LogAppended publishes battle_updated for each entry to both participants.
func (b *Broadcaster) LogAppended(ctx context.Context, s *battle.Session, entries ...battle.LogEntry) {
	for _, e := range entries {
		b.Personal(ctx, Event{Type: EventBattleUpdated, Data: e}, s.Participants()...)
	}
}

// Reply sends evt to one specific connection.
func (b *Broadcaster) Reply(c *session.Client, evt Event) {
	data, ok := b.encode(evt)
	if !ok {
		return
	}
	if err := c.Push(data); err != nil {
		b.logger.Debug("reply dropped", zap.String("conn_id", c.ID()), zap.Error(err))
	}
}
