package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cory-johannsen/arena/internal/auth"
	"github.com/cory-johannsen/arena/internal/config"
	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/frontend/ws"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/dice"
	"github.com/cory-johannsen/arena/internal/gameserver"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
	"github.com/cory-johannsen/arena/internal/testutil"
)

var (
	ash  = auth.Identity{PlayerID: 10, Name: "Ash"}
	gary = auth.Identity{PlayerID: 20, Name: "Gary"}
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type env struct {
	url      string
	svc      *gameserver.Services
	verifier *auth.Verifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := testutil.NewMemoryStore()
	store.AddCreature(testutil.Fighter(1, ash.PlayerID, "Blaze", "fire"))
	store.AddCreature(testutil.Fighter(3, gary.PlayerID, "Splash", "water"))
	store.AddMove(battle.Move{ID: 1, Name: "Tackle", Type: "normal", Category: battle.CategoryPhysical, Power: 80})

	clk := clock.New()
	engine := battle.NewEngine(dice.NewLoggedRoller(dice.FixedSource{Int: 0, Float: 1.0}, zap.NewNop()), battle.TypeChart{}, clk)
	svc := gameserver.NewServices(
		gameserver.Stores{Battles: store, Creatures: testutil.MemoryCreatures{MemoryStore: store}, Moves: testutil.MemoryMoves{MemoryStore: store}},
		engine, nil,
		config.BattleConfig{CodeLength: 6, MaxRoster: 6, HistoryLimit: 20, LogBufferSize: 50},
		clk, zap.NewNop(),
	)
	verifier := auth.NewVerifier(config.AuthConfig{JWTSecret: "0123456789abcdef0123", Leeway: time.Second}, clk)

	srv := httptest.NewServer(ws.NewHandler(verifier, svc.Arena, svc.Dispatch, nil, 5*time.Second, zap.NewNop()))
	t.Cleanup(srv.Close)
	return &env{url: "ws" + strings.TrimPrefix(srv.URL, "http"), svc: svc, verifier: verifier}
}

func (e *env) dial(t *testing.T, id auth.Identity) *websocket.Conn {
	t.Helper()
	tok, err := e.verifier.Issue(id, time.Hour)
	require.NoError(t, err)
	conn, _, err := websocket.Dial(t.Context(), e.url+"/?token="+tok, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": typ, "data": data}))
}

// expect reads until an event of type typ arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	for {
		var e envelope
		require.NoError(t, wsjson.Read(ctx, conn, &e), "waiting for %s", typ)
		if e.Type == typ {
			return e
		}
	}
}

func decode[T any](t *testing.T, e envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(e.Data, &v))
	return v
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	e := newEnv(t)
	_, resp, err := websocket.Dial(t.Context(), e.url+"/", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.Dial(t.Context(), e.url+"/?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_BattleOverWebsocket(t *testing.T) {
	e := newEnv(t)
	a := e.dial(t, ash)
	g := e.dial(t, gary)

	send(t, a, gameserver.MsgCreateBattle, map[string]any{"selectedCreatureIds": []int64{1}})
	created := decode[gameserver.BattleCreated](t, expect(t, a, gameserver.EventBattleCreated))

	send(t, g, gameserver.MsgJoinBattle, map[string]any{"code": created.Code, "selectedCreatureIds": []int64{3}})
	joined := decode[gameserver.BattleJoined](t, expect(t, g, gameserver.EventBattleJoined))
	assert.Equal(t, "Ash", joined.Opponent)
	assert.Equal(t, gary.PlayerID, decode[gameserver.BattleJoined](t, expect(t, a, gameserver.EventBattleJoined)).OpponentID)

	send(t, a, gameserver.MsgJoinArena, map[string]any{"battleId": created.BattleID})
	send(t, g, gameserver.MsgJoinArena, map[string]any{"battleId": created.BattleID})
	expect(t, a, gameserver.EventBattleStarted)
	expect(t, g, gameserver.EventBattleStarted)

	send(t, a, gameserver.MsgSwitchPokemon, map[string]any{"battleId": created.BattleID, "creatureInstanceId": 1})
	expect(t, a, gameserver.EventPokemonSwitchSuccess)
	send(t, g, gameserver.MsgSwitchPokemon, map[string]any{"battleId": created.BattleID, "creatureInstanceId": 3})
	ready := decode[battle.View](t, expect(t, g, gameserver.EventBattleReady))
	assert.Equal(t, ash.PlayerID, ready.Turn)

	send(t, g, gameserver.MsgUseMove, map[string]any{"battleId": created.BattleID, "moveId": 1, "target": map[string]any{"attacker": 3, "defender": 1}})
	assert.Equal(t, apperr.CodeOutOfTurn, decode[gameserver.ErrorData](t, expect(t, g, gameserver.EventError)).Code)

	send(t, a, gameserver.MsgUseMove, map[string]any{"battleId": created.BattleID, "moveId": 1, "target": map[string]any{"attacker": 1, "defender": 3}})
	result := decode[gameserver.MoveResult](t, expect(t, g, gameserver.EventMoveResult))
	assert.Equal(t, 46, result.Damage)
	assert.Equal(t, 64, result.DefenderHP)
	assert.Equal(t, gary.PlayerID, result.Turn)

	send(t, g, gameserver.MsgForfeitBattle, map[string]any{"battleId": created.BattleID})
	ended := decode[gameserver.BattleEnded](t, expect(t, a, gameserver.EventBattleEnded))
	assert.Equal(t, ash.PlayerID, ended.WinnerID)
	assert.Equal(t, battle.ReasonForfeit, ended.Reason)
}

func TestHandler_MalformedFrames(t *testing.T) {
	e := newEnv(t)
	a := e.dial(t, ash)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Write(ctx, websocket.MessageText, []byte("not json")))
	assert.Equal(t, apperr.CodeValidation, decode[gameserver.ErrorData](t, expect(t, a, gameserver.EventError)).Code)

	send(t, a, gameserver.MsgCheckBattleRoom, map[string]any{})
	assert.Equal(t, apperr.CodeValidation, decode[gameserver.ErrorData](t, expect(t, a, gameserver.EventError)).Code,
		"the connection survives bad frames")
}

func TestHandler_SupersededConnectionIsClosed(t *testing.T) {
	e := newEnv(t)
	first := e.dial(t, ash)
	second := e.dial(t, ash)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, ws.StatusSuperseded, websocket.CloseStatus(err))

	send(t, second, gameserver.MsgCheckBattleRoom, map[string]any{"battleId": 99})
	rc := decode[gameserver.RoomCheck](t, expect(t, second, gameserver.EventBattleRoomCheck))
	assert.False(t, rc.Member)
}

func TestHandler_DisconnectLeavesRoom(t *testing.T) {
	e := newEnv(t)
	a := e.dial(t, ash)

	send(t, a, gameserver.MsgCreateBattle, map[string]any{"selectedCreatureIds": []int64{1}})
	created := decode[gameserver.BattleCreated](t, expect(t, a, gameserver.EventBattleCreated))
	send(t, a, gameserver.MsgJoinArena, map[string]any{"battleId": created.BattleID})
	send(t, a, gameserver.MsgCheckBattleRoom, map[string]any{"battleId": created.BattleID})
	rc := decode[gameserver.RoomCheck](t, expect(t, a, gameserver.EventBattleRoomCheck))
	require.True(t, rc.Member)

	require.NoError(t, a.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool {
		return !e.svc.Conns.InRoom(ash.PlayerID, created.BattleID) && e.svc.Registry.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
