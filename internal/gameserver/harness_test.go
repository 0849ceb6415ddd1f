package gameserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/auth"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/dice"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
	"github.com/cory-johannsen/arena/internal/testutil"
)

const (
	playerX int64 = 10
	playerY int64 = 20
	playerZ int64 = 30

	tackleID int64 = 1
)

var (
	idX = auth.Identity{PlayerID: playerX, Name: "X"}
	idY = auth.Identity{PlayerID: playerY, Name: "Y"}
	idZ = auth.Identity{PlayerID: playerZ, Name: "Z"}
)

type harness struct {
	store    *testutil.MemoryStore
	clock    *clock.Manual
	conns    *Connections
	registry *session.Registry
	events   *Broadcaster
	lobby    *Lobby
	arena    *Arena
	battles  *BattleHandler
	history  *HistoryHandler
	catalog  *Catalog
	dispatch *Dispatcher
}

// newHarness wires every service over an in-memory store. X owns creatures
// 1 and 2, Y owns 3 and 4, Z owns 5. The coin decides who moves first.
func newHarness(t *testing.T, coin int) *harness {
	t.Helper()
	store := testutil.NewMemoryStore()
	for _, c := range []battle.Creature{
		testutil.Fighter(1, playerX, "Blaze", "fire"),
		testutil.Fighter(2, playerX, "", "fire"),
		testutil.Fighter(3, playerY, "Splash", "water"),
		testutil.Fighter(4, playerY, "", "water"),
		testutil.Fighter(5, playerZ, "", "grass"),
	} {
		store.AddCreature(c)
	}
	store.AddMove(battle.Move{ID: tackleID, Name: "Tackle", Type: "normal", Category: battle.CategoryPhysical, Power: 80})

	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	cfg := config.BattleConfig{CodeLength: 6, MaxRoster: 6, HistoryLimit: 20, LogBufferSize: 50}
	engine := battle.NewEngine(dice.NewLoggedRoller(dice.FixedSource{Int: coin, Float: 1.0}, zap.NewNop()), battle.TypeChart{}, clk)
	svc := NewServices(
		Stores{Battles: store, Creatures: testutil.MemoryCreatures{MemoryStore: store}, Moves: testutil.MemoryMoves{MemoryStore: store}},
		engine, nil, cfg, clk, zap.NewNop(),
	)
	return &harness{
		store:    store,
		clock:    clk,
		conns:    svc.Conns,
		registry: svc.Registry,
		events:   svc.Events,
		lobby:    svc.Lobby,
		arena:    svc.Arena,
		battles:  svc.Battles,
		history:  svc.History,
		catalog:  svc.Catalog,
		dispatch: svc.Dispatch,
	}
}

func (h *harness) connect(id auth.Identity) *session.Client {
	c := session.NewClient(id.PlayerID, id.Name, 512)
	h.arena.Connect(c)
	return c
}

// send dispatches a message as c would over the real-time channel.
func (h *harness) send(t *testing.T, c *session.Client, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	h.dispatch.Handle(t.Context(), c, Inbound{Type: typ, Data: raw})
	h.clock.Advance(time.Second)
}

// activeBattle creates a battle by X joined by Y with two creatures each.
func (h *harness) activeBattle(t *testing.T) battle.Record {
	t.Helper()
	rec, err := h.lobby.Create(t.Context(), idX, []int64{1, 2}, false)
	require.NoError(t, err)
	rec, err = h.lobby.Join(t.Context(), idY, rec.Code, []int64{3, 4})
	require.NoError(t, err)
	return rec
}

// started brings an active battle into play with 1 against 3.
func (h *harness) started(t *testing.T) battle.Record {
	t.Helper()
	rec := h.activeBattle(t)
	require.NoError(t, h.battles.Switch(t.Context(), idX, rec.ID, 1))
	require.NoError(t, h.battles.Switch(t.Context(), idY, rec.ID, 3))
	return rec
}

func (h *harness) tackle(t *testing.T, id auth.Identity, battleID, attacker, defender int64) MoveOutcome {
	t.Helper()
	out, err := h.battles.UseMove(t.Context(), id, battleID, tackleID, attacker, defender)
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	return out
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// drain returns every event queued on c.
func drain(t *testing.T, c *session.Client) []received {
	t.Helper()
	var out []received
	for {
		select {
		case raw, ok := <-c.Events():
			if !ok {
				return out
			}
			var r received
			require.NoError(t, json.Unmarshal(raw, &r))
			out = append(out, r)
		default:
			return out
		}
	}
}

func ofType(events []received, typ string) []received {
	var out []received
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func decodeData[T any](t *testing.T, e received) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(e.Data, &v))
	return v
}

func lastError(t *testing.T, c *session.Client) ErrorData {
	t.Helper()
	errs := ofType(drain(t, c), EventError)
	require.NotEmpty(t, errs, "expected an error event")
	return decodeData[ErrorData](t, errs[len(errs)-1])
}

func identity(id int64, name string) auth.Identity {
	return auth.Identity{PlayerID: id, Name: name}
}
