package gameserver

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/session"
)

func TestLobby_CreateThenJoin(t *testing.T) {
	h := newHarness(t, 0)
	cx := h.connect(idX)
	cy := h.connect(idY)

	rec, err := h.lobby.Create(t.Context(), idX, []int64{1, 2}, false)
	require.NoError(t, err)
	assert.Equal(t, battle.StatusWaiting, rec.Status)
	assert.Len(t, rec.Code, 6)

	created := ofType(drain(t, cx), EventBattleCreated)
	require.Len(t, created, 1)
	assert.Equal(t, BattleCreated{BattleID: rec.ID, Code: rec.Code}, decodeData[BattleCreated](t, created[0]))

	joined, err := h.lobby.Join(t.Context(), idY, strings.ToLower(rec.Code), []int64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, joined.ID)
	assert.Equal(t, battle.StatusActive, h.store.Record(rec.ID).Status)

	forY := ofType(drain(t, cy), EventBattleJoined)
	require.Len(t, forY, 1)
	assert.Equal(t, playerX, decodeData[BattleJoined](t, forY[0]).OpponentID)
	forX := ofType(drain(t, cx), EventBattleJoined)
	require.Len(t, forX, 1, "the creator hears about the join on their personal channel")
	assert.Equal(t, "Y", decodeData[BattleJoined](t, forX[0]).Opponent)
}

func TestLobby_RosterValidation(t *testing.T) {
	h := newHarness(t, 0)
	ctx := t.Context()

	cases := []struct {
		name string
		ids  []int64
		code apperr.Code
	}{
		{"empty", nil, apperr.CodeValidation},
		{"too many", []int64{1, 2, 3, 4, 5, 6, 7}, apperr.CodeValidation},
		{"duplicate", []int64{1, 1}, apperr.CodeValidation},
		{"non-positive", []int64{0}, apperr.CodeValidation},
		{"not owned", []int64{1, 3}, apperr.CodeForbidden},
		{"unknown", []int64{99}, apperr.CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.lobby.Create(ctx, idX, tc.ids, false)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
		})
	}
	assert.Zero(t, h.store.BattleCount(), "rejected creates write nothing")
}

func TestLobby_JoinRejections(t *testing.T) {
	h := newHarness(t, 0)
	ctx := t.Context()
	rec, err := h.lobby.Create(ctx, idX, []int64{1}, false)
	require.NoError(t, err)

	_, err = h.lobby.Join(ctx, idY, "", []int64{3})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = h.lobby.Join(ctx, idY, "NOPE99", []int64{3})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = h.lobby.Join(ctx, idX, rec.Code, []int64{2})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err), "self join")

	_, err = h.lobby.Join(ctx, idY, rec.Code, []int64{3})
	require.NoError(t, err)

	_, err = h.lobby.Join(ctx, idZ, rec.Code, []int64{5})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err), "the code no longer belongs to a waiting battle")
	assert.Equal(t, playerY, *h.store.Record(rec.ID).PlayerB)
}

func TestLobby_ConcurrentJoinsAdmitOne(t *testing.T) {
	h := newHarness(t, 0)
	rec, err := h.lobby.Create(t.Context(), idX, []int64{1}, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, j := range []struct {
		id   int64
		name string
		c    int64
	}{{playerY, "Y", 3}, {playerZ, "Z", 5}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.lobby.Join(context.Background(), identity(j.id, j.name), rec.Code, []int64{j.c})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
		}
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, h.store.Choices(rec.ID), 2)
}

func TestLobby_RegeneratesTakenCodes(t *testing.T) {
	h := newHarness(t, 0)
	h.store.TakeCode("TAKEN1")
	codes := []string{"TAKEN1", "FRESH1"}
	h.lobby.codes = func(int) (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	rec, err := h.lobby.Create(t.Context(), idX, []int64{1}, false)
	require.NoError(t, err)
	assert.Equal(t, "FRESH1", rec.Code)

	h.lobby.codes = func(int) (string, error) { return "TAKEN1", nil }
	_, err = h.lobby.Create(t.Context(), idX, []int64{1}, false)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err), "gives up after bounded attempts")
}

func TestLobby_RandomMatch(t *testing.T) {
	h := newHarness(t, 0)
	ctx := t.Context()

	first, joined, err := h.lobby.RandomMatch(ctx, idX, []int64{1})
	require.NoError(t, err)
	assert.False(t, joined)
	assert.True(t, first.IsRandom)
	assert.Equal(t, battle.StatusWaiting, first.Status)

	again, joined, err := h.lobby.RandomMatch(ctx, idX, []int64{2})
	require.NoError(t, err)
	assert.False(t, joined, "never matched against yourself")
	assert.NotEqual(t, first.ID, again.ID)

	matched, joined, err := h.lobby.RandomMatch(ctx, idY, []int64{3})
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Equal(t, first.ID, matched.ID, "oldest waiting random battle first")
	assert.Equal(t, battle.StatusActive, matched.Status)
}

func TestLobby_JoinBindsOpponentIntoLoadedSession(t *testing.T) {
	h := newHarness(t, 0)
	ctx := t.Context()
	cx := h.connect(idX)

	rec, err := h.lobby.Create(ctx, idX, []int64{1, 2}, false)
	require.NoError(t, err)
	require.NoError(t, h.arena.EnterArena(ctx, cx, rec.ID))
	before := h.store.Snapshots()

	_, err = h.lobby.Join(ctx, idY, rec.Code, []int64{3})
	require.NoError(t, err)

	ok, err := h.registry.IfPresent(rec.ID, func(hd *session.Handle) error {
		s := hd.Session()
		assert.True(t, s.IsParticipant(playerY))
		assert.Equal(t, []int64{playerX}, s.Connected(), "connections survive the join")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, before, h.store.Snapshots(), "no reload needed")
}

func TestGenerateCode(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(4, 16).Draw(t, "n")
		code, err := GenerateCode(n)
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != n {
			t.Fatalf("len(%q) = %d, want %d", code, len(code), n)
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("code %q contains %q", code, r)
			}
		}
	})
}
