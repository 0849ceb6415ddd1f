package handlers

import (
	"net/http"

	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/gameserver"
)

type finalizeBody struct {
	WinnerID int64 `json:"winnerId"`
	LoserID  int64 `json:"loserId"`
}

type logBody struct {
	Message string         `json:"message"`
	Type    battle.LogType `json:"type"`
}

// RandomMatchReply tells whether a random match joined an existing battle.
type RandomMatchReply struct {
	Battle battle.Record `json:"battle"`
	Joined bool          `json:"joined"`
}

func (a *API) createBattle(w http.ResponseWriter, r *http.Request) {
	var body gameserver.RosterRequest
	if err := decodeBody(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	rec, err := a.svc.Lobby.Create(r.Context(), identity(r), body.SelectedCreatureIDs, body.IsRandom)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, gameserver.BattleCreated{BattleID: rec.ID, Code: rec.Code, IsRandom: rec.IsRandom})
}

func (a *API) joinBattle(w http.ResponseWriter, r *http.Request) {
	var body gameserver.RosterRequest
	if err := decodeBody(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	rec, err := a.svc.Lobby.Join(r.Context(), identity(r), body.Code, body.SelectedCreatureIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) randomMatch(w http.ResponseWriter, r *http.Request) {
	var body gameserver.RosterRequest
	if err := decodeBody(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	rec, joined, err := a.svc.Lobby.RandomMatch(r.Context(), identity(r), body.SelectedCreatureIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if joined {
		status = http.StatusOK
	}
	writeJSON(w, status, RandomMatchReply{Battle: rec, Joined: joined})
}

func (a *API) activeBattles(w http.ResponseWriter, r *http.Request) {
	recs, err := a.svc.History.Active(r.Context(), identity(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": nonNil(recs)})
}

func (a *API) battleHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := a.svc.History.History(r.Context(), identity(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": nonNil(recs)})
}

func (a *API) recentBattles(w http.ResponseWriter, r *http.Request) {
	recs, err := a.svc.History.Recent(r.Context(), identity(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": nonNil(recs)})
}

func (a *API) battleLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	logs, err := a.svc.History.Logs(r.Context(), identity(r), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": nonNil(logs)})
}

func (a *API) postLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var body logBody
	if err := decodeBody(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	entry, err := a.svc.History.PostLog(r.Context(), identity(r), id, body.Message, body.Type)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) useMove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var body gameserver.BattleRequest
	if err := decodeBody(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := a.svc.Battles.UseMove(r.Context(), identity(r), id, body.MoveID, body.Target.Attacker, body.Target.Defender)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) finalize(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var body finalizeBody
	if err := decodeBody(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.svc.Battles.Finalize(r.Context(), identity(r), id, body.WinnerID, body.LoserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// nonNil keeps empty listings as [] on the wire.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
