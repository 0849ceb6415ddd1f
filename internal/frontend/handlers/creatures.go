package handlers

import "net/http"

func (a *API) listCreatures(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Catalog.Creatures(r.Context(), identity(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creatures": list})
}

func (a *API) getCreature(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.svc.Catalog.Creature(r.Context(), identity(r), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) creatureMoves(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	moves, err := a.svc.Catalog.Moves(r.Context(), identity(r), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"moves": moves})
}
