package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/game/battle"
)

// Loader rebuilds a battle session from persisted state.
type Loader func(ctx context.Context, battleID int64) (*battle.Session, error)

// Registry owns the in-memory battle sessions. Each battle has its own lock,
// so actions on one battle run one at a time while different battles proceed
// independently. An absent session is always rebuilt through the Loader.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry
	load    Loader
	logger  *zap.Logger
}

type entry struct {
	mu      sync.Mutex
	session *battle.Session
	// gone is set once the entry has been removed from the map; holders
	// that were waiting on mu must retry with a fresh entry.
	gone bool
}

// Handle grants exclusive access to one session for the duration of a
// Registry callback.
type Handle struct {
	session *battle.Session
	discard bool
}

// Session returns the locked session.
func (h *Handle) Session() *battle.Session { return h.session }

// Discard removes the session from the registry when the callback returns.
// The persisted record is untouched; the next access reconstructs it.
func (h *Handle) Discard() { h.discard = true }

// NewRegistry creates a Registry.
//
// Precondition: load and logger must be non-nil.
func NewRegistry(load Loader, logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[int64]*entry),
		load:    load,
		logger:  logger,
	}
}

func (r *Registry) entryFor(battleID int64, create bool) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[battleID]
	if !ok && create {
		e = &entry{}
		r.entries[battleID] = e
	}
	return e
}

func (r *Registry) remove(battleID int64, e *entry) {
	e.gone = true
	e.session = nil
	r.mu.Lock()
	if r.entries[battleID] == e {
		delete(r.entries, battleID)
	}
	r.mu.Unlock()
}

// With runs fn while holding the battle's lock, loading the session first
// when it is not in memory.
//
// Postcondition: Load errors are returned unchanged and leave no entry
// behind. fn's error is returned unchanged.
func (r *Registry) With(ctx context.Context, battleID int64, fn func(h *Handle) error) error {
	for {
		e := r.entryFor(battleID, true)
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		if e.session == nil {
			s, err := r.load(ctx, battleID)
			if err != nil {
				r.remove(battleID, e)
				e.mu.Unlock()
				return err
			}
			r.logger.Debug("session loaded", zap.Int64("battle_id", battleID))
			e.session = s
		}
		err := r.run(battleID, e, fn)
		e.mu.Unlock()
		return err
	}
}

// IfPresent runs fn only when the session is already in memory.
//
// Postcondition: Returns false without calling fn when no session is loaded.
func (r *Registry) IfPresent(battleID int64, fn func(h *Handle) error) (bool, error) {
	e := r.entryFor(battleID, false)
	if e == nil {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone || e.session == nil {
		return false, nil
	}
	return true, r.run(battleID, e, fn)
}

func (r *Registry) run(battleID int64, e *entry, fn func(h *Handle) error) error {
	h := &Handle{session: e.session}
	err := fn(h)
	if h.discard {
		r.remove(battleID, e)
		r.logger.Debug("session discarded", zap.Int64("battle_id", battleID))
	}
	return err
}

// Sweep discards every session whose last activity is before cutoff and
// which has nobody connected.
//
// Postcondition: Returns the ids of the evicted battles.
func (r *Registry) Sweep(cutoff time.Time) []int64 {
	r.mu.Lock()
	candidates := make(map[int64]*entry, len(r.entries))
	for id, e := range r.entries {
		candidates[id] = e
	}
	r.mu.Unlock()

	var evicted []int64
	for id, e := range candidates {
		e.mu.Lock()
		if !e.gone && e.session != nil && len(e.session.Connected()) == 0 && e.session.LastActivity().Before(cutoff) {
			r.remove(id, e)
			evicted = append(evicted, id)
		}
		e.mu.Unlock()
	}
	return evicted
}

// Len returns the number of sessions currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
