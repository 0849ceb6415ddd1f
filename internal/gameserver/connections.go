package gameserver

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/session"
)

// Connections maps identities to their current connection and tracks which
// battle rooms each identity has entered.
//
// Invariant: an identity has at most one routable connection; rooms and
// userRooms mirror each other.
type Connections struct {
	mu        sync.Mutex
	clients   map[int64]*session.Client
	rooms     map[int64]map[int64]struct{}
	userRooms map[int64]map[int64]struct{}
	logger    *zap.Logger
}

// NewConnections creates an empty Connections.
func NewConnections(logger *zap.Logger) *Connections {
	return &Connections{
		clients:   make(map[int64]*session.Client),
		rooms:     make(map[int64]map[int64]struct{}),
		userRooms: make(map[int64]map[int64]struct{}),
		logger:    logger,
	}
}

// Register makes c the routable connection of its identity.
//
// Postcondition: Returns the superseded connection, or nil.
func (m *Connections) Register(c *session.Client) *session.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.clients[c.PlayerID()]
	m.clients[c.PlayerID()] = c
	if prev != nil {
		m.logger.Info("connection superseded",
			zap.Int64("player_id", c.PlayerID()),
			zap.String("old_conn_id", prev.ID()),
			zap.String("new_conn_id", c.ID()),
		)
	}
	return prev
}

// Unregister removes c when it is still the routable connection of its
// identity, clearing the identity's room memberships.
//
// Postcondition: Returns the rooms the identity left and true, or nil and
// false when c had already been superseded.
func (m *Connections) Unregister(c *session.Client) ([]int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := c.PlayerID()
	cur, ok := m.clients[id]
	if !ok || cur.ID() != c.ID() {
		return nil, false
	}
	delete(m.clients, id)

	var left []int64
	for battleID := range m.userRooms[id] {
		left = append(left, battleID)
		delete(m.rooms[battleID], id)
		if len(m.rooms[battleID]) == 0 {
			delete(m.rooms, battleID)
		}
	}
	delete(m.userRooms, id)
	slices.Sort(left)
	return left, true
}

// Client returns the routable connection of an identity.
func (m *Connections) Client(playerID int64) (*session.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[playerID]
	return c, ok
}

// Join adds the identity to a battle room.
func (m *Connections) Join(playerID, battleID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[battleID] == nil {
		m.rooms[battleID] = make(map[int64]struct{})
	}
	m.rooms[battleID][playerID] = struct{}{}
	if m.userRooms[playerID] == nil {
		m.userRooms[playerID] = make(map[int64]struct{})
	}
	m.userRooms[playerID][battleID] = struct{}{}
}

// InRoom reports whether the identity has entered the battle room.
func (m *Connections) InRoom(playerID, battleID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[battleID][playerID]
	return ok
}

// RoomMembers returns the identities in a battle room in ascending order.
func (m *Connections) RoomMembers(battleID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.rooms[battleID]))
	for id := range m.rooms[battleID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Deliver pushes payload to the identity's routable connection, if any. A
// full or closed connection drops the payload.
func (m *Connections) Deliver(playerID int64, payload []byte) {
	c, ok := m.Client(playerID)
	if !ok {
		return
	}
	err := c.Push(payload)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrClientBehind):
		m.logger.Warn("dropping event for slow connection",
			zap.Int64("player_id", playerID),
			zap.String("conn_id", c.ID()),
			zap.Uint64("dropped", c.Dropped()),
		)
	default:
		m.logger.Debug("dropping event", zap.Int64("player_id", playerID), zap.Error(err))
	}
}

// Arena binds connections to live battle sessions.
type Arena struct {
	conns    *Connections
	registry *session.Registry
	events   *Broadcaster
	logger   *zap.Logger
}

// NewArena creates an Arena.
//
// Precondition: all arguments must be non-nil.
func NewArena(conns *Connections, registry *session.Registry, events *Broadcaster, logger *zap.Logger) *Arena {
	return &Arena{conns: conns, registry: registry, events: events, logger: logger}
}

// Connect registers a new connection for its identity, closing the
// connection it supersedes.
func (a *Arena) Connect(c *session.Client) {
	if prev := a.conns.Register(c); prev != nil {
		// the old transport notices the closed queue and hangs up
		_ = prev.Close()
	}
}

// EnterArena joins the connection's identity to a battle room and marks it
// connected in the session. When both participants are connected,
// battle_started is sent to the room.
//
// Postcondition: Returns FORBIDDEN for non-participants and leaves no trace.
func (a *Arena) EnterArena(ctx context.Context, c *session.Client, battleID int64) error {
	pid := c.PlayerID()
	return a.registry.With(ctx, battleID, func(h *session.Handle) error {
		s := h.Session()
		if !s.IsParticipant(pid) {
			return apperr.Forbidden("not a participant in this battle")
		}
		s.Connect(pid)
		a.conns.Join(pid, battleID)
		a.logger.Info("entered arena",
			zap.Int64("battle_id", battleID),
			zap.Int64("player_id", pid),
			zap.Int64s("connected", s.Connected()),
		)
		if s.BothConnected() {
			a.events.Room(battleID, Event{Type: EventBattleStarted, Data: s.View()})
		}
		return nil
	})
}

// Disconnect tears down a closed connection. A superseded connection is
// ignored. Sessions whose connected set empties are discarded from memory.
func (a *Arena) Disconnect(c *session.Client) {
	rooms, ok := a.conns.Unregister(c)
	if !ok {
		return
	}
	pid := c.PlayerID()
	for _, battleID := range rooms {
		_, err := a.registry.IfPresent(battleID, func(h *session.Handle) error {
			if h.Session().Disconnect(pid) {
				h.Discard()
			}
			return nil
		})
		if err != nil {
			a.logger.Warn("disconnect", zap.Int64("battle_id", battleID), zap.Error(err))
		}
	}
	a.logger.Info("connection closed",
		zap.Int64("player_id", pid),
		zap.String("conn_id", c.ID()),
		zap.Int64s("rooms", rooms),
	)
}

// CheckRoom reports the identity's room membership and the session's
// connected identities.
func (a *Arena) CheckRoom(playerID, battleID int64) RoomCheck {
	rc := RoomCheck{
		BattleID:  battleID,
		Member:    a.conns.InRoom(playerID, battleID),
		Connected: []int64{},
	}
	rc.Loaded, _ = a.registry.IfPresent(battleID, func(h *session.Handle) error {
		rc.Connected = h.Session().Connected()
		return nil
	})
	return rc
}
