package gameserver

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/notify"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
)

// Stores groups the persistence collaborators of the battle services.
type Stores struct {
	Battles   BattleStore
	Creatures CreatureStore
	Moves     MoveStore
}

// NotifierFactory builds the personal-channel notifier delivering to target.
type NotifierFactory func(target notify.Deliverer) notify.Notifier

// Services is the set of battle services shared by the real-time and HTTP
// transports.
type Services struct {
	Conns    *Connections
	Registry *session.Registry
	Events   *Broadcaster
	Lobby    *Lobby
	Arena    *Arena
	Battles  *BattleHandler
	History  *HistoryHandler
	Catalog  *Catalog
	Dispatch *Dispatcher
}

// NewServices wires the battle services around one session registry. A nil
// notifiers factory delivers personal events in-process only.
//
// Precondition: stores, engine, clk and logger must be non-nil; cfg must have
// passed validation.
func NewServices(
	stores Stores,
	engine *battle.Engine,
	notifiers NotifierFactory,
	cfg config.BattleConfig,
	clk clock.Clock,
	logger *zap.Logger,
) *Services {
	conns := NewConnections(logger.Named("connections"))
	var notifier notify.Notifier
	if notifiers != nil {
		notifier = notifiers(conns)
	} else {
		notifier = notify.NewLocal(conns)
	}
	events := NewBroadcaster(conns, notifier, logger.Named("events"))
	registry := session.NewRegistry(NewLoader(stores.Battles, cfg.LogBufferSize), logger.Named("registry"))

	s := &Services{
		Conns:    conns,
		Registry: registry,
		Events:   events,
		Lobby:    NewLobby(stores.Battles, stores.Creatures, registry, events, cfg, clk, logger.Named("lobby")),
		Arena:    NewArena(conns, registry, events, logger.Named("arena")),
		Battles:  NewBattleHandler(engine, registry, stores.Battles, stores.Moves, events, logger.Named("battle")),
		History:  NewHistoryHandler(stores.Battles, registry, events, clk, cfg.HistoryLimit, logger.Named("history")),
		Catalog:  NewCatalog(stores.Creatures, stores.Moves),
	}
	s.Dispatch = NewDispatcher(s.Lobby, s.Arena, s.Battles, events, logger.Named("dispatch"))
	return s
}
