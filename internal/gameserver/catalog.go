package gameserver

import (
	"context"

	"github.com/cory-johannsen/arena/internal/auth"
	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// MaxUsableMoves is the number of moves a creature can bring into battle.
const MaxUsableMoves = 4

// Catalog exposes a player's creatures and the moves they can use.
type Catalog struct {
	creatures CreatureStore
	moves     MoveStore
}

// NewCatalog creates a Catalog.
func NewCatalog(creatures CreatureStore, moves MoveStore) *Catalog {
	return &Catalog{creatures: creatures, moves: moves}
}

// Creatures lists the requester's creatures.
func (c *Catalog) Creatures(ctx context.Context, id auth.Identity) ([]battle.Creature, error) {
	list, err := c.creatures.ListByOwner(ctx, id.PlayerID)
	return list, storeError(err, "listing creatures")
}

// Creature returns one of the requester's creatures.
//
// Postcondition: Returns NOT_FOUND for unknown ids and FORBIDDEN for
// creatures owned by someone else.
func (c *Catalog) Creature(ctx context.Context, id auth.Identity, creatureID int64) (battle.Creature, error) {
	cr, err := c.creatures.Get(ctx, creatureID)
	if err != nil {
		return battle.Creature{}, storeError(err, "loading creature")
	}
	if cr.OwnerID != id.PlayerID {
		return battle.Creature{}, apperr.Forbidden("creature is not yours")
	}
	return cr, nil
}

// Moves returns up to MaxUsableMoves moves the creature has learned, most
// advanced first.
func (c *Catalog) Moves(ctx context.Context, id auth.Identity, creatureID int64) ([]postgres.LearnableMove, error) {
	if _, err := c.Creature(ctx, id, creatureID); err != nil {
		return nil, err
	}
	moves, err := c.moves.Usable(ctx, creatureID, MaxUsableMoves)
	return moves, storeError(err, "listing moves")
}
