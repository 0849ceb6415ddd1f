package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/arena/internal/game/battle"
)

// ErrMoveNotFound is returned when a move lookup yields no results.
var ErrMoveNotFound = errors.New("move not found")

// LearnableMove is a move together with the level its species learns it at.
type LearnableMove struct {
	battle.Move
	RequiredLevel int `json:"requiredLevel"`
}

// MoveRepository reads the move catalog.
type MoveRepository struct {
	db *pgxpool.Pool
}

// NewMoveRepository creates a MoveRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMoveRepository(db *pgxpool.Pool) *MoveRepository {
	return &MoveRepository{db: db}
}

// Get returns one move.
//
// Postcondition: Returns ErrMoveNotFound when no move has the id.
func (r *MoveRepository) Get(ctx context.Context, id int64) (battle.Move, error) {
	var m battle.Move
	var category string
	err := r.db.QueryRow(ctx,
		`SELECT id, name, type, category, power FROM moves WHERE id = $1`, id,
	).Scan(&m.ID, &m.Name, &m.Type, &category, &m.Power)
	if errors.Is(err, pgx.ErrNoRows) {
		return battle.Move{}, ErrMoveNotFound
	}
	if err != nil {
		return battle.Move{}, fmt.Errorf("querying move %d: %w", id, err)
	}
	m.Category = battle.Category(category)
	return m, nil
}

// Usable returns the moves a creature can use: those its species learns at or
// below the creature's level, highest required level first, capped at limit.
//
// Precondition: limit > 0.
func (r *MoveRepository) Usable(ctx context.Context, creatureID int64, limit int) ([]LearnableMove, error) {
	rows, err := r.db.Query(ctx,
		`SELECT mv.id, mv.name, mv.type, mv.category, mv.power, sm.required_level
		 FROM creature_instances ci
		 JOIN species_moves sm ON sm.species_id = ci.species_id
		 JOIN moves mv ON mv.id = sm.move_id
		 WHERE ci.id = $1 AND sm.required_level <= ci.level
		 ORDER BY sm.required_level DESC, mv.id
		 LIMIT $2`,
		creatureID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usable moves: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (LearnableMove, error) {
		var m LearnableMove
		var category string
		err := row.Scan(&m.ID, &m.Name, &m.Type, &category, &m.Power, &m.RequiredLevel)
		m.Category = battle.Category(category)
		return m, err
	})
}
