package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/arena/internal/game/battle"
)

// ErrCreatureNotFound is returned when a creature lookup yields no results.
var ErrCreatureNotFound = errors.New("creature not found")

const creatureSelect = `
	SELECT ci.id, ci.owner_id, COALESCE(ci.nickname, ''), s.name, ci.level, ci.experience,
	       s.base_hp, s.attack, s.defence, s.sp_attack, s.sp_defence, s.speed,
	       s.primary_type, COALESCE(s.secondary_type, '')
	FROM creature_instances ci
	JOIN species s ON s.id = ci.species_id`

func scanCreature(row pgx.CollectableRow) (battle.Creature, error) {
	var c battle.Creature
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Nickname, &c.Species, &c.Level, &c.Experience,
		&c.BaseHP, &c.Attack, &c.Defence, &c.SpAttack, &c.SpDefence, &c.Speed,
		&c.PrimaryType, &c.SecondaryType,
	)
	return c, err
}

// CreatureRepository reads creature instances with their species stats and
// writes experience and level.
type CreatureRepository struct {
	db *pgxpool.Pool
}

// NewCreatureRepository creates a CreatureRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCreatureRepository(db *pgxpool.Pool) *CreatureRepository {
	return &CreatureRepository{db: db}
}

// ListByOwner returns every creature owned by ownerID, oldest first.
func (r *CreatureRepository) ListByOwner(ctx context.Context, ownerID int64) ([]battle.Creature, error) {
	rows, err := r.db.Query(ctx, creatureSelect+` WHERE ci.owner_id = $1 ORDER BY ci.id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing creatures: %w", err)
	}
	creatures, err := pgx.CollectRows(rows, scanCreature)
	if err != nil {
		return nil, fmt.Errorf("scanning creatures: %w", err)
	}
	return creatures, nil
}

// Get returns a single creature.
//
// Postcondition: Returns ErrCreatureNotFound when no creature has the id.
func (r *CreatureRepository) Get(ctx context.Context, id int64) (battle.Creature, error) {
	rows, err := r.db.Query(ctx, creatureSelect+` WHERE ci.id = $1`, id)
	if err != nil {
		return battle.Creature{}, fmt.Errorf("querying creature %d: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCreature)
	if errors.Is(err, pgx.ErrNoRows) {
		return battle.Creature{}, ErrCreatureNotFound
	}
	if err != nil {
		return battle.Creature{}, fmt.Errorf("scanning creature %d: %w", id, err)
	}
	return c, nil
}

// GetMany returns the creatures with the given ids keyed by id. Missing ids
// are simply absent from the map.
func (r *CreatureRepository) GetMany(ctx context.Context, ids []int64) (map[int64]battle.Creature, error) {
	rows, err := r.db.Query(ctx, creatureSelect+` WHERE ci.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying creatures: %w", err)
	}
	creatures, err := pgx.CollectRows(rows, scanCreature)
	if err != nil {
		return nil, fmt.Errorf("scanning creatures: %w", err)
	}
	out := make(map[int64]battle.Creature, len(creatures))
	for _, c := range creatures {
		out[c.ID] = c
	}
	return out, nil
}

// award grants experience to one creature and applies any level-ups.
func award(ctx context.Context, q querier, rw battle.Reward) (battle.RewardResult, error) {
	res := battle.RewardResult{Reward: rw}
	var level int
	err := q.QueryRow(ctx,
		`UPDATE creature_instances SET experience = experience + $2
		 WHERE id = $1
		 RETURNING level, experience`,
		rw.CreatureID, rw.XP,
	).Scan(&level, &res.Experience)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, ErrCreatureNotFound
	}
	if err != nil {
		return res, fmt.Errorf("awarding experience to creature %d: %w", rw.CreatureID, err)
	}
	res.Level = battle.LevelForExperience(level, res.Experience)
	if res.Level != level {
		res.LeveledUp = true
		if _, err := q.Exec(ctx,
			`UPDATE creature_instances SET level = $2 WHERE id = $1`,
			rw.CreatureID, res.Level,
		); err != nil {
			return res, fmt.Errorf("levelling creature %d: %w", rw.CreatureID, err)
		}
	}
	return res, nil
}
