package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/arena/internal/game/battle"
)

// TypeEntry is one row of the type effectiveness table.
type TypeEntry struct {
	Attacking  string  `yaml:"attacking"`
	Defending  string  `yaml:"defending"`
	Multiplier float64 `yaml:"multiplier"`
}

// TypeChartRepository reads and replaces the type effectiveness table.
type TypeChartRepository struct {
	db *pgxpool.Pool
}

// NewTypeChartRepository creates a TypeChartRepository backed by the given pool.
func NewTypeChartRepository(db *pgxpool.Pool) *TypeChartRepository {
	return &TypeChartRepository{db: db}
}

// Load returns the whole chart. Type names are lower-cased.
func (r *TypeChartRepository) Load(ctx context.Context) (battle.TypeChart, error) {
	rows, err := r.db.Query(ctx,
		`SELECT attacking_type, defending_type, multiplier FROM type_effectiveness`)
	if err != nil {
		return nil, fmt.Errorf("querying type chart: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[TypeEntry])
	if err != nil {
		return nil, fmt.Errorf("scanning type chart: %w", err)
	}
	chart := make(battle.TypeChart, len(entries))
	for _, e := range entries {
		chart[battle.TypePair{
			Attacking: strings.ToLower(e.Attacking),
			Defending: strings.ToLower(e.Defending),
		}] = e.Multiplier
	}
	return chart, nil
}

// Replace swaps the table contents for entries in one transaction.
//
// Postcondition: Returns the number of rows written.
func (r *TypeChartRepository) Replace(ctx context.Context, entries []TypeEntry) (int64, error) {
	var n int64
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM type_effectiveness`); err != nil {
			return fmt.Errorf("clearing type chart: %w", err)
		}
		var err error
		n, err = tx.CopyFrom(ctx,
			pgx.Identifier{"type_effectiveness"},
			[]string{"attacking_type", "defending_type", "multiplier"},
			pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
				e := entries[i]
				return []any{strings.ToLower(e.Attacking), strings.ToLower(e.Defending), e.Multiplier}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copying type chart: %w", err)
		}
		return nil
	})
	return n, err
}
