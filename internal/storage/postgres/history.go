package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cory-johannsen/arena/internal/game/battle"
)

// RecentBattle is a battle joined with its latest log line.
type RecentBattle struct {
	battle.Record
	LastMessage *string    `json:"lastMessage,omitempty"`
	LastLogAt   *time.Time `json:"lastLogAt,omitempty"`
	LogCount    int        `json:"logCount"`
}

func collectBattles(rows pgx.Rows) ([]battle.Record, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (battle.Record, error) {
		return scanBattle(row)
	})
}

// Active lists waiting and active battles, newest first, excluding the
// requester's own waiting battles.
func (r *BattleRepository) Active(ctx context.Context, requesterID int64, limit int) ([]battle.Record, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+battleColumns+` FROM battles b
		 WHERE b.status IN ('waiting', 'active')
		   AND NOT (b.status = 'waiting' AND b.player_a_id = $1)
		 ORDER BY b.created_at DESC, b.id DESC
		 LIMIT $2`,
		requesterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying active battles: %w", err)
	}
	return collectBattles(rows)
}

// History lists every battle the player took part in on either side,
// newest first.
func (r *BattleRepository) History(ctx context.Context, playerID int64, limit int) ([]battle.Record, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+battleColumns+` FROM battles b
		 WHERE b.player_a_id = $1 OR b.player_b_id = $1
		 ORDER BY b.created_at DESC, b.id DESC
		 LIMIT $2`,
		playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying battle history: %w", err)
	}
	return collectBattles(rows)
}

// Recent lists the player's battles by last activity together with the
// latest log message and the number of stored log entries.
func (r *BattleRepository) Recent(ctx context.Context, playerID int64, limit int) ([]RecentBattle, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+battleColumns+`, last.message, last.accepted_at, COALESCE(cnt.n, 0)
		 FROM battles b
		 LEFT JOIN LATERAL (
		     SELECT message, accepted_at FROM battle_logs
		     WHERE battle_id = b.id ORDER BY seq DESC LIMIT 1
		 ) last ON TRUE
		 LEFT JOIN LATERAL (
		     SELECT COUNT(*)::INT AS n FROM battle_logs WHERE battle_id = b.id
		 ) cnt ON TRUE
		 WHERE b.player_a_id = $1 OR b.player_b_id = $1
		 ORDER BY b.last_activity DESC, b.id DESC
		 LIMIT $2`,
		playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent battles: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RecentBattle, error) {
		var rb RecentBattle
		rec, err := scanBattle(row, &rb.LastMessage, &rb.LastLogAt, &rb.LogCount)
		rb.Record = rec
		return rb, err
	})
}
