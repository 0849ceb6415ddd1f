package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cory-johannsen/arena/internal/game/battle"
)

func scanLog(row pgx.CollectableRow) (battle.LogEntry, error) {
	var e battle.LogEntry
	var t string
	err := row.Scan(&e.BattleID, &e.Seq, &e.Message, &t, &e.ActorID, &e.AcceptedAt)
	e.Type = battle.LogType(t)
	return e, err
}

func insertLogs(ctx context.Context, q querier, entries ...battle.LogEntry) error {
	for _, e := range entries {
		if _, err := q.Exec(ctx,
			`INSERT INTO battle_logs (battle_id, seq, message, type, actor_id, accepted_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.BattleID, e.Seq, e.Message, string(e.Type), e.ActorID, e.AcceptedAt,
		); err != nil {
			return fmt.Errorf("inserting log entry %d: %w", e.Seq, err)
		}
	}
	return nil
}

// AppendLog stores one log entry and bumps the battle's last activity.
//
// Precondition: e.Type must be storable.
func (r *BattleRepository) AppendLog(ctx context.Context, e battle.LogEntry) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := insertLogs(ctx, tx, e); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE battles SET last_activity = GREATEST(last_activity, $2) WHERE id = $1`,
			e.BattleID, e.AcceptedAt,
		); err != nil {
			return fmt.Errorf("touching battle: %w", err)
		}
		return nil
	})
}

// Logs returns every stored log entry of a battle in sequence order.
func (r *BattleRepository) Logs(ctx context.Context, battleID int64) ([]battle.LogEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT battle_id, seq, message, type, actor_id, accepted_at
		 FROM battle_logs WHERE battle_id = $1 ORDER BY seq`,
		battleID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	return pgx.CollectRows(rows, scanLog)
}

// MoveNarratives renders every move-use record of a battle as a log entry.
func (r *BattleRepository) MoveNarratives(ctx context.Context, battleID int64) ([]battle.LogEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT m.battle_id, m.seq, m.attacker_id, m.damage, m.accepted_at,
		        CASE WHEN m.attacker_id = b.player_a_id THEN b.player_a_name ELSE COALESCE(b.player_b_name, '') END,
		        COALESCE(NULLIF(ca.nickname, ''), sa.name),
		        mv.name,
		        COALESCE(NULLIF(cd.nickname, ''), sd.name)
		 FROM battle_moves m
		 JOIN battles b ON b.id = m.battle_id
		 JOIN creature_instances ca ON ca.id = m.attacker_creature_id
		 JOIN species sa ON sa.id = ca.species_id
		 JOIN creature_instances cd ON cd.id = m.defender_creature_id
		 JOIN species sd ON sd.id = cd.species_id
		 JOIN moves mv ON mv.id = m.move_id
		 WHERE m.battle_id = $1
		 ORDER BY m.seq`,
		battleID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying move narratives: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (battle.LogEntry, error) {
		var e battle.LogEntry
		var actor int64
		var damage int
		var player, attacker, move, defender string
		err := row.Scan(&e.BattleID, &e.Seq, &actor, &damage, &e.AcceptedAt, &player, &attacker, &move, &defender)
		e.ActorID = &actor
		e.Type = battle.LogMove
		e.Message = battle.MoveNarrative(player, attacker, move, defender, damage)
		return e, err
	})
}
