package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/arena/internal/game/battle"
)

var (
	// ErrBattleNotFound is returned when no battle matches the lookup.
	ErrBattleNotFound = errors.New("battle not found")
	// ErrCodeTaken is returned when a join code collides with a waiting battle.
	ErrCodeTaken = errors.New("join code already in use")
	// ErrSelfJoin is returned when the initiator tries to join their own battle.
	ErrSelfJoin = errors.New("cannot join own battle")
	// ErrBattleFull is returned when the battle already has two participants.
	ErrBattleFull = errors.New("battle already has two participants")
	// ErrBattleNotActive is returned when a write requires an active battle.
	ErrBattleNotActive = errors.New("battle is not active")
)

const (
	battleColumns = `b.id, b.player_a_id, b.player_a_name, b.player_b_id, COALESCE(b.player_b_name, ''),
		b.code, b.status, b.is_random, b.winner_id, b.loser_id, b.current_turn, b.created_at, b.last_activity`
	waitingCodeConstraint = "battles_waiting_code_key"
)

func scanBattle(row pgx.Row, extra ...any) (battle.Record, error) {
	var r battle.Record
	var status string
	dest := []any{
		&r.ID, &r.PlayerA, &r.PlayerAName, &r.PlayerB, &r.PlayerBName,
		&r.Code, &status, &r.IsRandom, &r.WinnerID, &r.LoserID, &r.CurrentTurn, &r.CreatedAt, &r.LastActivity,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return battle.Record{}, err
	}
	r.Status = battle.Status(status)
	return r, nil
}

// BattleRepository persists battle records, their chosen creatures, move
// history and log entries.
type BattleRepository struct {
	db *pgxpool.Pool
}

// NewBattleRepository creates a BattleRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewBattleRepository(db *pgxpool.Pool) *BattleRepository {
	return &BattleRepository{db: db}
}

// CreateParams describes a new waiting battle.
type CreateParams struct {
	PlayerID    int64
	PlayerName  string
	Code        string
	IsRandom    bool
	CreatureIDs []int64
	At          time.Time
}

// JoinParams describes the second participant of a battle.
type JoinParams struct {
	Code        string
	PlayerID    int64
	PlayerName  string
	CreatureIDs []int64
	At          time.Time
}

// Create inserts a waiting battle and the initiator's chosen creatures.
//
// Postcondition: Returns ErrCodeTaken when another waiting battle holds the code.
func (r *BattleRepository) Create(ctx context.Context, p CreateParams) (battle.Record, error) {
	var rec battle.Record
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		rec, err = scanBattle(tx.QueryRow(ctx,
			`INSERT INTO battles AS b (player_a_id, player_a_name, code, is_random, created_at, last_activity)
			 VALUES ($1, $2, $3, $4, $5, $5)
			 RETURNING `+battleColumns,
			p.PlayerID, p.PlayerName, p.Code, p.IsRandom, p.At,
		))
		if isUniqueViolation(err, waitingCodeConstraint) {
			return ErrCodeTaken
		}
		if err != nil {
			return fmt.Errorf("inserting battle: %w", err)
		}
		return insertChoices(ctx, tx, rec.ID, p.PlayerID, p.CreatureIDs)
	})
	return rec, err
}

// Join binds the second participant to the waiting battle holding code and
// activates it. The row lock makes the persisted status the single source of
// truth for concurrent joins.
//
// Postcondition: Returns ErrBattleNotFound when no waiting battle has the
// code, ErrSelfJoin or ErrBattleFull on conflicts, and writes nothing on error.
func (r *BattleRepository) Join(ctx context.Context, p JoinParams) (battle.Record, error) {
	var rec battle.Record
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var id, playerA int64
		var playerB *int64
		err := tx.QueryRow(ctx,
			`SELECT id, player_a_id, player_b_id FROM battles
			 WHERE code = $1 AND status = 'waiting'
			 FOR UPDATE`,
			p.Code,
		).Scan(&id, &playerA, &playerB)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBattleNotFound
		}
		if err != nil {
			return fmt.Errorf("locking battle: %w", err)
		}
		if playerA == p.PlayerID {
			return ErrSelfJoin
		}
		if playerB != nil {
			return ErrBattleFull
		}
		rec, err = joinLocked(ctx, tx, id, p)
		return err
	})
	return rec, err
}

// JoinRandom joins the oldest waiting random battle not created by the
// player. Battles locked by a concurrent matcher are skipped.
//
// Postcondition: found is false and nothing is written when no candidate exists.
func (r *BattleRepository) JoinRandom(ctx context.Context, p JoinParams) (rec battle.Record, found bool, err error) {
	err = withTx(ctx, r.db, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM battles
			 WHERE status = 'waiting' AND is_random AND player_b_id IS NULL AND player_a_id <> $1
			 ORDER BY created_at, id
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED`,
			p.PlayerID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("finding random battle: %w", err)
		}
		rec, err = joinLocked(ctx, tx, id, p)
		found = err == nil
		return err
	})
	return rec, found, err
}

func joinLocked(ctx context.Context, tx pgx.Tx, id int64, p JoinParams) (battle.Record, error) {
	rec, err := scanBattle(tx.QueryRow(ctx,
		`UPDATE battles AS b
		 SET player_b_id = $2, player_b_name = $3, status = 'active', last_activity = $4
		 WHERE b.id = $1
		 RETURNING `+battleColumns,
		id, p.PlayerID, p.PlayerName, p.At,
	))
	if err != nil {
		return battle.Record{}, fmt.Errorf("activating battle %d: %w", id, err)
	}
	if err := insertChoices(ctx, tx, id, p.PlayerID, p.CreatureIDs); err != nil {
		return battle.Record{}, err
	}
	return rec, nil
}

func insertChoices(ctx context.Context, tx pgx.Tx, battleID, playerID int64, creatureIDs []int64) error {
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"battle_creatures"},
		[]string{"battle_id", "player_id", "creature_id", "slot"},
		pgx.CopyFromSlice(len(creatureIDs), func(i int) ([]any, error) {
			return []any{battleID, playerID, creatureIDs[i], i}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("inserting chosen creatures: %w", err)
	}
	return nil
}

// Get returns one battle record.
//
// Postcondition: Returns ErrBattleNotFound when no battle has the id.
func (r *BattleRepository) Get(ctx context.Context, id int64) (battle.Record, error) {
	return getBattle(ctx, r.db, id)
}

func getBattle(ctx context.Context, q querier, id int64) (battle.Record, error) {
	rec, err := scanBattle(q.QueryRow(ctx, `SELECT `+battleColumns+` FROM battles b WHERE b.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return battle.Record{}, ErrBattleNotFound
	}
	if err != nil {
		return battle.Record{}, fmt.Errorf("querying battle %d: %w", id, err)
	}
	return rec, nil
}

// Choices returns the chosen-creature rows of a battle in slot order.
func (r *BattleRepository) Choices(ctx context.Context, battleID int64) ([]battle.Choice, error) {
	return listChoices(ctx, r.db, battleID)
}

func listChoices(ctx context.Context, q querier, battleID int64) ([]battle.Choice, error) {
	rows, err := q.Query(ctx,
		`SELECT player_id, creature_id, slot, active FROM battle_creatures
		 WHERE battle_id = $1
		 ORDER BY player_id, slot`,
		battleID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying choices: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[battle.Choice])
}

// Snapshot reads everything needed to rebuild a session in one consistent
// read-only transaction. Only the last logTail log entries are returned.
//
// Postcondition: Returns ErrBattleNotFound when no battle has the id.
func (r *BattleRepository) Snapshot(ctx context.Context, battleID int64, logTail int) (battle.Snapshot, error) {
	var snap battle.Snapshot
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snap, fmt.Errorf("beginning snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if snap.Record, err = getBattle(ctx, tx, battleID); err != nil {
		return snap, err
	}
	if snap.Choices, err = listChoices(ctx, tx, battleID); err != nil {
		return snap, err
	}

	rows, err := tx.Query(ctx,
		creatureSelect+` JOIN battle_creatures bc ON bc.creature_id = ci.id WHERE bc.battle_id = $1 ORDER BY ci.id`,
		battleID,
	)
	if err != nil {
		return snap, fmt.Errorf("querying battle creatures: %w", err)
	}
	if snap.Creatures, err = pgx.CollectRows(rows, scanCreature); err != nil {
		return snap, fmt.Errorf("scanning battle creatures: %w", err)
	}

	if snap.Moves, err = listMoves(ctx, tx, battleID); err != nil {
		return snap, err
	}

	rows, err = tx.Query(ctx,
		`SELECT battle_id, seq, message, type, actor_id, accepted_at FROM (
		     SELECT * FROM battle_logs WHERE battle_id = $1 ORDER BY seq DESC LIMIT $2
		 ) tail ORDER BY seq`,
		battleID, logTail,
	)
	if err != nil {
		return snap, fmt.Errorf("querying log tail: %w", err)
	}
	if snap.Logs, err = pgx.CollectRows(rows, scanLog); err != nil {
		return snap, fmt.Errorf("scanning log tail: %w", err)
	}
	return snap, nil
}

func listMoves(ctx context.Context, q querier, battleID int64) ([]battle.MoveUse, error) {
	rows, err := q.Query(ctx,
		`SELECT battle_id, seq, attacker_id, defender_id, attacker_creature_id, defender_creature_id,
		        move_id, damage, accepted_at
		 FROM battle_moves WHERE battle_id = $1 ORDER BY seq`,
		battleID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying moves: %w", err)
	}
	moves, err := pgx.CollectRows(rows, pgx.RowToStructByPos[battle.MoveUse])
	if err != nil {
		return nil, fmt.Errorf("scanning moves: %w", err)
	}
	return moves, nil
}

// SelectionWrite is the durable effect of a creature selection.
type SelectionWrite struct {
	BattleID   int64
	PlayerID   int64
	CreatureID int64
	// Turn is persisted when non-zero.
	Turn int64
	Log  battle.LogEntry
}

// ApplySelection marks the player's active creature, persists the turn when
// the battle starts and appends the switch log entry.
//
// Postcondition: Returns ErrBattleNotActive when the battle is finished.
func (r *BattleRepository) ApplySelection(ctx context.Context, w SelectionWrite) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		var turn *int64
		if w.Turn != 0 {
			turn = &w.Turn
		}
		tag, err := tx.Exec(ctx,
			`UPDATE battles SET current_turn = COALESCE($2, current_turn), last_activity = $3
			 WHERE id = $1 AND status IN ('waiting', 'active')`,
			w.BattleID, turn, w.Log.AcceptedAt,
		)
		if err != nil {
			return fmt.Errorf("updating battle turn: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrBattleNotActive
		}
		if _, err := tx.Exec(ctx,
			`UPDATE battle_creatures SET active = (creature_id = $3)
			 WHERE battle_id = $1 AND player_id = $2`,
			w.BattleID, w.PlayerID, w.CreatureID,
		); err != nil {
			return fmt.Errorf("marking active creature: %w", err)
		}
		return insertLogs(ctx, tx, w.Log)
	})
}

// EndWrite is the durable effect of a battle ending.
type EndWrite struct {
	BattleID int64
	WinnerID int64
	LoserID  int64
	Reason   battle.Reason
	Rewards  []battle.Reward
	Logs     []battle.LogEntry
	At       time.Time
}

// MoveWrite is the durable effect of one resolved move.
type MoveWrite struct {
	Move battle.MoveUse
	Turn int64
	Logs []battle.LogEntry
	// End is set when the move finished the battle.
	End *EndWrite
}

// RecordMove appends the move-use record and its log entries, advances the
// turn and, when the move ended the battle, finishes it and applies rewards,
// all in one transaction.
//
// Postcondition: Returns ErrBattleNotActive and writes nothing when the
// battle is not active.
func (r *BattleRepository) RecordMove(ctx context.Context, w MoveWrite) ([]battle.RewardResult, error) {
	var results []battle.RewardResult
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		m := w.Move
		tag, err := tx.Exec(ctx,
			`UPDATE battles SET current_turn = $2, last_activity = $3
			 WHERE id = $1 AND status = 'active'`,
			m.BattleID, w.Turn, m.AcceptedAt,
		)
		if err != nil {
			return fmt.Errorf("advancing turn: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrBattleNotActive
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO battle_moves
			     (battle_id, seq, attacker_id, defender_id, attacker_creature_id, defender_creature_id,
			      move_id, damage, accepted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.BattleID, m.Seq, m.AttackerID, m.DefenderID, m.AttackerCreatureID, m.DefenderCreatureID,
			m.MoveID, m.Damage, m.AcceptedAt,
		); err != nil {
			return fmt.Errorf("inserting move: %w", err)
		}
		if err := insertLogs(ctx, tx, w.Logs...); err != nil {
			return err
		}
		if w.End != nil {
			results, err = finish(ctx, tx, *w.End)
		}
		return err
	})
	return results, err
}

// Finish ends an active battle: it appends the end log entries, records the
// winner and loser and applies rewards in one transaction.
//
// Postcondition: Returns ErrBattleNotActive and writes nothing when the
// battle is not active.
func (r *BattleRepository) Finish(ctx context.Context, w EndWrite) ([]battle.RewardResult, error) {
	var results []battle.RewardResult
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := insertLogs(ctx, tx, w.Logs...); err != nil {
			return err
		}
		var err error
		results, err = finish(ctx, tx, w)
		return err
	})
	return results, err
}

func finish(ctx context.Context, tx pgx.Tx, w EndWrite) ([]battle.RewardResult, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE battles
		 SET status = 'finished', winner_id = $2, loser_id = $3, end_reason = $4,
		     current_turn = NULL, finished_at = $5, last_activity = $5
		 WHERE id = $1 AND status = 'active'`,
		w.BattleID, w.WinnerID, w.LoserID, string(w.Reason), w.At,
	)
	if err != nil {
		return nil, fmt.Errorf("finishing battle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrBattleNotActive
	}
	results := make([]battle.RewardResult, 0, len(w.Rewards))
	for _, rw := range w.Rewards {
		res, err := award(ctx, tx, rw)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
