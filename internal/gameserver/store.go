// Package gameserver implements the battle services behind both transports:
// matchmaking, arena connections, the turn handlers and battle history.
package gameserver

import (
	"context"
	"errors"

	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// BattleStore persists battle records, choices, moves and logs.
type BattleStore interface {
	Create(ctx context.Context, p postgres.CreateParams) (battle.Record, error)
	Join(ctx context.Context, p postgres.JoinParams) (battle.Record, error)
	JoinRandom(ctx context.Context, p postgres.JoinParams) (battle.Record, bool, error)
	Get(ctx context.Context, id int64) (battle.Record, error)
	Snapshot(ctx context.Context, id int64, logTail int) (battle.Snapshot, error)
	ApplySelection(ctx context.Context, w postgres.SelectionWrite) error
	RecordMove(ctx context.Context, w postgres.MoveWrite) ([]battle.RewardResult, error)
	Finish(ctx context.Context, w postgres.EndWrite) ([]battle.RewardResult, error)
	AppendLog(ctx context.Context, e battle.LogEntry) error
	Logs(ctx context.Context, battleID int64) ([]battle.LogEntry, error)
	MoveNarratives(ctx context.Context, battleID int64) ([]battle.LogEntry, error)
	Active(ctx context.Context, requesterID int64, limit int) ([]battle.Record, error)
	History(ctx context.Context, playerID int64, limit int) ([]battle.Record, error)
	Recent(ctx context.Context, playerID int64, limit int) ([]postgres.RecentBattle, error)
}

// CreatureStore reads creature instances.
type CreatureStore interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]battle.Creature, error)
	Get(ctx context.Context, id int64) (battle.Creature, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]battle.Creature, error)
}

// MoveStore reads the move catalog.
type MoveStore interface {
	Get(ctx context.Context, id int64) (battle.Move, error)
	Usable(ctx context.Context, creatureID int64, limit int) ([]postgres.LearnableMove, error)
}

// storeError translates storage sentinels into coded errors. Errors that are
// already coded pass through.
func storeError(err error, action string) error {
	if err == nil {
		return nil
	}
	var coded *apperr.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, postgres.ErrBattleNotFound):
		return apperr.NotFound("battle not found")
	case errors.Is(err, postgres.ErrCodeTaken):
		return apperr.Conflict("join code already in use")
	case errors.Is(err, postgres.ErrSelfJoin):
		return apperr.Conflict("cannot join your own battle")
	case errors.Is(err, postgres.ErrBattleFull):
		return apperr.Conflict("battle already has two participants")
	case errors.Is(err, postgres.ErrBattleNotActive):
		return apperr.InvalidState("battle is not active")
	case errors.Is(err, postgres.ErrCreatureNotFound):
		return apperr.NotFound("creature not found")
	case errors.Is(err, postgres.ErrMoveNotFound):
		return apperr.NotFound("move not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Internal(err, action+" was cancelled")
	default:
		return apperr.Internal(err, action+" failed")
	}
}

// NewLoader returns a session loader that rebuilds sessions from storage,
// keeping the last logTail log entries in memory.
func NewLoader(store BattleStore, logTail int) session.Loader {
	return func(ctx context.Context, battleID int64) (*battle.Session, error) {
		snap, err := store.Snapshot(ctx, battleID, logTail)
		if err != nil {
			return nil, storeError(err, "loading battle")
		}
		return battle.Reconstruct(snap, logTail)
	}
}
