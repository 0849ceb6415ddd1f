package gameserver

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/auth"
	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// MaxLogMessage bounds the length of a posted log message in characters.
const MaxLogMessage = 500

// HistoryHandler serves battle listings and battle logs.
type HistoryHandler struct {
	battles  BattleStore
	registry *session.Registry
	events   *Broadcaster
	clock    clock.Clock
	limit    int
	logger   *zap.Logger
}

// NewHistoryHandler creates a HistoryHandler. Listings return at most limit
// battles.
//
// Precondition: limit > 0; all other arguments must be non-nil.
func NewHistoryHandler(battles BattleStore, registry *session.Registry, events *Broadcaster, clk clock.Clock, limit int, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		battles:  battles,
		registry: registry,
		events:   events,
		clock:    clk,
		limit:    limit,
		logger:   logger,
	}
}

// Active lists open battles, excluding the requester's own waiting ones.
func (h *HistoryHandler) Active(ctx context.Context, id auth.Identity) ([]battle.Record, error) {
	recs, err := h.battles.Active(ctx, id.PlayerID, h.limit)
	return recs, storeError(err, "listing active battles")
}

// History lists the requester's battles on either side, newest first.
func (h *HistoryHandler) History(ctx context.Context, id auth.Identity) ([]battle.Record, error) {
	recs, err := h.battles.History(ctx, id.PlayerID, h.limit)
	return recs, storeError(err, "listing battle history")
}

// Recent lists the requester's battles by last activity with their latest
// log message.
func (h *HistoryHandler) Recent(ctx context.Context, id auth.Identity) ([]postgres.RecentBattle, error) {
	recs, err := h.battles.Recent(ctx, id.PlayerID, h.limit)
	return recs, storeError(err, "listing recent battles")
}

// Logs returns the stored log entries of a battle merged with the narratives
// of its moves, ordered by acceptance time then sequence.
//
// Postcondition: Returns FORBIDDEN unless the requester is a participant.
func (h *HistoryHandler) Logs(ctx context.Context, id auth.Identity, battleID int64) ([]battle.LogEntry, error) {
	rec, err := h.battles.Get(ctx, battleID)
	if err != nil {
		return nil, storeError(err, "loading battle")
	}
	if !rec.IsParticipant(id.PlayerID) {
		return nil, apperr.Forbidden("not a participant in this battle")
	}
	logs, err := h.battles.Logs(ctx, battleID)
	if err != nil {
		return nil, storeError(err, "loading battle logs")
	}
	moves, err := h.battles.MoveNarratives(ctx, battleID)
	if err != nil {
		return nil, storeError(err, "loading battle moves")
	}
	return MergeLogs(logs, moves), nil
}

// MergeLogs merges stored entries with move narratives.
func MergeLogs(logs, moves []battle.LogEntry) []battle.LogEntry {
	out := make([]battle.LogEntry, 0, len(logs)+len(moves))
	out = append(out, logs...)
	out = append(out, moves...)
	slices.SortStableFunc(out, func(a, b battle.LogEntry) int {
		if c := a.AcceptedAt.Compare(b.AcceptedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}

// PostLog appends a participant-authored entry to a live battle. Only chat
// and system entries may be posted.
//
// Postcondition: The entry is stored, buffered in the session and published
// as battle_updated; on error nothing changes.
func (h *HistoryHandler) PostLog(ctx context.Context, id auth.Identity, battleID int64, message string, typ battle.LogType) (battle.LogEntry, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return battle.LogEntry{}, apperr.Validation("message is required")
	}
	if utf8.RuneCountInString(message) > MaxLogMessage {
		return battle.LogEntry{}, apperr.Validationf("message exceeds %d characters", MaxLogMessage)
	}
	if typ == "" {
		typ = battle.LogChat
	}
	if typ != battle.LogChat && typ != battle.LogSystem {
		return battle.LogEntry{}, apperr.Validationf("log type %q cannot be posted", typ)
	}

	var entry battle.LogEntry
	err := h.registry.With(ctx, battleID, func(hd *session.Handle) error {
		s := hd.Session()
		if !s.IsParticipant(id.PlayerID) {
			return apperr.Forbidden("not a participant in this battle")
		}
		actor := id.PlayerID
		entry = battle.LogEntry{
			BattleID:   battleID,
			Seq:        s.Seq() + 1,
			Message:    message,
			Type:       typ,
			ActorID:    &actor,
			AcceptedAt: h.clock.Now(),
		}
		if err := h.battles.AppendLog(ctx, entry); err != nil {
			return storeError(err, "saving log entry")
		}
		s.AppendLog(entry)
		s.Touch(entry.AcceptedAt)
		h.events.LogAppended(ctx, s, entry)
		return nil
	})
	if err != nil {
		return battle.LogEntry{}, err
	}
	return entry, nil
}
