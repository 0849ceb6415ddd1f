package gameserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/auth"
	"github.com/cory-johannsen/arena/internal/config"
	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeAttempts = 5
)

// GenerateCode returns a join code of n characters drawn uniformly from A-Z0-9.
func GenerateCode(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for range n {
		i, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating join code: %w", err)
		}
		sb.WriteByte(codeAlphabet[i.Int64()])
	}
	return sb.String(), nil
}

// Lobby creates and joins battles.
type Lobby struct {
	battles   BattleStore
	creatures CreatureStore
	registry  *session.Registry
	events    *Broadcaster
	cfg       config.BattleConfig
	clock     clock.Clock
	logger    *zap.Logger
	codes     func(n int) (string, error)
}

// NewLobby creates a Lobby.
//
// Precondition: all arguments must be non-nil; cfg must have passed validation.
func NewLobby(
	battles BattleStore,
	creatures CreatureStore,
	registry *session.Registry,
	events *Broadcaster,
	cfg config.BattleConfig,
	clk clock.Clock,
	logger *zap.Logger,
) *Lobby {
	return &Lobby{
		battles:   battles,
		creatures: creatures,
		registry:  registry,
		events:    events,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
		codes:     GenerateCode,
	}
}

// roster validates a creature choice and returns the creatures in the order
// they were chosen.
//
// Postcondition: Returns VALIDATION for an empty, oversized or duplicated
// choice and FORBIDDEN when any creature is not owned by ownerID.
func (l *Lobby) roster(ctx context.Context, ownerID int64, ids []int64) ([]battle.Creature, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("choose at least one creature")
	}
	if len(ids) > l.cfg.MaxRoster {
		return nil, apperr.Validationf("choose at most %d creatures", l.cfg.MaxRoster)
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, apperr.Validationf("invalid creature id %d", id)
		}
		if seen[id] {
			return nil, apperr.Validationf("creature %d chosen twice", id)
		}
		seen[id] = true
	}

	found, err := l.creatures.GetMany(ctx, ids)
	if err != nil {
		return nil, storeError(err, "loading creatures")
	}
	out := make([]battle.Creature, 0, len(ids))
	for _, id := range ids {
		c, ok := found[id]
		if !ok || c.OwnerID != ownerID {
			return nil, apperr.Forbidden(fmt.Sprintf("creature %d is not yours", id))
		}
		out = append(out, c)
	}
	return out, nil
}

// Create persists a waiting battle and sends battle_created to the creator.
//
// Postcondition: The returned record is waiting and carries a fresh join code.
func (l *Lobby) Create(ctx context.Context, id auth.Identity, creatureIDs []int64, isRandom bool) (battle.Record, error) {
	if _, err := l.roster(ctx, id.PlayerID, creatureIDs); err != nil {
		return battle.Record{}, err
	}
	rec, err := l.create(ctx, id, creatureIDs, isRandom)
	if err != nil {
		return battle.Record{}, err
	}
	l.logger.Info("battle created",
		zap.Int64("battle_id", rec.ID),
		zap.Int64("player_id", id.PlayerID),
		zap.Bool("random", isRandom),
	)
	l.events.To(id.PlayerID, Event{Type: EventBattleCreated, Data: BattleCreated{
		BattleID: rec.ID, Code: rec.Code, IsRandom: rec.IsRandom,
	}})
	return rec, nil
}

func (l *Lobby) create(ctx context.Context, id auth.Identity, creatureIDs []int64, isRandom bool) (battle.Record, error) {
	for attempt := 1; ; attempt++ {
		code, err := l.codes(l.cfg.CodeLength)
		if err != nil {
			return battle.Record{}, apperr.Internal(err, "generating join code failed")
		}
		rec, err := l.battles.Create(ctx, postgres.CreateParams{
			PlayerID:    id.PlayerID,
			PlayerName:  id.Name,
			Code:        code,
			IsRandom:    isRandom,
			CreatureIDs: creatureIDs,
			At:          l.clock.Now(),
		})
		if errors.Is(err, postgres.ErrCodeTaken) && attempt < codeAttempts {
			l.logger.Debug("join code collision, regenerating", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return battle.Record{}, storeError(err, "creating battle")
		}
		return rec, nil
	}
}

// Join binds the joiner to the waiting battle holding code.
//
// Postcondition: Returns NOT_FOUND when no waiting battle has the code and
// CONFLICT for self-joins or full battles; nothing is written on error.
func (l *Lobby) Join(ctx context.Context, id auth.Identity, code string, creatureIDs []int64) (battle.Record, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return battle.Record{}, apperr.Validation("join code is required")
	}
	roster, err := l.roster(ctx, id.PlayerID, creatureIDs)
	if err != nil {
		return battle.Record{}, err
	}
	rec, err := l.battles.Join(ctx, postgres.JoinParams{
		Code:        code,
		PlayerID:    id.PlayerID,
		PlayerName:  id.Name,
		CreatureIDs: creatureIDs,
		At:          l.clock.Now(),
	})
	if err != nil {
		return battle.Record{}, storeError(err, "joining battle")
	}
	l.joined(ctx, rec, id, roster)
	return rec, nil
}

// RandomMatch joins the oldest waiting random battle of another player, or
// creates a new random battle when there is none.
//
// Postcondition: joined reports which of the two happened.
func (l *Lobby) RandomMatch(ctx context.Context, id auth.Identity, creatureIDs []int64) (rec battle.Record, joined bool, err error) {
	roster, err := l.roster(ctx, id.PlayerID, creatureIDs)
	if err != nil {
		return battle.Record{}, false, err
	}
	rec, found, err := l.battles.JoinRandom(ctx, postgres.JoinParams{
		PlayerID:    id.PlayerID,
		PlayerName:  id.Name,
		CreatureIDs: creatureIDs,
		At:          l.clock.Now(),
	})
	if err != nil {
		return battle.Record{}, false, storeError(err, "matching battle")
	}
	if found {
		l.joined(ctx, rec, id, roster)
		return rec, true, nil
	}
	rec, err = l.Create(ctx, id, creatureIDs, true)
	return rec, false, err
}

// joined binds the opponent into a live session, if one is loaded, and
// tells both participants.
func (l *Lobby) joined(ctx context.Context, rec battle.Record, id auth.Identity, roster []battle.Creature) {
	_, err := l.registry.IfPresent(rec.ID, func(h *session.Handle) error {
		s := h.Session()
		if !s.IsParticipant(id.PlayerID) && !s.AddOpponent(battle.Participant{ID: id.PlayerID, Name: id.Name, Roster: roster}) {
			// out of step with the record; the next access rebuilds it
			h.Discard()
			return nil
		}
		s.Touch(rec.LastActivity)
		return nil
	})
	if err != nil {
		l.logger.Warn("binding opponent", zap.Int64("battle_id", rec.ID), zap.Error(err))
	}
	l.logger.Info("battle joined",
		zap.Int64("battle_id", rec.ID),
		zap.Int64("player_id", id.PlayerID),
		zap.Bool("random", rec.IsRandom),
	)

	l.events.To(id.PlayerID, Event{Type: EventBattleJoined, Data: BattleJoined{
		BattleID: rec.ID, Code: rec.Code, OpponentID: rec.PlayerA, Opponent: rec.PlayerAName, RandomMatch: rec.IsRandom,
	}})
	l.events.Personal(ctx, Event{Type: EventBattleJoined, Data: BattleJoined{
		BattleID: rec.ID, Code: rec.Code, OpponentID: id.PlayerID, Opponent: id.Name, RandomMatch: rec.IsRandom,
	}}, rec.PlayerA)
}
