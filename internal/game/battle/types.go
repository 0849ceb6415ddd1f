// Package battle implements the player-vs-player battle engine: the per-battle
// turn state machine, damage resolution, fainting and replacement, forfeit,
// rewards and reconstruction of a session from persisted state.
//
// Engine operations follow a plan/apply split. A Plan* call validates an
// action against a Session and returns a plan describing every durable fact
// and state change without mutating the Session (PlanMove only moves the
// Session into PhaseResolving). The caller persists the plan and then calls
// the matching Apply* method, or AbortMove when persistence fails.
package battle

import (
	"fmt"
	"strings"
	"time"
)

// Phase is the position of a session in the turn state machine.
type Phase int

const (
	PhaseAwaitingSelection Phase = iota
	PhaseInProgress
	PhaseResolving
	PhaseAwaitingReplacement
	PhaseFinished
)

// String returns the wire name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingSelection:
		return "awaiting_selection"
	case PhaseInProgress:
		return "in_progress"
	case PhaseResolving:
		return "resolving"
	case PhaseAwaitingReplacement:
		return "awaiting_replacement"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name produced by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	for q := PhaseAwaitingSelection; q <= PhaseFinished; q++ {
		if q.String() == string(text) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Status is the persisted lifecycle status of a battle record.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Category selects which stat pair a move uses.
type Category string

const (
	CategoryPhysical Category = "physical"
	CategorySpecial  Category = "special"
	CategoryStatus   Category = "status"
)

// Reason records how a battle ended.
type Reason string

const (
	ReasonNormal  Reason = "normal"
	ReasonForfeit Reason = "forfeit"
)

// LogType tags a log entry.
type LogType string

const (
	LogSystem  LogType = "system"
	LogSwitch  LogType = "switch"
	LogFaint   LogType = "faint"
	LogForfeit LogType = "forfeit"
	LogEnd     LogType = "end"
	LogChat    LogType = "chat"
	// LogMove marks narratives derived from move-use records. They are never
	// stored as log rows.
	LogMove LogType = "move"
)

// Storable reports whether entries of this type may be written as log rows.
func (t LogType) Storable() bool {
	switch t {
	case LogSystem, LogSwitch, LogFaint, LogForfeit, LogEnd, LogChat:
		return true
	default:
		return false
	}
}

// Creature is a player-owned creature instance joined with its species stats.
type Creature struct {
	ID            int64  `json:"id"`
	OwnerID       int64  `json:"ownerId"`
	Nickname      string `json:"nickname,omitempty"`
	Species       string `json:"species"`
	Level         int    `json:"level"`
	Experience    int    `json:"experience"`
	BaseHP        int    `json:"baseHp"`
	Attack        int    `json:"attack"`
	Defence       int    `json:"defence"`
	SpAttack      int    `json:"spAttack"`
	SpDefence     int    `json:"spDefence"`
	Speed         int    `json:"speed"`
	PrimaryType   string `json:"primaryType"`
	SecondaryType string `json:"secondaryType,omitempty"`
}

// Name returns the nickname, falling back to the species name.
func (c Creature) Name() string {
	if c.Nickname != "" {
		return c.Nickname
	}
	return c.Species
}

// HasType reports whether t is one of the creature's types, case-insensitively.
func (c Creature) HasType(t string) bool {
	return strings.EqualFold(c.PrimaryType, t) ||
		(c.SecondaryType != "" && strings.EqualFold(c.SecondaryType, t))
}

// Move is a catalog move.
type Move struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Category Category `json:"category"`
	Power    int      `json:"power"`
}

// LogEntry is one narrative line of a battle.
type LogEntry struct {
	BattleID   int64     `json:"battleId"`
	Seq        int64     `json:"seq"`
	Message    string    `json:"message"`
	Type       LogType   `json:"type"`
	ActorID    *int64    `json:"actorId,omitempty"`
	AcceptedAt time.Time `json:"timestamp"`
}

// MoveUse is the append-only audit record of one resolved move.
type MoveUse struct {
	BattleID           int64     `json:"battleId"`
	Seq                int64     `json:"seq"`
	AttackerID         int64     `json:"attackerId"`
	DefenderID         int64     `json:"defenderId"`
	AttackerCreatureID int64     `json:"attackerCreatureId"`
	DefenderCreatureID int64     `json:"defenderCreatureId"`
	MoveID             int64     `json:"moveId"`
	Damage             int       `json:"damage"`
	AcceptedAt         time.Time `json:"timestamp"`
}

// Record is the durable battle row.
type Record struct {
	ID           int64     `json:"id"`
	PlayerA      int64     `json:"playerA"`
	PlayerAName  string    `json:"playerAName"`
	PlayerB      *int64    `json:"playerB,omitempty"`
	PlayerBName  string    `json:"playerBName,omitempty"`
	Code         string    `json:"code"`
	Status       Status    `json:"status"`
	IsRandom     bool      `json:"isRandom"`
	WinnerID     *int64    `json:"winnerId,omitempty"`
	LoserID      *int64    `json:"loserId,omitempty"`
	CurrentTurn  *int64    `json:"currentTurn,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// IsParticipant reports whether playerID is bound to the record.
func (r Record) IsParticipant(playerID int64) bool {
	return r.PlayerA == playerID || (r.PlayerB != nil && *r.PlayerB == playerID)
}

// Choice is one chosen-creature row of a battle.
type Choice struct {
	PlayerID   int64 `json:"playerId"`
	CreatureID int64 `json:"creatureId"`
	Slot       int   `json:"slot"`
	Active     bool  `json:"active"`
}

// Reward is the experience granted to one creature when a battle ends.
type Reward struct {
	CreatureID int64 `json:"creatureId"`
	OwnerID    int64 `json:"ownerId"`
	XP         int   `json:"xp"`
}

// RewardResult is a Reward after it has been applied to the creature.
type RewardResult struct {
	Reward
	Experience int  `json:"experience"`
	Level      int  `json:"level"`
	LeveledUp  bool `json:"leveledUp"`
}
