package battle

import (
	"cmp"
	"fmt"
	"slices"

	apperr "github.com/cory-johannsen/arena/internal/errors"
)

// Snapshot is the persisted state a session is rebuilt from.
type Snapshot struct {
	Record    Record
	Choices   []Choice
	Creatures []Creature
	// Moves is the complete move history of the battle.
	Moves []MoveUse
	// Logs is the most recent tail of stored log entries.
	Logs []LogEntry
}

// Reconstruct rebuilds a session from persisted state. The connected set
// starts empty.
//
// Precondition: snap.Record.Status is waiting or active.
// Postcondition: Identical snapshots yield sessions with identical Views.
func Reconstruct(snap Snapshot, logCap int) (*Session, error) {
	rec := snap.Record
	if rec.Status == StatusFinished {
		return nil, apperr.InvalidState("battle is finished")
	}

	creatures := make(map[int64]Creature, len(snap.Creatures))
	for _, c := range snap.Creatures {
		creatures[c.ID] = c
	}
	choices := slices.Clone(snap.Choices)
	slices.SortStableFunc(choices, func(x, y Choice) int {
		if c := cmp.Compare(x.Slot, y.Slot); c != 0 {
			return c
		}
		return cmp.Compare(x.CreatureID, y.CreatureID)
	})

	build := func(id int64, name string) (*Participant, error) {
		p := &Participant{ID: id, Name: name}
		for _, ch := range choices {
			if ch.PlayerID != id {
				continue
			}
			c, ok := creatures[ch.CreatureID]
			if !ok {
				return nil, apperr.Internal(fmt.Errorf("creature %d missing from snapshot", ch.CreatureID),
					"battle roster is inconsistent")
			}
			p.Roster = append(p.Roster, c)
			if ch.Active {
				p.Active = c.ID
			}
		}
		return p, nil
	}

	s := newSession(rec.ID, rec.IsRandom, logCap)
	a, err := build(rec.PlayerA, rec.PlayerAName)
	if err != nil {
		return nil, err
	}
	s.a = a
	s.seed(a)
	if rec.PlayerB != nil {
		b, err := build(*rec.PlayerB, rec.PlayerBName)
		if err != nil {
			return nil, err
		}
		s.b = b
		s.seed(b)
	}

	moves := slices.Clone(snap.Moves)
	slices.SortFunc(moves, func(x, y MoveUse) int { return cmp.Compare(x.Seq, y.Seq) })
	for _, m := range moves {
		if hp, ok := s.hp[m.DefenderCreatureID]; ok {
			hp -= m.Damage
			if hp < 0 {
				hp = 0
			}
			s.hp[m.DefenderCreatureID] = hp
		}
		s.participated[m.AttackerCreatureID] = true
		s.participated[m.DefenderCreatureID] = true
		if m.Seq > s.seq {
			s.seq = m.Seq
		}
	}

	logs := slices.Clone(snap.Logs)
	slices.SortFunc(logs, func(x, y LogEntry) int { return cmp.Compare(x.Seq, y.Seq) })
	for _, l := range logs {
		s.AppendLog(l)
	}

	s.phase, s.replacing = s.derivePhase(rec.Status)
	if s.phase != PhaseAwaitingSelection {
		if rec.CurrentTurn != nil && s.IsParticipant(*rec.CurrentTurn) {
			s.turn = *rec.CurrentTurn
		} else {
			s.turn = s.a.ID
		}
	}
	s.lastActivity = rec.LastActivity
	return s, nil
}

func (s *Session) derivePhase(status Status) (Phase, int64) {
	if status != StatusActive || s.b == nil || s.a.Active == 0 || s.b.Active == 0 {
		return PhaseAwaitingSelection, 0
	}
	for _, p := range []*Participant{s.a, s.b} {
		if s.Fainted(p.Active) && s.hasReserve(p, p.Active) {
			return PhaseAwaitingReplacement, p.ID
		}
	}
	return PhaseInProgress, 0
}
