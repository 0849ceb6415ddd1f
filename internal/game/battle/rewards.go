package battle

const (
	// WinnerXP is granted to every surviving creature of the winner.
	WinnerXP = 75
	// LoserXP is granted to every creature of the loser that took part.
	LoserXP = 25
	// MaxLevel caps level-ups.
	MaxLevel = 100
)

// rewards computes the experience grants for a finished battle.
//
// Postcondition: Winner creatures above 0 HP receive WinnerXP; loser
// creatures that were active at any point receive LoserXP.
func (s *Session) rewards(winnerID, loserID int64) []Reward {
	var out []Reward
	if w := s.participant(winnerID); w != nil {
		for _, c := range w.Roster {
			if !s.Fainted(c.ID) {
				out = append(out, Reward{CreatureID: c.ID, OwnerID: w.ID, XP: WinnerXP})
			}
		}
	}
	if l := s.participant(loserID); l != nil {
		for _, c := range l.Roster {
			if s.participated[c.ID] {
				out = append(out, Reward{CreatureID: c.ID, OwnerID: l.ID, XP: LoserXP})
			}
		}
	}
	return out
}

// ExperienceForLevel returns the total experience required to reach level.
//
// Postcondition: Returns level^3 for level >= 1, 0 otherwise.
func ExperienceForLevel(level int) int {
	if level < 1 {
		return 0
	}
	return level * level * level
}

// LevelForExperience returns the level reached from level with total
// experience exp. Levels never decrease and never exceed MaxLevel.
func LevelForExperience(level, exp int) int {
	for level < MaxLevel && exp >= ExperienceForLevel(level+1) {
		level++
	}
	return level
}
