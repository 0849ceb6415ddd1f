package battle

import (
	"slices"
	"time"
)

// Participant is one side of a battle.
type Participant struct {
	ID     int64
	Name   string
	Roster []Creature
	// Active is the creature currently fighting; zero when none is selected.
	Active int64
}

func (p *Participant) creature(id int64) (*Creature, bool) {
	for i := range p.Roster {
		if p.Roster[i].ID == id {
			return &p.Roster[i], true
		}
	}
	return nil, false
}

// Session is the authoritative in-memory state of a waiting or active battle.
// A Session is not safe for concurrent use; the session registry serialises
// access per battle.
type Session struct {
	battleID     int64
	isRandom     bool
	a            *Participant
	b            *Participant
	turn         int64
	phase        Phase
	replacing    int64
	connected    map[int64]struct{}
	hp           map[int64]int
	maxHP        map[int64]int
	participated map[int64]bool
	logs         []LogEntry
	logCap       int
	seq          int64
	lastActivity time.Time
	winner       int64
	loser        int64
	reason       Reason
}

func newSession(battleID int64, isRandom bool, logCap int) *Session {
	if logCap <= 0 {
		logCap = 100
	}
	return &Session{
		battleID:     battleID,
		isRandom:     isRandom,
		phase:        PhaseAwaitingSelection,
		connected:    make(map[int64]struct{}),
		hp:           make(map[int64]int),
		maxHP:        make(map[int64]int),
		participated: make(map[int64]bool),
		logCap:       logCap,
	}
}

// ID returns the battle id.
func (s *Session) ID() int64 { return s.battleID }

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// Turn returns the identity holding the turn, or zero before the battle starts.
func (s *Session) Turn() int64 { return s.turn }

// Replacing returns the identity that must replace a fainted creature, or zero.
func (s *Session) Replacing() int64 { return s.replacing }

// Winner returns the winner and loser once finished.
func (s *Session) Winner() (winner, loser int64) { return s.winner, s.loser }

// Reason returns how a finished battle ended.
func (s *Session) Reason() Reason { return s.reason }

// Seq returns the last sequence number assigned.
func (s *Session) Seq() int64 { return s.seq }

// LastActivity returns the time of the last accepted action or connection change.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// Participants returns the ids of the bound participants in seat order.
func (s *Session) Participants() []int64 {
	ids := []int64{s.a.ID}
	if s.b != nil {
		ids = append(ids, s.b.ID)
	}
	return ids
}

// IsParticipant reports whether id is one of the bound participants.
func (s *Session) IsParticipant(id int64) bool {
	return s.participant(id) != nil
}

func (s *Session) participant(id int64) *Participant {
	switch {
	case s.a != nil && s.a.ID == id:
		return s.a
	case s.b != nil && s.b.ID == id:
		return s.b
	}
	return nil
}

func (s *Session) opponent(id int64) *Participant {
	switch {
	case s.a != nil && s.a.ID == id:
		return s.b
	case s.b != nil && s.b.ID == id:
		return s.a
	}
	return nil
}

// Opponent returns the other participant's id, or zero when unknown.
func (s *Session) Opponent(id int64) int64 {
	if o := s.opponent(id); o != nil {
		return o.ID
	}
	return 0
}

// Name returns a participant's display name.
func (s *Session) Name(id int64) string {
	if p := s.participant(id); p != nil {
		return p.Name
	}
	return ""
}

// AddOpponent binds the second participant after a join.
//
// Precondition: The session has no second participant yet.
// Postcondition: Returns false and leaves the session unchanged when a
// second participant is already bound or p.ID is the first participant.
func (s *Session) AddOpponent(p Participant) bool {
	if s.b != nil || p.ID == s.a.ID {
		return false
	}
	s.b = &p
	s.seed(s.b)
	return true
}

func (s *Session) seed(p *Participant) {
	for _, c := range p.Roster {
		m := MaxHP(c.BaseHP, c.Level)
		s.maxHP[c.ID] = m
		if _, ok := s.hp[c.ID]; !ok {
			s.hp[c.ID] = m
		}
	}
	if p.Active != 0 {
		s.participated[p.Active] = true
	}
}

// HP returns the current and maximum hit points of a creature in the session.
func (s *Session) HP(creatureID int64) (current, maximum int) {
	return s.hp[creatureID], s.maxHP[creatureID]
}

// Fainted reports whether a creature has been reduced to 0 HP in this session.
func (s *Session) Fainted(creatureID int64) bool {
	m, ok := s.maxHP[creatureID]
	return ok && m > 0 && s.hp[creatureID] <= 0
}

// HasHealthy reports whether a participant still has a creature above 0 HP.
func (s *Session) HasHealthy(playerID int64) bool {
	p := s.participant(playerID)
	if p == nil {
		return false
	}
	for _, c := range p.Roster {
		if !s.Fainted(c.ID) {
			return true
		}
	}
	return false
}

func (s *Session) hasReserve(p *Participant, except int64) bool {
	for _, c := range p.Roster {
		if c.ID != except && !s.Fainted(c.ID) {
			return true
		}
	}
	return false
}

// Connect adds id to the connected set.
func (s *Session) Connect(id int64) {
	s.connected[id] = struct{}{}
}

// Disconnect removes id from the connected set.
//
// Postcondition: Returns true when the connected set is now empty.
func (s *Session) Disconnect(id int64) bool {
	delete(s.connected, id)
	return len(s.connected) == 0
}

// IsConnected reports whether id is in the connected set.
func (s *Session) IsConnected(id int64) bool {
	_, ok := s.connected[id]
	return ok
}

// Connected returns the connected identities in ascending order.
func (s *Session) Connected() []int64 {
	ids := make([]int64, 0, len(s.connected))
	for id := range s.connected {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// BothConnected reports whether both participants are bound and connected.
func (s *Session) BothConnected() bool {
	return s.b != nil && s.IsConnected(s.a.ID) && s.IsConnected(s.b.ID)
}

// Started reports whether both participants have selected a creature.
func (s *Session) Started() bool {
	return s.phase != PhaseAwaitingSelection
}

// NextSeq reserves the next sequence number.
func (s *Session) NextSeq() int64 {
	s.seq++
	return s.seq
}

// AppendLog adds an entry to the capped log buffer, advancing the sequence
// counter when the entry is newer.
func (s *Session) AppendLog(e LogEntry) {
	if e.Seq > s.seq {
		s.seq = e.Seq
	}
	s.logs = append(s.logs, e)
	if over := len(s.logs) - s.logCap; over > 0 {
		s.logs = slices.Delete(s.logs, 0, over)
	}
}

// Logs returns a copy of the buffered log entries, oldest first.
func (s *Session) Logs() []LogEntry {
	return slices.Clone(s.logs)
}

// CreatureView is a roster entry with its session hit points.
type CreatureView struct {
	Creature
	HP      int  `json:"hp"`
	MaxHP   int  `json:"maxHp"`
	Fainted bool `json:"fainted"`
}

// PlayerView is one participant as sent to clients.
type PlayerView struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name"`
	Active int64          `json:"activeCreatureId,omitempty"`
	Roster []CreatureView `json:"roster"`
}

// View is a read-only snapshot of a session for events and diagnostics.
type View struct {
	BattleID  int64        `json:"battleId"`
	Phase     Phase        `json:"phase"`
	Turn      int64        `json:"currentTurn,omitempty"`
	Replacing int64        `json:"replacing,omitempty"`
	Players   []PlayerView `json:"players"`
	Connected []int64      `json:"connected"`
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	v := View{
		BattleID:  s.battleID,
		Phase:     s.phase,
		Turn:      s.turn,
		Replacing: s.replacing,
		Connected: s.Connected(),
	}
	for _, p := range []*Participant{s.a, s.b} {
		if p == nil {
			continue
		}
		pv := PlayerView{ID: p.ID, Name: p.Name, Active: p.Active}
		for _, c := range p.Roster {
			pv.Roster = append(pv.Roster, s.creatureView(c))
		}
		v.Players = append(v.Players, pv)
	}
	return v
}

func (s *Session) creatureView(c Creature) CreatureView {
	hp, m := s.HP(c.ID)
	return CreatureView{Creature: c, HP: hp, MaxHP: m, Fainted: s.Fainted(c.ID)}
}
