package testutil

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// MemoryStore is an in-memory stand-in for the postgres battle, creature and
// move repositories with the same transactional outcomes. It is safe for
// concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	battles   map[int64]battle.Record
	choices   map[int64][]battle.Choice
	moveUses  map[int64][]battle.MoveUse
	logs      map[int64][]battle.LogEntry
	creatures map[int64]battle.Creature
	catalog   map[int64]battle.Move
	learnset  map[int64][]postgres.LearnableMove

	failWrites error
	taken      map[string]bool
	snapshots  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		battles:   make(map[int64]battle.Record),
		choices:   make(map[int64][]battle.Choice),
		moveUses:  make(map[int64][]battle.MoveUse),
		logs:      make(map[int64][]battle.LogEntry),
		creatures: make(map[int64]battle.Creature),
		catalog:   make(map[int64]battle.Move),
		learnset:  make(map[int64][]postgres.LearnableMove),
		taken:     make(map[string]bool),
	}
}

// AddCreature stores or replaces a creature.
func (s *MemoryStore) AddCreature(c battle.Creature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creatures[c.ID] = c
}

// AddMove stores or replaces a catalog move.
func (s *MemoryStore) AddMove(m battle.Move) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[m.ID] = m
}

// Record returns the stored battle row.
func (s *MemoryStore) Record(id int64) battle.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battles[id]
}

// StoredLogs returns the stored log rows of a battle in insertion order.
func (s *MemoryStore) StoredLogs(id int64) []battle.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logs[id])
}

// StoredMoves returns the stored move-use rows of a battle.
func (s *MemoryStore) StoredMoves(id int64) []battle.MoveUse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.moveUses[id])
}

// SetFailWrites makes every battle write return err until reset with nil.
func (s *MemoryStore) SetFailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

// TakeCode makes Create report code as already in use.
func (s *MemoryStore) TakeCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taken[code] = true
}

// AddLearnable appends to the usable moves of a creature. Callers add moves
// in the order Usable should return them.
func (s *MemoryStore) AddLearnable(creatureID int64, m postgres.LearnableMove) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learnset[creatureID] = append(s.learnset[creatureID], m)
}

// Creature returns the stored creature, including any experience awarded.
func (s *MemoryStore) Creature(id int64) battle.Creature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creatures[id]
}

// Choices returns the stored creature choices of a battle.
func (s *MemoryStore) Choices(battleID int64) []battle.Choice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.choices[battleID])
}

// BattleCount returns the number of stored battles.
func (s *MemoryStore) BattleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.battles)
}

// Snapshots returns how many times a session snapshot was read.
func (s *MemoryStore) Snapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots
}

func (s *MemoryStore) addChoices(battleID, playerID int64, ids []int64) {
	for i, id := range ids {
		s.choices[battleID] = append(s.choices[battleID], battle.Choice{PlayerID: playerID, CreatureID: id, Slot: i})
	}
}

func (s *MemoryStore) Create(_ context.Context, p postgres.CreateParams) (battle.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken[p.Code] {
		return battle.Record{}, postgres.ErrCodeTaken
	}
	for _, r := range s.battles {
		if r.Status == battle.StatusWaiting && r.Code == p.Code {
			return battle.Record{}, postgres.ErrCodeTaken
		}
	}
	s.nextID++
	rec := battle.Record{
		ID: s.nextID, PlayerA: p.PlayerID, PlayerAName: p.PlayerName, Code: p.Code,
		Status: battle.StatusWaiting, IsRandom: p.IsRandom, CreatedAt: p.At, LastActivity: p.At,
	}
	s.battles[rec.ID] = rec
	s.addChoices(rec.ID, p.PlayerID, p.CreatureIDs)
	return rec, nil
}

func (s *MemoryStore) joinLocked(rec battle.Record, p postgres.JoinParams) battle.Record {
	b := p.PlayerID
	rec.PlayerB = &b
	rec.PlayerBName = p.PlayerName
	rec.Status = battle.StatusActive
	rec.LastActivity = p.At
	s.battles[rec.ID] = rec
	s.addChoices(rec.ID, p.PlayerID, p.CreatureIDs)
	return rec
}

func (s *MemoryStore) Join(_ context.Context, p postgres.JoinParams) (battle.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.battles {
		if r.Status != battle.StatusWaiting || r.Code != p.Code {
			continue
		}
		if r.PlayerA == p.PlayerID {
			return battle.Record{}, postgres.ErrSelfJoin
		}
		if r.PlayerB != nil {
			return battle.Record{}, postgres.ErrBattleFull
		}
		return s.joinLocked(r, p), nil
	}
	return battle.Record{}, postgres.ErrBattleNotFound
}

func (s *MemoryStore) JoinRandom(_ context.Context, p postgres.JoinParams) (battle.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *battle.Record
	for _, r := range s.battles {
		if r.Status != battle.StatusWaiting || !r.IsRandom || r.PlayerB != nil || r.PlayerA == p.PlayerID {
			continue
		}
		if best == nil || r.ID < best.ID {
			best = &r
		}
	}
	if best == nil {
		return battle.Record{}, false, nil
	}
	return s.joinLocked(*best, p), true, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (battle.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.battles[id]
	if !ok {
		return battle.Record{}, postgres.ErrBattleNotFound
	}
	return r, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, id int64, logTail int) (battle.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots++
	r, ok := s.battles[id]
	if !ok {
		return battle.Snapshot{}, postgres.ErrBattleNotFound
	}
	snap := battle.Snapshot{
		Record:  r,
		Choices: slices.Clone(s.choices[id]),
		Moves:   slices.Clone(s.moveUses[id]),
	}
	for _, ch := range s.choices[id] {
		snap.Creatures = append(snap.Creatures, s.creatures[ch.CreatureID])
	}
	logs := s.logs[id]
	if len(logs) > logTail {
		logs = logs[len(logs)-logTail:]
	}
	snap.Logs = slices.Clone(logs)
	return snap, nil
}

func (s *MemoryStore) ApplySelection(_ context.Context, w postgres.SelectionWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	r := s.battles[w.BattleID]
	if r.Status == battle.StatusFinished {
		return postgres.ErrBattleNotActive
	}
	if w.Turn != 0 {
		t := w.Turn
		r.CurrentTurn = &t
	}
	r.LastActivity = w.Log.AcceptedAt
	s.battles[w.BattleID] = r
	for i, ch := range s.choices[w.BattleID] {
		if ch.PlayerID == w.PlayerID {
			s.choices[w.BattleID][i].Active = ch.CreatureID == w.CreatureID
		}
	}
	s.logs[w.BattleID] = append(s.logs[w.BattleID], w.Log)
	return nil
}

func (s *MemoryStore) RecordMove(_ context.Context, w postgres.MoveWrite) ([]battle.RewardResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return nil, s.failWrites
	}
	id := w.Move.BattleID
	r := s.battles[id]
	if r.Status != battle.StatusActive {
		return nil, postgres.ErrBattleNotActive
	}
	t := w.Turn
	r.CurrentTurn = &t
	s.battles[id] = r
	s.moveUses[id] = append(s.moveUses[id], w.Move)
	s.logs[id] = append(s.logs[id], w.Logs...)
	if w.End != nil {
		return s.finishLocked(*w.End)
	}
	return nil, nil
}

func (s *MemoryStore) Finish(_ context.Context, w postgres.EndWrite) ([]battle.RewardResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return nil, s.failWrites
	}
	if s.battles[w.BattleID].Status != battle.StatusActive {
		return nil, postgres.ErrBattleNotActive
	}
	s.logs[w.BattleID] = append(s.logs[w.BattleID], w.Logs...)
	return s.finishLocked(w)
}

func (s *MemoryStore) finishLocked(w postgres.EndWrite) ([]battle.RewardResult, error) {
	r := s.battles[w.BattleID]
	winner, loser := w.WinnerID, w.LoserID
	r.Status = battle.StatusFinished
	r.WinnerID = &winner
	r.LoserID = &loser
	r.CurrentTurn = nil
	s.battles[w.BattleID] = r

	var out []battle.RewardResult
	for _, rw := range w.Rewards {
		c := s.creatures[rw.CreatureID]
		c.Experience += rw.XP
		level := battle.LevelForExperience(c.Level, c.Experience)
		res := battle.RewardResult{Reward: rw, Experience: c.Experience, Level: level, LeveledUp: level != c.Level}
		c.Level = level
		s.creatures[c.ID] = c
		out = append(out, res)
	}
	return out, nil
}

func (s *MemoryStore) AppendLog(_ context.Context, e battle.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	s.logs[e.BattleID] = append(s.logs[e.BattleID], e)
	return nil
}

func (s *MemoryStore) Logs(_ context.Context, id int64) ([]battle.LogEntry, error) {
	return s.StoredLogs(id), nil
}

func (s *MemoryStore) MoveNarratives(_ context.Context, id int64) ([]battle.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.battles[id]
	var out []battle.LogEntry
	for _, m := range s.moveUses[id] {
		player := r.PlayerAName
		if m.AttackerID != r.PlayerA {
			player = r.PlayerBName
		}
		actor := m.AttackerID
		out = append(out, battle.LogEntry{
			BattleID: id, Seq: m.Seq, Type: battle.LogMove, ActorID: &actor, AcceptedAt: m.AcceptedAt,
			Message: battle.MoveNarrative(player, s.creatures[m.AttackerCreatureID].Name(),
				s.catalog[m.MoveID].Name, s.creatures[m.DefenderCreatureID].Name(), m.Damage),
		})
	}
	return out, nil
}

func (s *MemoryStore) list(limit int, keep func(battle.Record) bool) []battle.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []battle.Record
	for _, r := range s.battles {
		if keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b battle.Record) int { return cmp.Compare(b.ID, a.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) Active(_ context.Context, requesterID int64, limit int) ([]battle.Record, error) {
	return s.list(limit, func(r battle.Record) bool {
		if r.Status == battle.StatusFinished {
			return false
		}
		return !(r.Status == battle.StatusWaiting && r.PlayerA == requesterID)
	}), nil
}

func (s *MemoryStore) History(_ context.Context, playerID int64, limit int) ([]battle.Record, error) {
	return s.list(limit, func(r battle.Record) bool { return r.IsParticipant(playerID) }), nil
}

func (s *MemoryStore) Recent(_ context.Context, playerID int64, limit int) ([]postgres.RecentBattle, error) {
	var out []postgres.RecentBattle
	for _, r := range s.list(limit, func(r battle.Record) bool { return r.IsParticipant(playerID) }) {
		rb := postgres.RecentBattle{Record: r}
		logs := s.StoredLogs(r.ID)
		rb.LogCount = len(logs)
		if n := len(logs); n > 0 {
			msg, at := logs[n-1].Message, logs[n-1].AcceptedAt
			rb.LastMessage, rb.LastLogAt = &msg, &at
		}
		out = append(out, rb)
	}
	return out, nil
}

// MemoryCreatures exposes a MemoryStore as a creature repository.
type MemoryCreatures struct{ *MemoryStore }

func (c MemoryCreatures) ListByOwner(_ context.Context, ownerID int64) ([]battle.Creature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []battle.Creature
	for _, cr := range c.creatures {
		if cr.OwnerID == ownerID {
			out = append(out, cr)
		}
	}
	slices.SortFunc(out, func(a, b battle.Creature) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (c MemoryCreatures) Get(_ context.Context, id int64) (battle.Creature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cr, ok := c.creatures[id]
	if !ok {
		return battle.Creature{}, postgres.ErrCreatureNotFound
	}
	return cr, nil
}

func (c MemoryCreatures) GetMany(_ context.Context, ids []int64) (map[int64]battle.Creature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]battle.Creature)
	for _, id := range ids {
		if cr, ok := c.creatures[id]; ok {
			out[id] = cr
		}
	}
	return out, nil
}

// MemoryMoves exposes a MemoryStore as a move repository.
type MemoryMoves struct{ *MemoryStore }

func (m MemoryMoves) Get(_ context.Context, id int64) (battle.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.catalog[id]
	if !ok {
		return battle.Move{}, postgres.ErrMoveNotFound
	}
	return mv, nil
}

func (m MemoryMoves) Usable(_ context.Context, creatureID int64, limit int) ([]postgres.LearnableMove, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.learnset[creatureID])
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Fighter returns a level 50 creature with 110 maximum HP whose physical
// Tackle (power 80) deals 46 damage to another Fighter when the type chart
// is empty and the damage factor is 1.
func Fighter(id, ownerID int64, nickname, typ string) battle.Creature {
	return battle.Creature{
		ID: id, OwnerID: ownerID, Nickname: nickname, Species: "Testmon", Level: 50, Experience: 125000,
		BaseHP: 50, Attack: 100, Defence: 80, SpAttack: 100, SpDefence: 80, Speed: 50,
		PrimaryType: typ,
	}
}
