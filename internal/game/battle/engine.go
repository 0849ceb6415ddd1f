package battle

import (
	"fmt"
	"time"

	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
)

// Roller supplies the random draws the engine needs.
type Roller interface {
	// CoinFlip returns 0 or 1.
	CoinFlip() int
	// DamageFactor returns a multiplier in [0.85, 1.0].
	DamageFactor() float64
}

// Engine validates and resolves battle actions. It holds no per-battle state
// and is safe for concurrent use across sessions.
type Engine struct {
	roller Roller
	chart  TypeChart
	clock  clock.Clock
}

// NewEngine creates an Engine.
//
// Precondition: roller and clk must be non-nil; chart may be nil (all pairs neutral).
func NewEngine(roller Roller, chart TypeChart, clk clock.Clock) *Engine {
	return &Engine{roller: roller, chart: chart, clock: clk}
}

// Chart returns the type chart in use.
func (e *Engine) Chart() TypeChart { return e.chart }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// SelectPlan describes an accepted creature selection or replacement.
type SelectPlan struct {
	BattleID   int64
	ActorID    int64
	CreatureID int64
	Replace    bool
	// Starts is true when this selection moves the battle into play.
	Starts bool
	Phase  Phase
	Turn   int64
	Log    LogEntry
}

// MovePlan describes an accepted move and all of its consequences.
type MovePlan struct {
	Record        MoveUse
	Move          Move
	Attacker      Creature
	Defender      Creature
	STAB          bool
	Effectiveness float64
	Factor        float64
	DefenderHP    int
	DefenderMaxHP int
	Fainted       bool
	Phase         Phase
	Turn          int64
	Replacing     int64
	Logs          []LogEntry
	// End is non-nil when the move finished the battle.
	End *EndPlan
}

// EndPlan describes how a battle finishes.
type EndPlan struct {
	BattleID int64
	WinnerID int64
	LoserID  int64
	Reason   Reason
	Rewards  []Reward
	Logs     []LogEntry
}

// PlanSelect validates choosing the first active creature.
//
// Postcondition: The session is not mutated.
func (e *Engine) PlanSelect(s *Session, actorID, creatureID int64) (*SelectPlan, error) {
	p := s.participant(actorID)
	if p == nil {
		return nil, apperr.Forbidden("not a participant in this battle")
	}
	if s.phase != PhaseAwaitingSelection {
		return nil, apperr.InvalidStatef("cannot select a creature while %s", s.phase)
	}
	c, err := s.selectable(p, creatureID)
	if err != nil {
		return nil, err
	}

	plan := &SelectPlan{
		BattleID:   s.battleID,
		ActorID:    actorID,
		CreatureID: creatureID,
		Phase:      PhaseAwaitingSelection,
	}
	if o := s.opponent(actorID); o != nil && o.Active != 0 {
		plan.Starts = true
		plan.Phase = PhaseInProgress
		plan.Turn = s.turn
		if !s.IsParticipant(plan.Turn) {
			plan.Turn = s.a.ID
			if e.roller.CoinFlip() == 1 {
				plan.Turn = s.b.ID
			}
		}
	}
	plan.Log = s.entry(s.seq+1, e.clock.Now(), LogSwitch, &actorID,
		fmt.Sprintf("%s sent out %s!", p.Name, c.Name()))
	return plan, nil
}

// PlanReplace validates replacing a fainted active creature.
//
// Postcondition: The session is not mutated. The planned turn belongs to the
// other participant.
func (e *Engine) PlanReplace(s *Session, actorID, creatureID int64) (*SelectPlan, error) {
	p := s.participant(actorID)
	if p == nil {
		return nil, apperr.Forbidden("not a participant in this battle")
	}
	if s.phase != PhaseAwaitingReplacement {
		return nil, apperr.InvalidStatef("cannot replace a creature while %s", s.phase)
	}
	if s.replacing != actorID {
		return nil, apperr.InvalidState("no fainted creature to replace")
	}
	c, err := s.selectable(p, creatureID)
	if err != nil {
		return nil, err
	}
	return &SelectPlan{
		BattleID:   s.battleID,
		ActorID:    actorID,
		CreatureID: creatureID,
		Replace:    true,
		Phase:      PhaseInProgress,
		Turn:       s.Opponent(actorID),
		Log: s.entry(s.seq+1, e.clock.Now(), LogSwitch, &actorID,
			fmt.Sprintf("%s sent out %s!", p.Name, c.Name())),
	}, nil
}

func (s *Session) selectable(p *Participant, creatureID int64) (*Creature, error) {
	c, ok := p.creature(creatureID)
	if !ok {
		return nil, apperr.InvalidSelection("creature is not in your battle roster")
	}
	if s.Fainted(creatureID) {
		return nil, apperr.InvalidSelection("creature has fainted")
	}
	return c, nil
}

// ApplySelect commits a SelectPlan.
func (s *Session) ApplySelect(plan *SelectPlan) {
	p := s.participant(plan.ActorID)
	p.Active = plan.CreatureID
	s.participated[plan.CreatureID] = true
	s.phase = plan.Phase
	if plan.Turn != 0 {
		s.turn = plan.Turn
	}
	if plan.Replace {
		s.replacing = 0
	}
	s.AppendLog(plan.Log)
	s.Touch(plan.Log.AcceptedAt)
}

// PlanMove validates a move and computes its outcome.
//
// Postcondition: On error the session is not mutated. On success the session
// is in PhaseResolving until ApplyMove or AbortMove is called.
func (e *Engine) PlanMove(s *Session, actorID int64, move Move, attackerID, defenderID int64) (*MovePlan, error) {
	if err := e.CanMove(s, actorID); err != nil {
		return nil, err
	}
	actor := s.participant(actorID)
	target := s.opponent(actorID)

	attacker, err := s.combatant(attackerID, actor)
	if err != nil {
		return nil, err
	}
	defender, err := s.combatant(defenderID, target)
	if err != nil {
		return nil, err
	}

	attackStat, defenseStat := attacker.SpAttack, defender.SpDefence
	if move.Category == CategoryPhysical {
		attackStat, defenseStat = attacker.Attack, defender.Defence
	}
	stab := attacker.HasType(move.Type)
	eff := e.chart.Effectiveness(move.Type, defender.PrimaryType, defender.SecondaryType)
	factor := e.roller.DamageFactor()
	dmg := Damage(DamageInput{
		Level:         attacker.Level,
		Power:         move.Power,
		Attack:        attackStat,
		Defense:       defenseStat,
		STAB:          stab,
		Effectiveness: eff,
		Factor:        factor,
	})

	hp, maxHP := s.HP(defender.ID)
	hp -= dmg
	if hp < 0 {
		hp = 0
	}

	now := e.clock.Now()
	seq := s.seq + 1
	plan := &MovePlan{
		Record: MoveUse{
			BattleID:           s.battleID,
			Seq:                seq,
			AttackerID:         actorID,
			DefenderID:         target.ID,
			AttackerCreatureID: attacker.ID,
			DefenderCreatureID: defender.ID,
			MoveID:             move.ID,
			Damage:             dmg,
			AcceptedAt:         now,
		},
		Move:          move,
		Attacker:      *attacker,
		Defender:      *defender,
		STAB:          stab,
		Effectiveness: eff,
		Factor:        factor,
		DefenderHP:    hp,
		DefenderMaxHP: maxHP,
		Fainted:       hp == 0,
		Phase:         PhaseInProgress,
		Turn:          target.ID,
	}

	switch {
	case !plan.Fainted:
	case s.hasReserve(target, defender.ID):
		seq++
		plan.Logs = append(plan.Logs, s.entry(seq, now, LogFaint, &target.ID,
			fmt.Sprintf("%s's %s fainted!", target.Name, defender.Name())))
		plan.Phase = PhaseAwaitingReplacement
		plan.Turn = actorID
		plan.Replacing = target.ID
	default:
		seq++
		plan.Logs = append(plan.Logs, s.entry(seq, now, LogFaint, &target.ID,
			fmt.Sprintf("%s's %s fainted!", target.Name, defender.Name())))
		plan.Phase = PhaseFinished
		plan.Turn = actorID
		end := s.planEnd(actorID, target.ID, ReasonNormal, seq+1, now)
		plan.Logs = append(plan.Logs, end.Logs...)
		end.Logs = nil
		plan.End = end
	}

	s.phase = PhaseResolving
	return plan, nil
}

// CanMove reports whether actorID may act now, without looking at the move
// or the creatures involved.
func (e *Engine) CanMove(s *Session, actorID int64) error {
	if s.participant(actorID) == nil {
		return apperr.Forbidden("not a participant in this battle")
	}
	if s.phase != PhaseInProgress {
		return apperr.InvalidStatef("cannot use a move while %s", s.phase)
	}
	if s.turn != actorID {
		return apperr.OutOfTurn("it is not your turn")
	}
	return nil
}

func (s *Session) combatant(creatureID int64, owner *Participant) (*Creature, error) {
	c, ok := owner.creature(creatureID)
	if !ok {
		if s.findCreature(creatureID) == nil {
			return nil, apperr.NotFoundf("creature %d not found in this battle", creatureID)
		}
		return nil, apperr.InvalidSelection("creature does not belong to the expected side")
	}
	if owner.Active != creatureID {
		return nil, apperr.InvalidSelection("creature is not the active creature")
	}
	return c, nil
}

func (s *Session) findCreature(id int64) *Creature {
	for _, p := range []*Participant{s.a, s.b} {
		if p == nil {
			continue
		}
		if c, ok := p.creature(id); ok {
			return c
		}
	}
	return nil
}

// ApplyMove commits a MovePlan produced by PlanMove.
func (s *Session) ApplyMove(plan *MovePlan) {
	s.hp[plan.Defender.ID] = plan.DefenderHP
	s.participated[plan.Attacker.ID] = true
	s.participated[plan.Defender.ID] = true
	if plan.Record.Seq > s.seq {
		s.seq = plan.Record.Seq
	}
	s.AppendLog(s.moveNarrative(plan))
	for _, l := range plan.Logs {
		s.AppendLog(l)
	}
	s.phase = plan.Phase
	s.turn = plan.Turn
	s.replacing = plan.Replacing
	if plan.End != nil {
		s.finish(plan.End)
	}
	s.Touch(plan.Record.AcceptedAt)
}

// AbortMove returns a resolving session to PhaseInProgress after a failed write.
func (s *Session) AbortMove() {
	if s.phase == PhaseResolving {
		s.phase = PhaseInProgress
	}
}

func (s *Session) moveNarrative(plan *MovePlan) LogEntry {
	actor := plan.Record.AttackerID
	return LogEntry{
		BattleID:   s.battleID,
		Seq:        plan.Record.Seq,
		Type:       LogMove,
		ActorID:    &actor,
		AcceptedAt: plan.Record.AcceptedAt,
		Message:    MoveNarrative(s.Name(actor), plan.Attacker.Name(), plan.Move.Name, plan.Defender.Name(), plan.Record.Damage),
	}
}

// MoveNarrative renders the log line for a resolved move.
func MoveNarrative(player, attacker, move, defender string, damage int) string {
	return fmt.Sprintf("%s's %s used %s on %s for %d damage.", player, attacker, move, defender, damage)
}

// PlanForfeit validates a forfeit by actorID.
//
// Postcondition: The session is not mutated. The opponent is the planned winner.
func (e *Engine) PlanForfeit(s *Session, actorID int64) (*EndPlan, error) {
	p := s.participant(actorID)
	if p == nil {
		return nil, apperr.Forbidden("not a participant in this battle")
	}
	if s.phase != PhaseInProgress && s.phase != PhaseAwaitingReplacement {
		return nil, apperr.InvalidStatef("cannot forfeit while %s", s.phase)
	}
	now := e.clock.Now()
	seq := s.seq + 1
	forfeit := s.entry(seq, now, LogForfeit, &actorID, fmt.Sprintf("%s forfeited the battle.", p.Name))
	end := s.planEnd(s.Opponent(actorID), actorID, ReasonForfeit, seq+1, now)
	end.Logs = append([]LogEntry{forfeit}, end.Logs...)
	return end, nil
}

// PlanFinalize validates an explicit end request. It is accepted only when
// the claimed loser has no healthy creature left.
//
// Postcondition: The session is not mutated.
func (e *Engine) PlanFinalize(s *Session, requesterID, winnerID, loserID int64) (*EndPlan, error) {
	if !s.IsParticipant(requesterID) {
		return nil, apperr.Forbidden("not a participant in this battle")
	}
	if winnerID == loserID || !s.IsParticipant(winnerID) || !s.IsParticipant(loserID) {
		return nil, apperr.Validation("winner and loser must be the two participants")
	}
	if s.phase == PhaseAwaitingSelection || s.phase == PhaseFinished {
		return nil, apperr.InvalidStatef("cannot finalize while %s", s.phase)
	}
	if s.HasHealthy(loserID) {
		return nil, apperr.InvalidState("the claimed loser still has a healthy creature")
	}
	return s.planEnd(winnerID, loserID, ReasonNormal, s.seq+1, e.clock.Now()), nil
}

func (s *Session) planEnd(winnerID, loserID int64, reason Reason, seq int64, now time.Time) *EndPlan {
	return &EndPlan{
		BattleID: s.battleID,
		WinnerID: winnerID,
		LoserID:  loserID,
		Reason:   reason,
		Rewards:  s.rewards(winnerID, loserID),
		Logs: []LogEntry{
			s.entry(seq, now, LogEnd, &winnerID, fmt.Sprintf("%s wins the battle!", s.Name(winnerID))),
		},
	}
}

// ApplyEnd commits an EndPlan from PlanForfeit or PlanFinalize.
func (s *Session) ApplyEnd(plan *EndPlan) {
	for _, l := range plan.Logs {
		s.AppendLog(l)
	}
	s.finish(plan)
	if n := len(plan.Logs); n > 0 {
		s.Touch(plan.Logs[n-1].AcceptedAt)
	}
}

func (s *Session) finish(plan *EndPlan) {
	s.phase = PhaseFinished
	s.winner = plan.WinnerID
	s.loser = plan.LoserID
	s.reason = plan.Reason
	s.replacing = 0
}

func (s *Session) entry(seq int64, now time.Time, t LogType, actor *int64, msg string) LogEntry {
	var a *int64
	if actor != nil {
		v := *actor
		a = &v
	}
	return LogEntry{BattleID: s.battleID, Seq: seq, Message: msg, Type: t, ActorID: a, AcceptedAt: now}
}
