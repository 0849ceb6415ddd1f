package battle

import (
	"math"
	"strings"
)

// TypePair keys the type chart by attacking and defending type.
type TypePair struct {
	Attacking string
	Defending string
}

// TypeChart maps type pairs to damage multipliers. Keys are lower-case.
type TypeChart map[TypePair]float64

// Multiplier returns the multiplier for one attacking/defending pair.
//
// Postcondition: Returns 1.0 for pairs not present in the chart.
func (c TypeChart) Multiplier(attacking, defending string) float64 {
	if v, ok := c[TypePair{strings.ToLower(attacking), strings.ToLower(defending)}]; ok {
		return v
	}
	return 1.0
}

// Effectiveness applies the chart once per defending type. A single-typed
// defender has its primary type applied twice.
func (c TypeChart) Effectiveness(moveType, primary, secondary string) float64 {
	if secondary == "" {
		secondary = primary
	}
	return c.Multiplier(moveType, primary) * c.Multiplier(moveType, secondary)
}

// DamageInput carries every term of the damage formula.
type DamageInput struct {
	Level         int
	Power         int
	Attack        int
	Defense       int
	STAB          bool
	Effectiveness float64
	// Factor is the random variance multiplier in [0.85, 1.0].
	Factor float64
}

// Damage computes the damage dealt by one move.
//
//	raw = floor(((2*level/5 + 2) * power * attack / defense) / 50 + 2)
//	raw = floor(raw * 1.5) when STAB
//	raw = floor(raw * effectiveness)
//	raw = floor(raw * factor)
//
// Precondition: Level, Power and Attack are non-negative.
// Postcondition: Returns at least 1.
func Damage(in DamageInput) int {
	defense := float64(in.Defense)
	if defense < 1 {
		defense = 1
	}
	base := (2*float64(in.Level)/5 + 2) * float64(in.Power) * float64(in.Attack) / defense
	raw := math.Floor(base/50 + 2)
	if in.STAB {
		raw = math.Floor(raw * 1.5)
	}
	raw = math.Floor(raw * in.Effectiveness)
	raw = math.Floor(raw * in.Factor)
	if raw < 1 {
		return 1
	}
	return int(raw)
}

// MaxHP returns the maximum hit points of a creature.
//
// Postcondition: Returns floor(((2*baseHP + 100) * level) / 100) + 10.
func MaxHP(baseHP, level int) int {
	return ((2*baseHP+100)*level)/100 + 10
}
