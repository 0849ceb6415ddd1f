package battle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDamage_ReferenceScenario(t *testing.T) {
	got := Damage(DamageInput{
		Level:         50,
		Power:         80,
		Attack:        100,
		Defense:       80,
		Effectiveness: 1.0,
		Factor:        1.0,
	})
	assert.Equal(t, 46, got)
}

func TestDamage_STABEffectivenessAndFactorFloorEachStep(t *testing.T) {
	got := Damage(DamageInput{
		Level:         50,
		Power:         80,
		Attack:        100,
		Defense:       80,
		STAB:          true,
		Effectiveness: 2.0,
		Factor:        0.85,
	})
	// 46 -> 69 (STAB) -> 138 (x2) -> floor(117.3)
	assert.Equal(t, 117, got)
}

func TestDamage_ImmuneStillDealsOne(t *testing.T) {
	got := Damage(DamageInput{Level: 5, Power: 40, Attack: 10, Defense: 10, Effectiveness: 0, Factor: 1})
	assert.Equal(t, 1, got)
}

func TestDamage_ZeroDefenseTreatedAsOne(t *testing.T) {
	got := Damage(DamageInput{Level: 1, Power: 10, Attack: 10, Defense: 0, Effectiveness: 1, Factor: 1})
	assert.Positive(t, got)
}

func TestMaxHP(t *testing.T) {
	assert.Equal(t, 110, MaxHP(50, 50))
	assert.Equal(t, 620, MaxHP(255, 100))
	assert.Equal(t, 11, MaxHP(1, 1))
}

func TestTypeChart(t *testing.T) {
	chart := TypeChart{
		{"fire", "grass"}: 2.0,
		{"fire", "water"}: 0.5,
	}
	assert.Equal(t, 1.0, chart.Multiplier("fire", "rock"), "unlisted pair is neutral")
	assert.Equal(t, 2.0, chart.Multiplier("Fire", "GRASS"), "lookups ignore case")
	assert.Equal(t, 4.0, chart.Effectiveness("fire", "grass", ""), "single type applies primary twice")
	assert.Equal(t, 1.0, chart.Effectiveness("fire", "grass", "water"))
	assert.Equal(t, 1.0, TypeChart(nil).Effectiveness("fire", "grass", ""))
}

// TestDamage_AtLeastOne_Property verifies damage >= 1 for every valid input.
func TestDamage_AtLeastOne_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := DamageInput{
			Level:         rapid.IntRange(1, 100).Draw(rt, "level"),
			Power:         rapid.IntRange(0, 250).Draw(rt, "power"),
			Attack:        rapid.IntRange(1, 500).Draw(rt, "attack"),
			Defense:       rapid.IntRange(1, 500).Draw(rt, "defense"),
			STAB:          rapid.Bool().Draw(rt, "stab"),
			Effectiveness: rapid.SampledFrom([]float64{0, 0.25, 0.5, 1, 2, 4}).Draw(rt, "eff"),
			Factor:        rapid.Float64Range(0.85, 1.0).Draw(rt, "factor"),
		}
		if d := Damage(in); d < 1 {
			rt.Fatalf("damage %d < 1 for %+v", d, in)
		}
	})
}

// TestDamage_MonotonicInPower_Property verifies more power never deals less damage.
func TestDamage_MonotonicInPower_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := DamageInput{
			Level:         rapid.IntRange(1, 100).Draw(rt, "level"),
			Power:         rapid.IntRange(0, 200).Draw(rt, "power"),
			Attack:        rapid.IntRange(1, 300).Draw(rt, "attack"),
			Defense:       rapid.IntRange(1, 300).Draw(rt, "defense"),
			Effectiveness: 1,
			Factor:        1,
		}
		stronger := in
		stronger.Power += rapid.IntRange(1, 50).Draw(rt, "delta")
		if Damage(stronger) < Damage(in) {
			rt.Fatalf("damage decreased with power: %+v", in)
		}
	})
}

func TestLevelForExperience(t *testing.T) {
	assert.Equal(t, 5, LevelForExperience(5, 215))
	assert.Equal(t, 6, LevelForExperience(5, 216))
	assert.Equal(t, 7, LevelForExperience(5, 343))
	assert.Equal(t, MaxLevel, LevelForExperience(99, 10_000_000))
	assert.Equal(t, 10, LevelForExperience(10, 0), "levels never decrease")
}
