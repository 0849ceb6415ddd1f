package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/internal/testutil"
)

func TestCatalogRepositories(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	ctx := context.Background()

	sprout := pc.InsertSpecies(t, testutil.SpeciesFixture{
		Name: "Sproutle", BaseHP: 45, Attack: 49, Defence: 49, SpAttack: 65, SpDefence: 65, Speed: 45,
		PrimaryType: "grass", SecondaryType: "poison",
	})
	owned := pc.InsertCreature(t, 7, sprout, "", 12)
	pc.InsertCreature(t, 7, sprout, "Leafy", 3)
	pc.InsertCreature(t, 8, sprout, "", 5)

	creatures := postgres.NewCreatureRepository(pc.RawPool)
	moves := postgres.NewMoveRepository(pc.RawPool)
	chart := postgres.NewTypeChartRepository(pc.RawPool)

	t.Run("creatures by owner carry species stats", func(t *testing.T) {
		list, err := creatures.ListByOwner(ctx, 7)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "Sproutle", list[0].Name())
		assert.Equal(t, "Leafy", list[1].Name())
		assert.Equal(t, 45, list[0].BaseHP)
		assert.True(t, list[0].HasType("poison"))

		_, err = creatures.Get(ctx, 424242)
		assert.ErrorIs(t, err, postgres.ErrCreatureNotFound)

		many, err := creatures.GetMany(ctx, []int64{owned, 424242})
		require.NoError(t, err)
		assert.Len(t, many, 1)
		assert.Contains(t, many, owned)
	})

	t.Run("usable moves are capped and ordered by required level", func(t *testing.T) {
		levels := []int{1, 3, 5, 7, 9, 11, 20}
		ids := make(map[int]int64, len(levels))
		for _, lvl := range levels {
			ids[lvl] = pc.InsertMove(t, sprout, "Move"+string(rune('A'+lvl)), "grass", "special", 10*lvl, lvl)
		}

		usable, err := moves.Usable(ctx, owned, 4)
		require.NoError(t, err)
		require.Len(t, usable, 4)
		var got []int
		for _, m := range usable {
			got = append(got, m.RequiredLevel)
		}
		assert.Equal(t, []int{11, 9, 7, 5}, got, "level 20 move is not yet learnable")
		assert.Equal(t, ids[11], usable[0].ID)
		assert.Equal(t, battle.CategorySpecial, usable[0].Category)

		m, err := moves.Get(ctx, ids[20])
		require.NoError(t, err)
		assert.Equal(t, 200, m.Power)

		_, err = moves.Get(ctx, 424242)
		assert.ErrorIs(t, err, postgres.ErrMoveNotFound)
	})

	t.Run("type chart replace and load", func(t *testing.T) {
		n, err := chart.Replace(ctx, []postgres.TypeEntry{
			{Attacking: "Fire", Defending: "Grass", Multiplier: 2},
			{Attacking: "water", Defending: "fire", Multiplier: 2},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		n, err = chart.Replace(ctx, []postgres.TypeEntry{
			{Attacking: "fire", Defending: "grass", Multiplier: 2},
			{Attacking: "fire", Defending: "poison", Multiplier: 1},
			{Attacking: "grass", Defending: "fire", Multiplier: 0.5},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		loaded, err := chart.Load(ctx)
		require.NoError(t, err)
		assert.Len(t, loaded, 3)
		assert.Equal(t, 2.0, loaded.Multiplier("FIRE", "grass"))
		assert.Equal(t, 1.0, loaded.Multiplier("water", "fire"), "replaced rows are gone")
		assert.Equal(t, 2.0, loaded.Effectiveness("fire", "grass", "poison"))
	})
}
