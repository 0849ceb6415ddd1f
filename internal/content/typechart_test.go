package content

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

func TestParseTypeChart(t *testing.T) {
	entries, err := ParseTypeChart(strings.NewReader(`
effectiveness:
  Water:
    fire: 2
    grass: 0.5
  fire:
    grass: 2
    water: 0.5
  normal:
    ghost: 0
`))
	require.NoError(t, err)
	assert.Equal(t, []postgres.TypeEntry{
		{Attacking: "fire", Defending: "grass", Multiplier: 2},
		{Attacking: "fire", Defending: "water", Multiplier: 0.5},
		{Attacking: "normal", Defending: "ghost", Multiplier: 0},
		{Attacking: "water", Defending: "fire", Multiplier: 2},
		{Attacking: "water", Defending: "grass", Multiplier: 0.5},
	}, entries)
}

func TestParseTypeChartRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "effectiveness: {}\n",
		"unknown field":  "types:\n  fire: {}\n",
		"negative":       "effectiveness:\n  fire:\n    grass: -1\n",
		"too large":      "effectiveness:\n  fire:\n    grass: 8\n",
		"case duplicate": "effectiveness:\n  fire:\n    grass: 2\n  Fire:\n    grass: 2\n",
		"not yaml":       "effectiveness: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTypeChart(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseTypeChartReportsEveryProblem(t *testing.T) {
	_, err := ParseTypeChart(strings.NewReader("effectiveness:\n  fire:\n    grass: -1\n    water: 9\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fire->grass")
	assert.Contains(t, err.Error(), "fire->water")
}

func TestLoadTypeChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.yaml")
	require.NoError(t, os.WriteFile(path, []byte("effectiveness:\n  fire:\n    grass: 2\n"), 0o644))
	entries, err := LoadTypeChart(path)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = LoadTypeChart(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedTypeChartParses(t *testing.T) {
	entries, err := LoadTypeChart(filepath.Join("..", "..", "content", "type_chart.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestPropertyValidMultipliersRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mult := rapid.SampledFrom([]float64{0, 0.25, 0.5, 1, 2, 4}).Draw(t, "mult")
		typ := rapid.StringMatching(`[a-z]{3,8}`).Draw(t, "type")
		doc := "effectiveness:\n  " + typ + ":\n    normal: " + strconv.FormatFloat(mult, 'g', -1, 64) + "\n"
		entries, err := ParseTypeChart(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("valid chart rejected: %v", err)
		}
		if len(entries) != 1 || entries[0].Multiplier != mult {
			t.Fatalf("got %+v, want multiplier %g", entries, mult)
		}
	})
}
