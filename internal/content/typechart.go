// Package content loads battle content files shipped with the server.
package content

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// MaxMultiplier bounds a single chart entry.
const MaxMultiplier = 4.0

// typeChartFile is the on-disk shape: attacking type to defending type to
// multiplier. Pairs left out are neutral.
type typeChartFile struct {
	Effectiveness map[string]map[string]float64 `yaml:"effectiveness"`
}

// ParseTypeChart decodes a type chart document.
//
// Postcondition: Entries are sorted by attacking then defending type, with
// lower-cased names. Every problem in the document is reported at once.
func ParseTypeChart(r io.Reader) ([]postgres.TypeEntry, error) {
	var f typeChartFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding type chart: %w", err)
	}
	if len(f.Effectiveness) == 0 {
		return nil, errors.New("type chart has no effectiveness entries")
	}

	var errs []error
	seen := make(map[[2]string]bool)
	var out []postgres.TypeEntry
	for atk, row := range f.Effectiveness {
		a := strings.ToLower(strings.TrimSpace(atk))
		if a == "" {
			errs = append(errs, errors.New("empty attacking type"))
			continue
		}
		for def, mult := range row {
			d := strings.ToLower(strings.TrimSpace(def))
			switch {
			case d == "":
				errs = append(errs, fmt.Errorf("%s: empty defending type", a))
				continue
			case mult < 0 || mult > MaxMultiplier:
				errs = append(errs, fmt.Errorf("%s->%s: multiplier %g outside [0, %g]", a, d, mult, MaxMultiplier))
				continue
			case seen[[2]string{a, d}]:
				errs = append(errs, fmt.Errorf("%s->%s: listed twice", a, d))
				continue
			}
			seen[[2]string{a, d}] = true
			out = append(out, postgres.TypeEntry{Attacking: a, Defending: d, Multiplier: mult})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	slices.SortFunc(out, func(x, y postgres.TypeEntry) int {
		return cmp.Or(cmp.Compare(x.Attacking, y.Attacking), cmp.Compare(x.Defending, y.Defending))
	})
	return out, nil
}

// LoadTypeChart reads and parses the type chart at path.
func LoadTypeChart(path string) ([]postgres.TypeEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening type chart: %w", err)
	}
	defer f.Close()
	entries, err := ParseTypeChart(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}
