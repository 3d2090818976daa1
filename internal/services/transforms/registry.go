// Package transforms is the vocabulary of named, parameterized column
// transforms. Every transform is pure, preserves the row index and maps
// missing inputs (NaN) to missing outputs.
package transforms

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"LighthouseMacro/internal/domain/models"
)

// Env gives binary transforms access to other columns of the same panel.
type Env struct {
	Dates []time.Time
	// Resolve returns the column named id: a series, derived column or composite.
	Resolve func(id string) ([]float64, error)
}

func (e *Env) resolve(id string, n int) ([]float64, error) {
	if e == nil || e.Resolve == nil {
		return nil, fmt.Errorf("no column resolver for %q", id)
	}
	col, err := e.Resolve(id)
	if err != nil {
		return nil, err
	}
	if len(col) != n {
		return nil, fmt.Errorf("column %q has %d rows, want %d", id, len(col), n)
	}
	return col, nil
}

type parser func(Params) (op, error)

var library = map[string]parser{
	"diff":              parseDiff,
	"pct_change":        parsePctChange,
	"annualized_growth": parseAnnualizedGrowth,
	"moving_average":    parseMovingAverage,
	"zscore":            parseZScore,
	"percentile_rank":   parsePercentileRank,
	"rolling_std":       parseRollingStd,
	"rolling_corr":      parseRollingCorr,
	"index_to_base":     parseIndexToBase,
	"ratio":             pairwise(ratio),
	"spread":            pairwise(spread),
	"negate":            parseNegate,
	"winsorize":         parseWinsorize,
	"ewma":              parseEWMA,
}

// Names lists every registered transform.
func Names() []string {
	names := make([]string, 0, len(library))
	for n := range library {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func bind(step models.TransformStep) (op, error) {
	parse, ok := library[step.Name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q (known: %s)", step.Name, strings.Join(Names(), ", "))
	}
	fn, err := parse(Params(step.Params))
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", step.Name, err)
	}
	return fn, nil
}

// Validate checks that step names a known transform with valid parameters.
func Validate(step models.TransformStep) error {
	_, err := bind(step)
	return err
}

// References returns the column ids a chain reads besides its input.
func References(chain []models.TransformStep) []string {
	var refs []string
	for _, step := range chain {
		if other, ok := step.Params["other"].(string); ok && other != "" {
			refs = append(refs, other)
		}
	}
	return refs
}

// Apply runs one transform over x.
func Apply(x []float64, step models.TransformStep, env *Env) ([]float64, error) {
	fn, err := bind(step)
	if err != nil {
		return nil, err
	}
	out, err := fn(x, env)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", step.Name, err)
	}
	return out, nil
}

// ApplyChain feeds x through chain in order. An empty chain returns a copy.
func ApplyChain(x []float64, chain []models.TransformStep, env *Env) ([]float64, error) {
	out := append([]float64(nil), x...)
	for _, step := range chain {
		var err error
		if out, err = Apply(out, step, env); err != nil {
			return nil, err
		}
	}
	return out, nil
}
