package models

import (
	"fmt"
	"math"
)

// TransformStep names one transform and its parameters.
type TransformStep struct {
	Name   string         `yaml:"name" json:"name" validate:"required"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

func (t TransformStep) String() string {
	if len(t.Params) == 0 {
		return t.Name
	}
	return fmt.Sprintf("%s%v", t.Name, t.Params)
}

// Component is one signed, weighted input of a composite. SeriesID may name
// a raw series, a derived column or another composite.
type Component struct {
	SeriesID   string          `yaml:"series_id" json:"series_id" validate:"required"`
	Transforms []TransformStep `yaml:"transforms,omitempty" json:"transforms,omitempty" validate:"dive"`
	Weight     float64         `yaml:"weight" json:"weight" default:"1" validate:"gt=0"`
	Sign       int             `yaml:"sign" json:"sign" default:"1" validate:"oneof=-1 1"`
}

type CombineMethod string

const (
	CombineMean        CombineMethod = "mean"
	CombineWeightedSum CombineMethod = "weighted_sum"
	CombineSum         CombineMethod = "sum"
)

// PostZ z-scores the combined column.
type PostZ struct {
	Window    int  `yaml:"window" json:"window,omitempty" validate:"gte=0"`
	Expanding bool `yaml:"expanding,omitempty" json:"expanding,omitempty"`
	MinValid  int  `yaml:"min_valid,omitempty" json:"min_valid,omitempty" validate:"gte=0"`
}

// RegimeBand covers [Min, Max). A nil bound is unbounded.
type RegimeBand struct {
	Label string   `yaml:"label" json:"label" validate:"required"`
	Min   *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max   *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

func (b RegimeBand) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v >= *b.Max {
		return false
	}
	return true
}

type CompositeDef struct {
	ID            string        `yaml:"id" json:"index_id" validate:"required"`
	Name          string        `yaml:"name" json:"name,omitempty"`
	Description   string        `yaml:"description" json:"description,omitempty"`
	Components    []Component   `yaml:"components" json:"components" validate:"required,min=1,dive"`
	Combine       CombineMethod `yaml:"combine" json:"combine_method" default:"mean" validate:"oneof=mean weighted_sum sum"`
	MinComponents int           `yaml:"min_components,omitempty" json:"min_components,omitempty" validate:"gte=0"`
	PostZ         *PostZ        `yaml:"post_z,omitempty" json:"post_z,omitempty"`
	Regimes       []RegimeBand  `yaml:"regimes,omitempty" json:"regimes,omitempty" validate:"dive"`
}

// RequiredComponents is the effective min_components (defaults to all).
func (d CompositeDef) RequiredComponents() int {
	if d.MinComponents <= 0 || d.MinComponents > len(d.Components) {
		return len(d.Components)
	}
	return d.MinComponents
}

// Regime labels v with the first matching band, or "" when none match.
func (d CompositeDef) Regime(v float64) string {
	for _, b := range d.Regimes {
		if b.Contains(v) {
			return b.Label
		}
	}
	return ""
}

// DerivedDef is a named intermediate column: a transform chain over one input.
type DerivedDef struct {
	ID          string          `yaml:"id" json:"id" validate:"required"`
	Input       string          `yaml:"input" json:"input" validate:"required"`
	Transforms  []TransformStep `yaml:"transforms" json:"transforms" validate:"required,min=1,dive"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
}

// CompositeCatalog is the composites.yaml document.
type CompositeCatalog struct {
	Derived    []DerivedDef   `yaml:"derived,omitempty" validate:"dive"`
	Composites []CompositeDef `yaml:"composites" validate:"required,min=1,dive"`
}

func (c *CompositeCatalog) Lookup(id string) (CompositeDef, bool) {
	for _, d := range c.Composites {
		if d.ID == id {
			return d, true
		}
	}
	return CompositeDef{}, false
}
