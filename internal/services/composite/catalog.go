// Package composite validates the composite catalog and materializes its
// indices from an aligned panel.
package composite

import (
	"fmt"
	"strings"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/services/transforms"
)

type nodeKind int

const (
	kindSeries nodeKind = iota
	kindDerived
	kindComposite
)

// Catalog is a validated, dependency-ordered view of the series and
// composite catalogs. It is immutable once built.
type Catalog struct {
	series     *models.SeriesCatalog
	kinds      map[string]nodeKind
	derived    map[string]models.DerivedDef
	composites []models.CompositeDef
	byID       map[string]int
	deps       map[string][]string
	order      []string
}

// NewCatalog cross-checks the catalogs: ids are unique across series,
// derived columns and composites; every reference resolves; transforms are
// known with valid params; there are no cycles. Violations are ConfigErrors.
func NewCatalog(series *models.SeriesCatalog, comps *models.CompositeCatalog) (*Catalog, error) {
	c := &Catalog{
		series:  series,
		kinds:   make(map[string]nodeKind),
		derived: make(map[string]models.DerivedDef),
		byID:    make(map[string]int),
		deps:    make(map[string][]string),
	}
	claim := func(id string, k nodeKind) error {
		if id == "" {
			return apperr.Config("empty id in catalog")
		}
		if _, dup := c.kinds[id]; dup {
			return apperr.Config("duplicate id %q across catalogs", id)
		}
		c.kinds[id] = k
		return nil
	}

	for _, s := range series.Series {
		if err := claim(s.ID, kindSeries); err != nil {
			return nil, err
		}
	}
	for _, d := range comps.Derived {
		if err := claim(d.ID, kindDerived); err != nil {
			return nil, err
		}
		c.derived[d.ID] = d
	}
	for i, def := range comps.Composites {
		if err := claim(def.ID, kindComposite); err != nil {
			return nil, err
		}
		c.byID[def.ID] = i
		c.composites = append(c.composites, def)
	}

	for _, d := range comps.Derived {
		deps, err := c.chainDeps(d.ID, d.Input, d.Transforms)
		if err != nil {
			return nil, err
		}
		c.deps[d.ID] = deps
	}
	for _, def := range c.composites {
		if err := validateDef(def); err != nil {
			return nil, err
		}
		var deps []string
		for _, comp := range def.Components {
			cd, err := c.chainDeps(def.ID, comp.SeriesID, comp.Transforms)
			if err != nil {
				return nil, err
			}
			deps = append(deps, cd...)
		}
		c.deps[def.ID] = dedupe(deps)
	}

	if err := c.sort(comps); err != nil {
		return nil, err
	}
	return c, nil
}

func validateDef(def models.CompositeDef) error {
	if def.MinComponents > len(def.Components) {
		return apperr.Config("composite %s: min_components %d exceeds %d components", def.ID, def.MinComponents, len(def.Components))
	}
	if pz := def.PostZ; pz != nil {
		if (pz.Window > 0) == pz.Expanding {
			return apperr.Config("composite %s: post_z needs exactly one of window or expanding", def.ID)
		}
		if pz.Window == 1 {
			return apperr.Config("composite %s: post_z window must be >= 2", def.ID)
		}
		if pz.Window > 0 && pz.MinValid > pz.Window {
			return apperr.Config("composite %s: post_z min_valid exceeds window", def.ID)
		}
	}
	for _, b := range def.Regimes {
		if b.Min != nil && b.Max != nil && *b.Min >= *b.Max {
			return apperr.Config("composite %s: regime %q has min >= max", def.ID, b.Label)
		}
	}
	return nil
}

// chainDeps validates one input plus its chain and returns the ids it reads.
func (c *Catalog) chainDeps(owner, input string, chain []models.TransformStep) ([]string, error) {
	if _, ok := c.kinds[input]; !ok {
		return nil, apperr.Config("%s references unknown series %q", owner, input)
	}
	for _, step := range chain {
		if err := transforms.Validate(step); err != nil {
			return nil, apperr.Config("%s: %v", owner, err)
		}
	}
	deps := []string{input}
	for _, ref := range transforms.References(chain) {
		if _, ok := c.kinds[ref]; !ok {
			return nil, apperr.Config("%s references unknown column %q", owner, ref)
		}
		deps = append(deps, ref)
	}
	return deps, nil
}

// sort orders derived columns and composites so every node follows its
// dependencies; ties keep declaration order.
func (c *Catalog) sort(comps *models.CompositeCatalog) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var path []string
	var visit func(id string) error
	visit = func(id string) error {
		if c.kinds[id] == kindSeries {
			return nil
		}
		switch state[id] {
		case done:
			return nil
		case visiting:
			return apperr.Config("dependency cycle: %s -> %s", strings.Join(path, " -> "), id)
		}
		state[id] = visiting
		path = append(path, id)
		for _, dep := range c.deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		c.order = append(c.order, id)
		return nil
	}
	for _, d := range comps.Derived {
		if err := visit(d.ID); err != nil {
			return err
		}
	}
	for _, def := range comps.Composites {
		if err := visit(def.ID); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Composites returns the definitions in declaration order.
func (c *Catalog) Composites() []models.CompositeDef {
	return append([]models.CompositeDef(nil), c.composites...)
}

func (c *Catalog) Lookup(id string) (models.CompositeDef, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.CompositeDef{}, false
	}
	return c.composites[i], true
}

func (c *Catalog) Derived(id string) (models.DerivedDef, bool) {
	d, ok := c.derived[id]
	return d, ok
}

// Order lists derived columns and composites in dependency order.
func (c *Catalog) Order() []string {
	return append([]string(nil), c.order...)
}

// Dependencies returns the ids node id reads directly.
func (c *Catalog) Dependencies(id string) []string {
	return append([]string(nil), c.deps[id]...)
}

func (c *Catalog) IsSeries(id string) bool {
	k, ok := c.kinds[id]
	return ok && k == kindSeries
}

// LeafSeries returns the raw series id transitively reads, in catalog order.
func (c *Catalog) LeafSeries(id string) []string {
	leaves := make(map[string]bool)
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		if c.kinds[n] == kindSeries {
			leaves[n] = true
			return
		}
		for _, dep := range c.deps[n] {
			walk(dep)
		}
	}
	walk(id)
	return c.inCatalogOrder(leaves)
}

// RequiredSeries is the union of leaf series over ids (all composites when
// ids is empty), in catalog order.
func (c *Catalog) RequiredSeries(ids ...string) []string {
	if len(ids) == 0 {
		for _, def := range c.composites {
			ids = append(ids, def.ID)
		}
	}
	union := make(map[string]bool)
	for _, id := range ids {
		for _, s := range c.LeafSeries(id) {
			union[s] = true
		}
	}
	return c.inCatalogOrder(union)
}

func (c *Catalog) inCatalogOrder(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, s := range c.series.Series {
		if set[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

// Describe renders a human-readable summary of a composite.
func (c *Catalog) Describe(id string) (string, error) {
	def, ok := c.Lookup(id)
	if !ok {
		return "", apperr.Config("unknown index %q", id)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s", def.ID)
	if def.Name != "" {
		fmt.Fprintf(&b, " (%s)", def.Name)
	}
	b.WriteString("\n")
	if def.Description != "" {
		fmt.Fprintf(&b, "  %s\n", def.Description)
	}
	fmt.Fprintf(&b, "  combine: %s, min_components: %d\n", def.Combine, def.RequiredComponents())
	for _, comp := range def.Components {
		sign := "+"
		if comp.Sign < 0 {
			sign = "-"
		}
		steps := make([]string, 0, len(comp.Transforms))
		for _, s := range comp.Transforms {
			steps = append(steps, s.String())
		}
		fmt.Fprintf(&b, "  %s %g x %s", sign, comp.Weight, comp.SeriesID)
		if len(steps) > 0 {
			fmt.Fprintf(&b, " | %s", strings.Join(steps, " | "))
		}
		b.WriteString("\n")
	}
	if pz := def.PostZ; pz != nil {
		if pz.Expanding {
			b.WriteString("  post_z: expanding\n")
		} else {
			fmt.Fprintf(&b, "  post_z: window %d\n", pz.Window)
		}
	}
	for _, band := range def.Regimes {
		fmt.Fprintf(&b, "  regime %-10s %s\n", band.Label, bandRange(band))
	}
	fmt.Fprintf(&b, "  series: %s\n", strings.Join(c.LeafSeries(id), ", "))
	return b.String(), nil
}

func bandRange(b models.RegimeBand) string {
	lo, hi := "-inf", "+inf"
	if b.Min != nil {
		lo = fmt.Sprintf("%g", *b.Min)
	}
	if b.Max != nil {
		hi = fmt.Sprintf("%g", *b.Max)
	}
	return fmt.Sprintf("[%s, %s)", lo, hi)
}
