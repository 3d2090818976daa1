package composite

import (
	"context"
	"fmt"
	"time"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	"LighthouseMacro/internal/services/panel"
	"LighthouseMacro/internal/services/transforms"
	applogger "LighthouseMacro/pkg/logger"
	"LighthouseMacro/pkg/util"
)

// Result is one materialization pass: the output panel of successfully
// materialized composites plus an outcome per declared composite.
type Result struct {
	Panel    *models.IndicatorPanel
	Outcomes []models.CompositeOutcome
	// Columns holds every computed derived column and composite.
	Columns map[string][]float64
}

type Materializer struct {
	catalog *Catalog
	metrics repository.Metrics
	l       *applogger.Logger
}

func NewMaterializer(catalog *Catalog, metrics repository.Metrics, l *applogger.Logger) *Materializer {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Materializer{catalog: catalog, metrics: metrics, l: l}
}

// Materialize computes every derived column and composite in dependency
// order. A failing node fails only itself and its dependents. The returned
// error is reserved for cancellation.
func (m *Materializer) Materialize(ctx context.Context, p *panel.Panel) (*Result, error) {
	res := &Result{
		Panel:   &models.IndicatorPanel{Dates: p.Dates},
		Columns: make(map[string][]float64),
	}
	failed := make(map[string]error)
	env := &transforms.Env{
		Dates: p.Dates,
		Resolve: func(id string) ([]float64, error) {
			if col, ok := res.Columns[id]; ok {
				return col, nil
			}
			if col, ok := p.Column(id); ok {
				return col, nil
			}
			return nil, fmt.Errorf("column %q not available", id)
		},
	}

	for _, id := range m.catalog.Order() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := m.blocked(id, p, failed); err != nil {
			failed[id] = err
			continue
		}
		var (
			col []float64
			err error
		)
		if d, ok := m.catalog.Derived(id); ok {
			col, err = m.derive(d, env)
		} else {
			def, _ := m.catalog.Lookup(id)
			col, err = m.combine(def, p, env)
		}
		if err != nil {
			failed[id] = err
			continue
		}
		res.Columns[id] = col
	}

	for _, def := range m.catalog.composites {
		out := models.CompositeOutcome{IndexID: def.ID, Rows: len(p.Dates)}
		if err, ok := failed[def.ID]; ok {
			out.Status = models.CompositeFailed
			out.ErrorKind = string(apperr.KindOf(err))
			out.Reason = err.Error()
			m.l.Error("composite failed", applogger.String("index_id", def.ID), applogger.Error(err))
			m.metrics.RecordComposite(def.ID, string(models.CompositeFailed))
			res.Outcomes = append(res.Outcomes, out)
			continue
		}

		values := res.Columns[def.ID]
		column := models.IndicatorColumn{ID: def.ID, Values: values}
		if len(def.Regimes) > 0 {
			column.Regimes = make([]string, len(values))
			for i, v := range values {
				column.Regimes[i] = def.Regime(v)
			}
		}
		res.Panel.Columns = append(res.Panel.Columns, column)

		out.Status = models.CompositeMaterialized
		for i, v := range values {
			if models.IsMissing(v) {
				continue
			}
			out.Present++
			latest := v
			out.LatestDate = util.FormatDate(p.Dates[i])
			out.LatestValue = &latest
			out.Regime = def.Regime(v)
		}
		m.metrics.RecordComposite(def.ID, string(models.CompositeMaterialized))
		res.Outcomes = append(res.Outcomes, out)
	}
	return res, nil
}

// blocked reports a dependency that failed or a leaf series missing from the panel.
func (m *Materializer) blocked(id string, p *panel.Panel, failed map[string]error) error {
	for _, dep := range m.catalog.Dependencies(id) {
		if m.catalog.IsSeries(dep) {
			if _, ok := p.Column(dep); !ok {
				return apperr.Composite(id, nil, "series %s is not in the panel", dep)
			}
			continue
		}
		if _, ok := failed[dep]; ok {
			return apperr.Composite(id, nil, "depends on failed %s", dep)
		}
	}
	return nil
}

func (m *Materializer) derive(d models.DerivedDef, env *transforms.Env) ([]float64, error) {
	in, err := env.Resolve(d.Input)
	if err != nil {
		return nil, apperr.Composite(d.ID, err, "resolve input")
	}
	out, err := transforms.ApplyChain(in, d.Transforms, env)
	if err != nil {
		return nil, apperr.Composite(d.ID, err, "derive")
	}
	return out, nil
}

func (m *Materializer) combine(def models.CompositeDef, p *panel.Panel, env *transforms.Env) ([]float64, error) {
	n := len(p.Dates)
	comps := make([][]float64, len(def.Components))
	for i, c := range def.Components {
		in, err := env.Resolve(c.SeriesID)
		if err != nil {
			return nil, apperr.Composite(def.ID, err, "component %s", c.SeriesID)
		}
		col, err := transforms.ApplyChain(in, c.Transforms, env)
		if err != nil {
			return nil, apperr.Composite(def.ID, err, "component %s", c.SeriesID)
		}
		if c.Sign < 0 {
			for j := range col {
				col[j] = -col[j]
			}
		}
		comps[i] = col
	}

	start, gated := m.gate(def.ID, p)
	required := def.RequiredComponents()
	out := make([]float64, n)
	for row := 0; row < n; row++ {
		out[row] = models.Missing()
		if gated || p.Dates[row].Before(start) {
			continue
		}
		out[row] = combineRow(def, comps, row, required)
	}

	if pz := def.PostZ; pz != nil {
		params := map[string]any{}
		if pz.Expanding {
			params["expanding"] = true
		} else {
			params["window"] = pz.Window
		}
		if pz.MinValid > 0 {
			params["min_valid"] = pz.MinValid
		}
		z, err := transforms.Apply(out, models.TransformStep{Name: "zscore", Params: params}, env)
		if err != nil {
			return nil, apperr.Composite(def.ID, err, "post_z")
		}
		out = z
	}
	return out, nil
}

// gate returns the first date on which every leaf series has been observed;
// gated is true when some leaf has no observation at all.
func (m *Materializer) gate(id string, p *panel.Panel) (start time.Time, gated bool) {
	for _, s := range m.catalog.LeafSeries(id) {
		first, ok := p.FirstObservation(s)
		if !ok {
			return time.Time{}, true
		}
		if first.After(start) {
			start = first
		}
	}
	return start, false
}

func combineRow(def models.CompositeDef, comps [][]float64, row, required int) float64 {
	var sum, wsum float64
	present := 0
	for i, c := range def.Components {
		v := comps[i][row]
		if models.IsMissing(v) {
			continue
		}
		present++
		switch def.Combine {
		case models.CombineWeightedSum, models.CombineSum:
			sum += c.Weight * v
			wsum += c.Weight
		default:
			sum += v
		}
	}
	if present == 0 || present < required {
		return models.Missing()
	}
	switch def.Combine {
	case models.CombineWeightedSum:
		if wsum == 0 {
			return models.Missing()
		}
		return sum / wsum
	case models.CombineSum:
		return sum
	default:
		return sum / float64(present)
	}
}
