// Package panel aligns raw series onto a contiguous daily calendar.
package panel

import (
	"context"
	"fmt"
	"time"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	applogger "LighthouseMacro/pkg/logger"
	"LighthouseMacro/pkg/util"
)

type FillPolicy string

const (
	// FillForward carries each observation until the next one, and past the
	// last one for at most one native period.
	FillForward FillPolicy = "forward"
	// FillNone keeps values only on exact observation dates.
	FillNone FillPolicy = "none"
)

// Reader is the slice of the raw store the builder needs.
type Reader interface {
	Get(ctx context.Context, seriesID string, start, end time.Time) ([]models.Observation, error)
}

// Request describes one panel. A zero AsOf disables publication-lag mode.
type Request struct {
	SeriesIDs []string
	Start     time.Time
	End       time.Time
	Fill      FillPolicy
	AsOf      time.Time
}

// Panel is a date-indexed table, one column per requested series in request order.
type Panel struct {
	Dates   []time.Time
	IDs     []string
	Columns [][]float64
	// first visible present observation per column; absent when none exist up to End
	firstObs map[string]time.Time
	index    map[string]int
}

func (p *Panel) Column(id string) ([]float64, bool) {
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return p.Columns[i], true
}

// FirstObservation is the earliest visible observation of id at or before
// the panel end.
func (p *Panel) FirstObservation(id string) (time.Time, bool) {
	d, ok := p.firstObs[id]
	return d, ok
}

func (p *Panel) Len() int { return len(p.Dates) }

type Builder struct {
	reader  Reader
	catalog *models.SeriesCatalog
	l       *applogger.Logger
}

func NewBuilder(reader Reader, catalog *models.SeriesCatalog, l *applogger.Logger) *Builder {
	if l == nil {
		l = applogger.Nop()
	}
	return &Builder{reader: reader, catalog: catalog, l: l}
}

// Build reads every requested series from the store and aligns it.
func (b *Builder) Build(ctx context.Context, req Request) (*Panel, error) {
	start, end := util.Day(req.Start), util.Day(req.End)
	if start.After(end) {
		return nil, apperr.Config("panel start %s is after end %s", util.FormatDate(start), util.FormatDate(end))
	}
	fill := req.Fill
	if fill == "" {
		fill = FillForward
	}
	if fill != FillForward && fill != FillNone {
		return nil, apperr.Config("unknown fill policy %q", fill)
	}

	series := make([]models.Series, 0, len(req.SeriesIDs))
	seen := make(map[string]bool, len(req.SeriesIDs))
	for _, id := range req.SeriesIDs {
		if seen[id] {
			return nil, apperr.Config("series %s requested twice", id)
		}
		seen[id] = true
		s, ok := b.catalog.Lookup(id)
		if !ok {
			return nil, apperr.Config("series %s is not in the catalog", id)
		}
		series = append(series, s)
	}

	p := &Panel{
		Dates:    util.DailyRange(start, end),
		IDs:      append([]string(nil), req.SeriesIDs...),
		Columns:  make([][]float64, len(series)),
		firstObs: make(map[string]time.Time, len(series)),
		index:    make(map[string]int, len(series)),
	}
	for i, s := range series {
		// history before start is needed to seed forward fill
		obs, err := b.reader.Get(ctx, s.ID, time.Time{}, end)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.ID, err)
		}
		if !req.AsOf.IsZero() {
			obs = visibleAsOf(obs, s.PublicationLagDays, util.Day(req.AsOf))
		}
		for _, o := range obs {
			if !o.IsMissing() {
				p.firstObs[s.ID] = o.Date
				break
			}
		}
		p.Columns[i] = align(p.Dates, obs, s.Frequency, fill)
		p.index[s.ID] = i
	}

	b.l.Debug("panel built",
		applogger.Int("rows", len(p.Dates)),
		applogger.Int("columns", len(p.IDs)),
		applogger.String("fill", string(fill)),
		applogger.Date("as_of", req.AsOf),
	)
	return p, nil
}

// visibleAsOf keeps observations published by asOf: date + lag <= asOf.
func visibleAsOf(obs []models.Observation, lagDays int, asOf time.Time) []models.Observation {
	out := make([]models.Observation, 0, len(obs))
	for _, o := range obs {
		if !util.AddDays(o.Date, lagDays).After(asOf) {
			out = append(out, o)
		}
	}
	return out
}

// align maps date-ordered observations onto dates.
func align(dates []time.Time, obs []models.Observation, freq models.Frequency, fill FillPolicy) []float64 {
	out := make([]float64, len(dates))
	j := -1
	for i, d := range dates {
		for j+1 < len(obs) && !obs[j+1].Date.After(d) {
			j++
		}
		out[i] = models.Missing()
		if j < 0 {
			continue
		}
		cur := obs[j]
		switch fill {
		case FillNone:
			if cur.Date.Equal(d) {
				out[i] = cur.Value
			}
		default:
			if j == len(obs)-1 && d.After(freq.HorizonEnd(cur.Date)) {
				continue
			}
			out[i] = cur.Value
		}
	}
	return out
}
