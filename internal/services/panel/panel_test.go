package panel

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/pkg/util"
)

type memReader map[string][]models.Observation

func (m memReader) Get(_ context.Context, id string, start, end time.Time) ([]models.Observation, error) {
	var out []models.Observation
	for _, o := range m[id] {
		if (!start.IsZero() && o.Date.Before(start)) || (!end.IsZero() && o.Date.After(end)) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func d(s string) time.Time {
	t, err := util.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func ob(id, date string, v float64) models.Observation {
	return models.Observation{SeriesID: id, Date: d(date), Value: v}
}

var catalog = &models.SeriesCatalog{Series: []models.Series{
	{ID: "M", Frequency: models.Monthly, PublicationLagDays: 14},
	{ID: "D", Frequency: models.Daily},
	{ID: "E", Frequency: models.Daily},
}}

func valueAt(t *testing.T, p *Panel, id, date string) float64 {
	t.Helper()
	col, ok := p.Column(id)
	require.True(t, ok)
	for i, dt := range p.Dates {
		if dt.Equal(d(date)) {
			return col[i]
		}
	}
	t.Fatalf("date %s outside panel", date)
	return 0
}

func TestBuild_ForwardFillMonthly(t *testing.T) {
	r := memReader{"M": {ob("M", "2024-01-31", 1), ob("M", "2024-02-29", 2)}}
	p, err := NewBuilder(r, catalog, nil).Build(context.Background(), Request{
		SeriesIDs: []string{"M"}, Start: d("2024-01-01"), End: d("2024-04-30"), Fill: FillForward,
	})
	require.NoError(t, err)

	assert.True(t, math.IsNaN(valueAt(t, p, "M", "2024-01-30")))
	assert.Equal(t, 1.0, valueAt(t, p, "M", "2024-02-01"))
	assert.Equal(t, 1.0, valueAt(t, p, "M", "2024-02-28"))
	assert.Equal(t, 2.0, valueAt(t, p, "M", "2024-02-29"))
	assert.Equal(t, 2.0, valueAt(t, p, "M", "2024-03-01"))
	assert.Equal(t, 2.0, valueAt(t, p, "M", "2024-03-28"))
	assert.True(t, math.IsNaN(valueAt(t, p, "M", "2024-03-29")), "no fill past one native period")
}

func TestBuild_CalendarAndOrder(t *testing.T) {
	r := memReader{
		"D": {ob("D", "2023-12-29", 9), ob("D", "2024-01-02", 10), ob("D", "2024-01-03", 11)},
		"E": nil,
	}
	p, err := NewBuilder(r, catalog, nil).Build(context.Background(), Request{
		SeriesIDs: []string{"E", "D"}, Start: d("2024-01-01"), End: d("2024-01-05"),
	})
	require.NoError(t, err)

	require.Len(t, p.Dates, 5)
	assert.Equal(t, d("2024-01-01"), p.Dates[0])
	assert.Equal(t, d("2024-01-05"), p.Dates[4])
	assert.Equal(t, []string{"E", "D"}, p.IDs)

	e, _ := p.Column("E")
	for _, v := range e {
		assert.True(t, math.IsNaN(v), "empty series is all missing")
	}
	_, ok := p.FirstObservation("E")
	assert.False(t, ok)

	assert.Equal(t, 9.0, valueAt(t, p, "D", "2024-01-01"), "seeded from history before start")
	assert.Equal(t, 11.0, valueAt(t, p, "D", "2024-01-03"))
	assert.True(t, math.IsNaN(valueAt(t, p, "D", "2024-01-04")), "daily series stops at last observation")

	first, ok := p.FirstObservation("D")
	require.True(t, ok)
	assert.Equal(t, d("2023-12-29"), first)
}

func TestBuild_FillNone(t *testing.T) {
	r := memReader{"M": {ob("M", "2024-01-31", 1), ob("M", "2024-02-29", 2)}}
	p, err := NewBuilder(r, catalog, nil).Build(context.Background(), Request{
		SeriesIDs: []string{"M"}, Start: d("2024-01-30"), End: d("2024-03-01"), Fill: FillNone,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, valueAt(t, p, "M", "2024-01-31"))
	assert.True(t, math.IsNaN(valueAt(t, p, "M", "2024-02-01")))
	assert.Equal(t, 2.0, valueAt(t, p, "M", "2024-02-29"))
	assert.True(t, math.IsNaN(valueAt(t, p, "M", "2024-03-01")))
}

func TestBuild_ExplicitMissingIsNotCarried(t *testing.T) {
	r := memReader{"D": {ob("D", "2024-01-01", 1), ob("D", "2024-01-02", math.NaN()), ob("D", "2024-01-04", 4)}}
	p, err := NewBuilder(r, catalog, nil).Build(context.Background(), Request{
		SeriesIDs: []string{"D"}, Start: d("2024-01-01"), End: d("2024-01-04"),
	})
	require.NoError(t, err)
	col, _ := p.Column("D")
	assert.Equal(t, 1.0, col[0])
	assert.True(t, math.IsNaN(col[1]))
	assert.True(t, math.IsNaN(col[2]))
	assert.Equal(t, 4.0, col[3])
}

func TestBuild_PublicationLag(t *testing.T) {
	r := memReader{"M": {ob("M", "2024-01-31", 1), ob("M", "2024-02-29", 2)}}
	b := NewBuilder(r, catalog, nil)

	// Feb 29 + 14 days = Mar 14, not yet published on Mar 10
	p, err := b.Build(context.Background(), Request{
		SeriesIDs: []string{"M"}, Start: d("2024-02-01"), End: d("2024-03-10"), AsOf: d("2024-03-10"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, valueAt(t, p, "M", "2024-02-28"))
	assert.True(t, math.IsNaN(valueAt(t, p, "M", "2024-02-29")), "Jan value expires after its period")

	p, err = b.Build(context.Background(), Request{
		SeriesIDs: []string{"M"}, Start: d("2024-02-01"), End: d("2024-03-20"), AsOf: d("2024-03-14"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, valueAt(t, p, "M", "2024-03-14"))
}

func TestBuild_Errors(t *testing.T) {
	b := NewBuilder(memReader{}, catalog, nil)
	tests := []Request{
		{SeriesIDs: []string{"D", "D"}, Start: d("2024-01-01"), End: d("2024-01-02")},
		{SeriesIDs: []string{"nope"}, Start: d("2024-01-01"), End: d("2024-01-02")},
		{SeriesIDs: []string{"D"}, Start: d("2024-01-03"), End: d("2024-01-02")},
		{SeriesIDs: []string{"D"}, Start: d("2024-01-01"), End: d("2024-01-02"), Fill: "backward"},
	}
	for _, req := range tests {
		_, err := b.Build(context.Background(), req)
		assert.True(t, apperr.IsKind(err, apperr.KindConfig), "%v", err)
	}
}
