package usecase

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/services/transforms"
	"LighthouseMacro/pkg/config"
	"LighthouseMacro/pkg/util"
)

func TestShippedCatalogsLoad(t *testing.T) {
	series, cat, err := LoadCatalogs("../../config/series.yaml", "../../config/composites.yaml")
	require.NoError(t, err)

	ids := make([]string, 0, len(cat.Composites()))
	for _, c := range cat.Composites() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"LCI", "LFI", "LDI", "YFS", "CLG", "EMD", "MRI", "LPI"}, ids)

	// MRI needs every component index first
	order := cat.Order()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, dep := range []string{"LFI", "LDI", "YFS", "EMD", "LCI"} {
		assert.Less(t, pos[dep], pos["MRI"], dep)
	}
	assert.Less(t, pos["SPX_MA200"], pos["SPX_GAP"])

	for _, id := range cat.RequiredSeries() {
		_, ok := series.Lookup(id)
		assert.True(t, ok, id)
	}
	assert.Contains(t, cat.RequiredSeries("LCI"), "GDP")

	def, ok := cat.Lookup("CLG")
	require.True(t, ok)
	assert.Equal(t, models.CombineSum, def.Combine)
	assert.Equal(t, 1.0, def.Components[0].Weight)
	assert.Equal(t, -1, def.Components[1].Sign)
	assert.Len(t, def.Regimes, 4)
}

// Appending later rows must never move an earlier value of any shipped
// chain, or as-of builds and revisions would leak into the past.
func TestShippedChainsIgnoreLaterRows(t *testing.T) {
	_, cat, err := LoadCatalogs("../../config/series.yaml", "../../config/composites.yaml")
	require.NoError(t, err)

	const short, long = 2200, 2400
	column := func(id string, n int) []float64 {
		seed := 0.0
		for _, r := range id {
			seed += float64(r)
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = 100 + 10*math.Sin(float64(i)/37+seed) + 0.01*float64(i)
			if i%11 == 0 {
				out[i] += 5 * math.Cos(seed*float64(i))
			}
		}
		return out
	}
	run := func(input string, chain []models.TransformStep, n int) []float64 {
		env := &transforms.Env{
			Dates:   util.DailyRange(util.Date(2015, 1, 1), util.AddDays(util.Date(2015, 1, 1), n-1)),
			Resolve: func(id string) ([]float64, error) { return column(id, n), nil },
		}
		out, err := transforms.ApplyChain(column(input, n), chain, env)
		require.NoError(t, err)
		return out
	}
	check := func(owner, input string, chain []models.TransformStep) {
		a, b := run(input, chain, short), run(input, chain, long)
		for i := range a {
			if math.IsNaN(a[i]) {
				assert.True(t, math.IsNaN(b[i]), "%s/%s row %d", owner, input, i)
				continue
			}
			if !assert.InDelta(t, a[i], b[i], 1e-9, "%s/%s row %d", owner, input, i) {
				return
			}
		}
	}

	for _, id := range cat.Order() {
		if d, ok := cat.Derived(id); ok {
			check(id, d.Input, d.Transforms)
		}
	}
	for _, def := range cat.Composites() {
		for _, c := range def.Components {
			check(def.ID, c.SeriesID, c.Transforms)
		}
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := config.Load("../../config/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Fetch.FanOut)
	assert.Equal(t, "forward", cfg.Build.FillPolicy)
	assert.False(t, cfg.ClickHouse.Enabled)
}

func TestLoadCatalogs_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	seriesPath := write("series.yaml", `
series:
  - {id: A, provider: economic-data, frequency: daily, units: percent}
`)

	_, _, err := LoadCatalogs(filepath.Join(dir, "missing.yaml"), seriesPath)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))

	unknownRef := write("unknown.yaml", `
composites:
  - id: X
    components:
      - series_id: NOPE
`)
	_, _, err = LoadCatalogs(seriesPath, unknownRef)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))

	cycle := write("cycle.yaml", `
composites:
  - id: X
    components: [{series_id: Y}]
  - id: Y
    components: [{series_id: X}]
`)
	_, _, err = LoadCatalogs(seriesPath, cycle)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))

	badProvider := write("bad-series.yaml", `
series:
  - {id: A, provider: bloomberg, frequency: daily, units: percent}
`)
	_, _, err = LoadCatalogs(badProvider, unknownRef)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))
}

func TestSelectSeries(t *testing.T) {
	got, err := selectSeries(testSeries, []string{"B", "A", "B"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].ID)

	all, err := selectSeries(testSeries, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = selectSeries(testSeries, []string{"Z"})
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))
}
