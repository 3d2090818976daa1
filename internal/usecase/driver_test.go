package usecase

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	irepo "LighthouseMacro/internal/repository"
	"LighthouseMacro/internal/services/composite"
	"LighthouseMacro/pkg/config"
)

func ptr(v float64) *float64 { return &v }

var (
	testSeries = &models.SeriesCatalog{Series: []models.Series{
		{ID: "A", Provider: models.ProviderEconomic, Frequency: models.Daily, Units: models.UnitsPercent},
		{ID: "B", Provider: models.ProviderEconomic, Frequency: models.Daily, Units: models.UnitsPercent},
	}}
	testComposites = &models.CompositeCatalog{Composites: []models.CompositeDef{{
		ID:      "C",
		Combine: models.CombineMean,
		Components: []models.Component{
			{SeriesID: "A", Weight: 1, Sign: 1},
			{SeriesID: "B", Weight: 1, Sign: 1},
		},
		Regimes: []models.RegimeBand{
			{Label: "low", Max: ptr(10)},
			{Label: "high", Min: ptr(10)},
		},
	}}}
)

type recordingPublisher struct {
	mu      sync.Mutex
	reports []*models.RunReport
	err     error
}

func (p *recordingPublisher) PublishRun(_ context.Context, r *models.RunReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type failingSink struct{}

func (failingSink) Name() string { return "broken" }

func (failingSink) Write(context.Context, *models.IndicatorPanel, *models.RunReport) (string, error) {
	return "", apperr.Store(errors.New("disk full"), "write")
}

type driverFixture struct {
	store   *irepo.SQLiteStore
	adapter *fakeAdapter
	out     string
	driver  *Driver
	pushed  int
	pub     *recordingPublisher
}

func newDriverFixture(t *testing.T, extra ...DriverOption) *driverFixture {
	t.Helper()
	cat, err := composite.NewCatalog(testSeries, testComposites)
	require.NoError(t, err)

	f := &driverFixture{
		store:   newStore(t),
		adapter: newFakeAdapter(models.ProviderEconomic),
		out:     t.TempDir(),
		pub:     &recordingPublisher{},
	}
	cfg := &config.Config{
		Build: config.BuildConfig{LookbackDays: 30, FillPolicy: "forward"},
	}
	rc := &RunContext{Config: cfg, Series: testSeries, Catalog: cat, Store: f.store}
	clock := fixedClock("2024-07-01")
	orch := NewOrchestrator(adapterMap{models.ProviderEconomic: f.adapter}, f.store, defaultPolicy, nil,
		WithClock(clock), WithSleep((&sleepRecorder{}).sleep))

	opts := []DriverOption{
		WithSinks(irepo.NewCSVSink(f.out, nil)),
		WithPublisher(f.pub),
		WithPush(func(context.Context) error { f.pushed++; return nil }),
		WithDriverClock(clock),
		WithRunID(func() string { return "run-test" }),
	}
	f.driver = NewDriver(rc, orch, append(opts, extra...)...)
	return f
}

func TestDriver_RunEndToEnd(t *testing.T) {
	f := newDriverFixture(t)
	f.adapter.data["A"] = dailyObs("A", "2024-06-01", make([]float64, 31)...)
	f.adapter.data["B"] = dailyObs("B", "2024-06-01", make([]float64, 31)...)
	for i := range f.adapter.data["B"] {
		f.adapter.data["A"][i].Value = 8
		f.adapter.data["B"][i].Value = 16
	}

	report, err := f.driver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunOK, report.Status)
	assert.Equal(t, 0, ExitCode(report, err))
	assert.Equal(t, "run-test", report.RunID)
	assert.Equal(t, "2024-06-01", report.Start)
	assert.Equal(t, "2024-07-01", report.End)
	require.Len(t, report.Series, 2)
	assert.Equal(t, 2, report.SeriesAdvanced())

	require.Len(t, report.Composites, 1)
	c := report.Composites[0]
	assert.Equal(t, models.CompositeMaterialized, c.Status)
	assert.Equal(t, "2024-07-01", c.LatestDate)
	require.NotNil(t, c.LatestValue)
	assert.InDelta(t, 12, *c.LatestValue, 1e-12)
	assert.Equal(t, "high", c.Regime)

	runDir := filepath.Join(f.out, "2024-07-01")
	require.Equal(t, []string{runDir}, report.Outputs)
	_, err = os.Stat(filepath.Join(runDir, irepo.IndicatorsFile))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(runDir, irepo.RunReportFile))
	require.NoError(t, err)

	require.Len(t, f.pub.reports, 1)
	assert.Equal(t, 1, f.pushed)
}

func TestDriver_BuildIsIdempotent(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	_, err := f.store.Upsert(ctx, "A", dailyObs("A", "2024-03-01", 1, 2, 3, 4, 5), "seed")
	require.NoError(t, err)
	_, err = f.store.Upsert(ctx, "B", dailyObs("B", "2024-03-03", 7, 8, 9), "seed")
	require.NoError(t, err)

	req := BuildRequest{Start: date("2024-03-01"), End: date("2024-03-10")}
	first, err := f.driver.Build(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", first.RunDate)

	path := filepath.Join(f.out, "2024-03-10", irepo.IndicatorsFile)
	a, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = f.driver.Build(ctx, req)
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Empty(t, f.adapter.callsFor("A"), "build never fetches")
}

func TestDriver_RevisionOnlyMovesDependents(t *testing.T) {
	comps := &models.CompositeCatalog{Composites: []models.CompositeDef{
		{ID: "C", Combine: models.CombineMean, Components: []models.Component{
			{SeriesID: "A", Weight: 1, Sign: 1, Transforms: []models.TransformStep{
				{Name: "zscore", Params: map[string]any{"window": 5, "min_valid": 3}},
			}},
			{SeriesID: "B", Weight: 1, Sign: 1},
		}},
		{ID: "D", Combine: models.CombineMean, Components: []models.Component{
			{SeriesID: "B", Weight: 1, Sign: -1},
		}},
		{ID: "M", Combine: models.CombineMean, Components: []models.Component{
			{SeriesID: "C", Weight: 1, Sign: 1},
			{SeriesID: "D", Weight: 1, Sign: 1},
		}},
	}}
	cat, err := composite.NewCatalog(testSeries, comps)
	require.NoError(t, err)

	f := newDriverFixture(t)
	rc := *f.driver.rc
	rc.Catalog = cat
	d := NewDriver(&rc, f.driver.orch, WithDriverClock(fixedClock("2024-07-01")))

	ctx := context.Background()
	a := make([]float64, 20)
	b := make([]float64, 20)
	for i := range a {
		a[i] = float64(i%7) + 0.5*float64(i)
		b[i] = 7 + float64(i%3)
	}
	_, err = f.store.Upsert(ctx, "A", dailyObs("A", "2024-03-01", a...), "seed")
	require.NoError(t, err)
	_, err = f.store.Upsert(ctx, "B", dailyObs("B", "2024-03-01", b...), "seed")
	require.NoError(t, err)

	req := BuildRequest{Start: date("2024-03-01"), End: date("2024-03-20")}
	before, err := d.Indicators(ctx, req)
	require.NoError(t, err)

	res, err := f.store.Upsert(ctx, "A", dailyObs("A", "2024-03-10", a[9]+50), "rev")
	require.NoError(t, err)
	require.Equal(t, 1, res.Revised)

	after, err := d.Indicators(ctx, req)
	require.NoError(t, err)

	const revisedRow = 9
	same := func(x, y float64) bool {
		if math.IsNaN(x) || math.IsNaN(y) {
			return math.IsNaN(x) && math.IsNaN(y)
		}
		return math.Abs(x-y) < 1e-12
	}
	for _, id := range []string{"C", "M"} {
		old, cur := before.Columns[id], after.Columns[id]
		require.Len(t, cur, len(old), id)
		for i := 0; i < revisedRow; i++ {
			assert.True(t, same(old[i], cur[i]), "%s row %d moved", id, i)
		}
		assert.False(t, same(old[revisedRow], cur[revisedRow]), "%s ignored the revision", id)
	}
	old, cur := before.Columns["D"], after.Columns["D"]
	require.Len(t, cur, len(old))
	for i := range old {
		assert.True(t, same(old[i], cur[i]), "D row %d moved", i)
	}

	events, err := d.Revisions(ctx, "A", date("2024-01-01"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "rev", events[0].RunID)
	assert.Equal(t, date("2024-03-10"), events[0].Date)
	assert.Equal(t, a[9], events[0].OldValue)

	events, err = d.Revisions(ctx, "B", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDriver_BuildAsOfKeysRunDate(t *testing.T) {
	f := newDriverFixture(t)
	_, err := f.store.Upsert(context.Background(), "A", dailyObs("A", "2024-03-01", 1), "seed")
	require.NoError(t, err)

	report, err := f.driver.Build(context.Background(), BuildRequest{
		Start: date("2024-03-01"), End: date("2024-03-10"), AsOf: date("2024-03-05"),
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", report.RunDate)
	assert.Equal(t, "2024-03-05", report.AsOf)
}

func TestDriver_FetchFailureDegrades(t *testing.T) {
	f := newDriverFixture(t)
	f.adapter.data["A"] = dailyObs("A", "2024-06-30", 1, 2)
	for i := 0; i < 4; i++ {
		f.adapter.errs["B"] = append(f.adapter.errs["B"], apperr.Transient(errors.New("503"), "down"))
	}

	report, err := f.driver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunDegraded, report.Status)
	assert.Equal(t, 1, ExitCode(report, err))
	assert.NotEmpty(t, report.Failures)

	// C needs both inputs; B never arrived
	require.Len(t, report.Composites, 1)
	assert.Equal(t, models.CompositeMaterialized, report.Composites[0].Status)
	assert.Zero(t, report.Composites[0].Present)
}

func TestDriver_AllSeriesFailed(t *testing.T) {
	f := newDriverFixture(t)
	for _, id := range []string{"A", "B"} {
		f.adapter.errs[id] = []error{apperr.UnknownSeries(id, "gone")}
	}

	report, err := f.driver.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, report.Status)
	assert.Equal(t, 1, ExitCode(report, err))
}

func TestDriver_UnknownFetchIDIsFatal(t *testing.T) {
	f := newDriverFixture(t)
	report, err := f.driver.Fetch(context.Background(), []string{"NOPE"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))
	assert.Equal(t, models.RunFailed, report.Status)
	assert.NotEmpty(t, report.Fatal)
	assert.Equal(t, 2, ExitCode(report, err))
	assert.Equal(t, 1, f.pushed)
}

func TestDriver_SinkAndPublishFailuresDegrade(t *testing.T) {
	f := newDriverFixture(t)
	f.pub.err = errors.New("broker down")
	f.driver = NewDriver(f.driver.rc, f.driver.orch,
		WithSinks(failingSink{}, irepo.NewCSVSink(f.out, nil)),
		WithPublisher(f.pub),
		WithDriverClock(fixedClock("2024-07-01")),
	)
	_, err := f.store.Upsert(context.Background(), "A", dailyObs("A", "2024-03-01", 1), "seed")
	require.NoError(t, err)

	report, err := f.driver.Build(context.Background(), BuildRequest{Start: date("2024-03-01"), End: date("2024-03-02")})
	require.NoError(t, err)
	assert.Equal(t, models.RunDegraded, report.Status)
	require.Len(t, report.Outputs, 1, "later sinks still run")
	require.Len(t, report.Failures, 2)
	assert.Contains(t, report.Failures[0], "sink broken")
	assert.Contains(t, report.Failures[1], "publish")
}

func TestDriver_Inventory(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	_, err := f.store.Upsert(ctx, "A", dailyObs("A", "2024-03-01", 1, 2, 3), "seed")
	require.NoError(t, err)
	_, err = f.store.Upsert(ctx, "OLD", dailyObs("OLD", "2020-01-01", 1), "seed")
	require.NoError(t, err)

	rows, err := f.driver.Inventory(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "A", rows[0].SeriesID)
	assert.Equal(t, 3, rows[0].Count)
	assert.Equal(t, "2024-03-03", rows[0].LastDate)
	assert.Equal(t, "B", rows[1].SeriesID)
	assert.Zero(t, rows[1].Count)
	assert.True(t, rows[1].InCatalog)
	assert.Equal(t, "OLD", rows[2].SeriesID)
	assert.False(t, rows[2].InCatalog)
}

func TestDriver_Describe(t *testing.T) {
	f := newDriverFixture(t)
	d, err := f.driver.Describe("C")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, d.Series)
	assert.Contains(t, d.YAML, "series_id: A")

	_, err = f.driver.Describe("NOPE")
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name   string
		report *models.RunReport
		err    error
		want   int
	}{
		{"ok", &models.RunReport{Status: models.RunOK}, nil, 0},
		{"degraded", &models.RunReport{Status: models.RunDegraded}, nil, 1},
		{"all failed", &models.RunReport{Status: models.RunFailed}, nil, 1},
		{"fatal report", &models.RunReport{Status: models.RunFailed, Fatal: "store"}, nil, 2},
		{"error", &models.RunReport{Status: models.RunFailed}, apperr.Store(nil, "x"), 2},
		{"no report", nil, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.report, tc.err))
		})
	}
}
