package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/services/composite"
	"LighthouseMacro/internal/usecase"
	"LighthouseMacro/pkg/util"
)

type fakeQueries struct {
	inventory []usecase.InventoryRow
	defs      []models.CompositeDef
	result    *composite.Result
	buildErr  error
	lastBuild usecase.BuildRequest
	series    map[models.Provider][]string
	revisions []models.RevisionEvent
	revErr    error
	lastRev   struct {
		seriesID string
		since    time.Time
	}
}

func (f *fakeQueries) Inventory(context.Context) ([]usecase.InventoryRow, error) {
	return f.inventory, nil
}

func (f *fakeQueries) Composites() []models.CompositeDef { return f.defs }

func (f *fakeQueries) Describe(id string) (*usecase.Description, error) {
	for _, d := range f.defs {
		if d.ID == id {
			return &usecase.Description{Definition: d, Series: []string{"A"}}, nil
		}
	}
	return nil, apperr.Config("unknown index %q", id)
}

func (f *fakeQueries) Indicators(_ context.Context, req usecase.BuildRequest) (*composite.Result, error) {
	f.lastBuild = req
	return f.result, f.buildErr
}

func (f *fakeQueries) ListSeries(_ context.Context, p models.Provider) ([]string, error) {
	ids, ok := f.series[p]
	if !ok {
		return nil, apperr.Config("provider %s unavailable: missing credential", p)
	}
	return ids, nil
}

func (f *fakeQueries) Revisions(_ context.Context, seriesID string, since time.Time) ([]models.RevisionEvent, error) {
	f.lastRev.seriesID, f.lastRev.since = seriesID, since
	return f.revisions, f.revErr
}

func newTestServer(q Queries) *echo.Echo {
	e := echo.New()
	NewIndicatorsHandler(nil, q).RegisterRoutes(e)
	return e
}

func get(t *testing.T, e *echo.Echo, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func sampleResult() *composite.Result {
	d1 := util.Date(2024, time.March, 1)
	return &composite.Result{
		Panel: &models.IndicatorPanel{
			Dates: []time.Time{d1, util.AddDays(d1, 1)},
			Columns: []models.IndicatorColumn{{
				ID:      "LCI",
				Values:  []float64{math.NaN(), 1.5},
				Regimes: []string{"", "abundant"},
			}},
		},
		Outcomes: []models.CompositeOutcome{{IndexID: "LCI", Status: models.CompositeMaterialized, Rows: 2, Present: 1}},
	}
}

func TestHealth(t *testing.T) {
	rec, body := get(t, newTestServer(&fakeQueries{}), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["data"].(map[string]any)["status"])
}

func TestInventory(t *testing.T) {
	q := &fakeQueries{inventory: []usecase.InventoryRow{{SeriesID: "WALCL", Count: 3, InCatalog: true}}}
	rec, body := get(t, newTestServer(q), "/api/inventory")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	assert.EqualValues(t, 1, data["total"])
	row := data["rows"].([]any)[0].(map[string]any)
	assert.Equal(t, "WALCL", row["series_id"])
}

func TestComposite(t *testing.T) {
	q := &fakeQueries{defs: []models.CompositeDef{{ID: "LCI", Combine: models.CombineMean}}}
	e := newTestServer(q)

	rec, body := get(t, e, "/api/composites/LCI")
	require.Equal(t, http.StatusOK, rec.Code)
	def := body["data"].(map[string]any)["definition"].(map[string]any)
	assert.Equal(t, "LCI", def["index_id"])

	rec, _ = get(t, e, "/api/composites/NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIndicators(t *testing.T) {
	q := &fakeQueries{result: sampleResult()}
	rec, body := get(t, newTestServer(q), "/api/indicators?start=2024-03-01&end=2024-03-02&as_of=2024-03-05")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, util.Date(2024, time.March, 5), q.lastBuild.AsOf)
	data := body["data"].(map[string]any)
	rows := data["rows"].([]any)
	require.Len(t, rows, 2)

	first := rows[0].(map[string]any)
	assert.Equal(t, "2024-03-01", first["date"])
	assert.Nil(t, first["values"].(map[string]any)["LCI"], "missing is null")
	assert.Nil(t, first["regimes"])

	second := rows[1].(map[string]any)
	assert.Equal(t, 1.5, second["values"].(map[string]any)["LCI"])
	assert.Equal(t, "abundant", second["regimes"].(map[string]any)["LCI"])
}

func TestIndicators_BadRequests(t *testing.T) {
	e := newTestServer(&fakeQueries{result: sampleResult()})
	for _, target := range []string{
		"/api/indicators",
		"/api/indicators?start=2024-03-01",
		"/api/indicators?start=03/01/2024&end=2024-03-02",
		"/api/indicators?start=2024-03-05&end=2024-03-01",
	} {
		rec, _ := get(t, e, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestIndicators_StoreErrorIs500(t *testing.T) {
	q := &fakeQueries{buildErr: apperr.Store(nil, "database is locked")}
	rec, _ := get(t, newTestServer(q), "/api/indicators?start=2024-03-01&end=2024-03-02")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProviderSeries(t *testing.T) {
	q := &fakeQueries{series: map[models.Provider][]string{models.ProviderStablecoin: {"1", "2"}}}
	e := newTestServer(q)

	rec, body := get(t, e, "/api/providers/stablecoin/series")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["data"].(map[string]any)["total"])

	rec, _ = get(t, e, "/api/providers/labor/series")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "disabled provider")

	rec, _ = get(t, e, "/api/providers/nasdaq/series")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevisions(t *testing.T) {
	q := &fakeQueries{revisions: []models.RevisionEvent{{
		SeriesID:  "GDP",
		Date:      util.Date(2024, time.April, 1),
		OldValue:  math.NaN(),
		NewValue:  28269.2,
		RunID:     "run-2",
		RevisedAt: time.Date(2024, 7, 1, 6, 0, 0, 5e8, time.UTC),
	}}}
	e := newTestServer(q)

	rec, body := get(t, e, "/api/revisions?series_id=GDP&since=2024-07-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GDP", q.lastRev.seriesID)
	assert.Equal(t, util.Date(2024, time.July, 1), q.lastRev.since)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 1, data["total"])
	row := data["rows"].([]any)[0].(map[string]any)
	assert.Nil(t, row["old_value"])
	assert.Equal(t, 28269.2, row["new_value"])
	assert.Equal(t, "2024-07-01T06:00:00.5Z", row["revised_at"])

	q.revisions = nil
	rec, body = get(t, e, "/api/revisions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, q.lastRev.seriesID)
	assert.True(t, q.lastRev.since.IsZero())
	assert.Empty(t, body["data"].(map[string]any)["rows"])

	rec, _ = get(t, e, "/api/revisions?since=07/01/2024")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q.revErr = apperr.Store(nil, "locked")
	rec, _ = get(t, e, "/api/revisions")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Config("bad"), http.StatusBadRequest},
		{apperr.UnknownSeries("X", "gone"), http.StatusNotFound},
		{apperr.Transient(nil, "503"), http.StatusBadGateway},
		{apperr.ProviderFormat(nil, "json"), http.StatusBadGateway},
		{apperr.Store(nil, "io"), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, toAppError(tc.err).Status, tc.err.Error())
	}
}
