package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/services/composite"
	"LighthouseMacro/internal/usecase"
	xhttp "LighthouseMacro/pkg/http"
	applogger "LighthouseMacro/pkg/logger"
	"LighthouseMacro/pkg/util"
)

// Queries is the read side of the run driver.
type Queries interface {
	Inventory(ctx context.Context) ([]usecase.InventoryRow, error)
	Composites() []models.CompositeDef
	Describe(indexID string) (*usecase.Description, error)
	Indicators(ctx context.Context, req usecase.BuildRequest) (*composite.Result, error)
	ListSeries(ctx context.Context, provider models.Provider) ([]string, error)
	Revisions(ctx context.Context, seriesID string, since time.Time) ([]models.RevisionEvent, error)
}

var _ Queries = (*usecase.Driver)(nil)

// IndicatorsHandler serves the read-only JSON API.
type IndicatorsHandler struct {
	logger *applogger.Logger
	q      Queries
}

func NewIndicatorsHandler(logger *applogger.Logger, q Queries) *IndicatorsHandler {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &IndicatorsHandler{logger: logger, q: q}
}

func (h *IndicatorsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/inventory", h.Inventory)
	g.GET("/composites", h.Composites)
	g.GET("/composites/:id", h.Composite)
	g.GET("/indicators", h.Indicators)
	g.GET("/providers/:provider/series", h.ProviderSeries)
	g.GET("/revisions", h.Revisions)
}

func (h *IndicatorsHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *IndicatorsHandler) Inventory(c echo.Context) error {
	rows, err := h.q.Inventory(c.Request().Context())
	if err != nil {
		h.logger.Error("inventory query failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *IndicatorsHandler) Composites(c echo.Context) error {
	defs := h.q.Composites()
	return xhttp.ListResponse(c, defs, int64(len(defs)))
}

func (h *IndicatorsHandler) Composite(c echo.Context) error {
	req := &CompositeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if _, ok := findComposite(h.q.Composites(), req.ID); !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown index %q", req.ID))
	}
	d, err := h.q.Describe(req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, d)
}

func (h *IndicatorsHandler) Indicators(c echo.Context) error {
	req := &IndicatorsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	build, err := req.buildRequest()
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
	}

	res, err := h.q.Indicators(c.Request().Context(), build)
	if err != nil {
		h.logger.Error("indicator build failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, newIndicatorsResponse(req, res))
}

func (h *IndicatorsHandler) ProviderSeries(c echo.Context) error {
	req := &ProviderSeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ids, err := h.q.ListSeries(c.Request().Context(), models.Provider(req.Provider))
	if err != nil {
		h.logger.Warn("list series failed", applogger.String("provider", req.Provider), applogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if ids == nil {
		ids = []string{}
	}
	return xhttp.ListResponse(c, ids, int64(len(ids)))
}

// Revisions serves the vintage log, optionally for one series and from a date.
func (h *IndicatorsHandler) Revisions(c echo.Context) error {
	req := &RevisionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var since time.Time
	if req.Since != "" {
		d, err := util.ParseDate(req.Since)
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
		}
		since = d
	}
	events, err := h.q.Revisions(c.Request().Context(), req.SeriesID, since)
	if err != nil {
		h.logger.Error("revisions query failed", applogger.String("series_id", req.SeriesID), applogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if events == nil {
		events = []models.RevisionEvent{}
	}
	return xhttp.ListResponse(c, events, int64(len(events)))
}

func findComposite(defs []models.CompositeDef, id string) (models.CompositeDef, bool) {
	for _, d := range defs {
		if d.ID == id {
			return d, true
		}
	}
	return models.CompositeDef{}, false
}

func newIndicatorsResponse(req *IndicatorsRequest, res *composite.Result) *IndicatorsResponse {
	out := &IndicatorsResponse{
		Start:      req.Start,
		End:        req.End,
		AsOf:       req.AsOf,
		Composites: res.Outcomes,
		Rows:       make([]IndicatorRow, len(res.Panel.Dates)),
	}
	for i, d := range res.Panel.Dates {
		row := IndicatorRow{Date: util.FormatDate(d), Values: make(map[string]*float64, len(res.Panel.Columns))}
		for _, col := range res.Panel.Columns {
			row.Values[col.ID] = models.Nullable(col.Values[i])
			if col.Regimes != nil && col.Regimes[i] != "" {
				if row.Regimes == nil {
					row.Regimes = make(map[string]string)
				}
				row.Regimes[col.ID] = col.Regimes[i]
			}
		}
		out.Rows[i] = row
	}
	return out
}

// Ensure handler satisfies the server's route interface.
var _ xhttp.Handler = (*IndicatorsHandler)(nil)
