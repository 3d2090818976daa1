package api

import (
	"fmt"

	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/usecase"
	"LighthouseMacro/pkg/util"
)

type CompositeRequest struct {
	ID string `param:"id" validate:"required"`
}

// IndicatorsRequest selects the range of an on-demand build.
type IndicatorsRequest struct {
	Start string `query:"start" validate:"required,datetime=2006-01-02"`
	End   string `query:"end" validate:"required,datetime=2006-01-02"`
	AsOf  string `query:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

func (r *IndicatorsRequest) buildRequest() (usecase.BuildRequest, error) {
	var (
		req usecase.BuildRequest
		err error
	)
	if req.Start, err = util.ParseDate(r.Start); err != nil {
		return req, err
	}
	if req.End, err = util.ParseDate(r.End); err != nil {
		return req, err
	}
	if req.End.Before(req.Start) {
		return req, fmt.Errorf("end %s is before start %s", r.End, r.Start)
	}
	if r.AsOf != "" {
		if req.AsOf, err = util.ParseDate(r.AsOf); err != nil {
			return req, err
		}
	}
	return req, nil
}

type RevisionsRequest struct {
	SeriesID string `query:"series_id"`
	Since    string `query:"since" validate:"omitempty,datetime=2006-01-02"`
}

type ProviderSeriesRequest struct {
	Provider string `param:"provider" validate:"required,oneof=economic-data market-data stablecoin fiscal labor"`
}

// IndicatorRow is one panel date; missing values are null.
type IndicatorRow struct {
	Date    string              `json:"date"`
	Values  map[string]*float64 `json:"values"`
	Regimes map[string]string   `json:"regimes,omitempty"`
}

type IndicatorsResponse struct {
	Start      string                    `json:"start"`
	End        string                    `json:"end"`
	AsOf       string                    `json:"as_of,omitempty"`
	Composites []models.CompositeOutcome `json:"composites"`
	Rows       []IndicatorRow            `json:"rows"`
}

