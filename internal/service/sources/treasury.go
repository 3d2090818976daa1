package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/pkg/cache"
	xhttp "LighthouseMacro/pkg/http"
	"LighthouseMacro/pkg/util"
)

const (
	defaultFiscalURL      = "https://api.fiscaldata.treasury.gov/services/api/fiscal_service"
	defaultFiscalPageSize = 10000
	// maxFiscalPages guards against a provider that never reports the last page.
	maxFiscalPages = 1000
)

type fiscalResponse struct {
	Data []map[string]*string `json:"data"`
	Meta struct {
		TotalPages int `json:"total-pages"`
	} `json:"meta"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FiscalAdapter reads paginated fiscal datasets. ProviderID is the dataset
// endpoint path, Field the value column and Filter an optional extra
// row filter such as account_type:eq:<name>.
type FiscalAdapter struct {
	base
}

func NewFiscalAdapter(s Settings) *FiscalAdapter {
	return &FiscalAdapter{base: newBase(models.ProviderFiscal, defaultFiscalURL, s)}
}

func (a *FiscalAdapter) Fetch(ctx context.Context, s models.Series, start, end time.Time) ([]models.Observation, error) {
	if s.Field == "" {
		return nil, a.formatErr(s.ID, nil, "fiscal series needs a value field")
	}
	pageSize := a.pageSize
	if pageSize <= 0 {
		pageSize = defaultFiscalPageSize
	}
	filter := fmt.Sprintf("record_date:gte:%s,record_date:lte:%s", util.FormatDate(start), util.FormatDate(end))
	if s.Filter != "" {
		filter += "," + s.Filter
	}
	endpoint := strings.TrimRight(a.baseURL, "/") + "/" + strings.TrimLeft(s.SourceID(), "/")

	var obs []models.Observation
	for page := 1; page <= maxFiscalPages; page++ {
		opts := &xhttp.RequestOptions{
			URL: endpoint,
			QueryParams: map[string][]string{
				"fields":       {"record_date," + s.Field},
				"filter":       {filter},
				"sort":         {"record_date"},
				"page[number]": {strconv.Itoa(page)},
				"page[size]":   {strconv.Itoa(pageSize)},
			},
		}
		key := cache.Key(a.provider, s.SourceID(), s.Field, s.Filter, util.FormatDate(start), util.FormatDate(end), page)
		body, err := a.do(ctx, s.ID, key, opts)
		if err != nil {
			return nil, err
		}

		var resp fiscalResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, a.formatErr(s.ID, err, "decode page %d", page)
		}
		if resp.Error != "" {
			return nil, a.formatErr(s.ID, nil, "provider error: %s %s", resp.Error, resp.Message)
		}
		for _, row := range resp.Data {
			rawDate := row["record_date"]
			if rawDate == nil {
				return nil, a.formatErr(s.ID, nil, "row without record_date")
			}
			d, err := util.ParseDate(*rawDate)
			if err != nil {
				return nil, a.formatErr(s.ID, err, "record_date")
			}
			raw, ok := row[s.Field]
			if !ok {
				return nil, a.formatErr(s.ID, nil, "field %q absent from response", s.Field)
			}
			v := models.Missing()
			if raw != nil {
				if v, err = parseValue(*raw, "null"); err != nil {
					return nil, a.formatErr(s.ID, err, "record %s", *rawDate)
				}
			}
			obs = append(obs, models.Observation{Date: d, Value: v})
		}
		if resp.Meta.TotalPages <= page || len(resp.Data) == 0 {
			break
		}
	}
	return finalize(s.ID, obs, start, end), nil
}
