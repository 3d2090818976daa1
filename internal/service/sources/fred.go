package sources

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/pkg/cache"
	xhttp "LighthouseMacro/pkg/http"
	"LighthouseMacro/pkg/util"
)

const defaultEconomicURL = "https://api.stlouisfed.org/fred"

type fredResponse struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// EconomicAdapter reads the economic-data provider (FRED-style observations API).
type EconomicAdapter struct {
	base
}

func NewEconomicAdapter(s Settings) *EconomicAdapter {
	return &EconomicAdapter{base: newBase(models.ProviderEconomic, defaultEconomicURL, s)}
}

func (a *EconomicAdapter) Fetch(ctx context.Context, s models.Series, start, end time.Time) ([]models.Observation, error) {
	if err := a.requireKey(s.ID); err != nil {
		return nil, err
	}
	opts := &xhttp.RequestOptions{
		URL: strings.TrimRight(a.baseURL, "/") + "/series/observations",
		QueryParams: map[string][]string{
			"series_id":         {s.SourceID()},
			"api_key":           {a.apiKey},
			"file_type":         {"json"},
			"observation_start": {util.FormatDate(start)},
			"observation_end":   {util.FormatDate(end)},
		},
	}
	body, err := a.do(ctx, s.ID, cache.Key(a.provider, s.SourceID(), util.FormatDate(start), util.FormatDate(end)), opts)
	if err != nil {
		return nil, err
	}

	var resp fredResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, a.formatErr(s.ID, err, "decode observations")
	}
	if resp.ErrorCode != 0 {
		if strings.Contains(strings.ToLower(resp.ErrorMessage), "does not exist") {
			return nil, apperr.UnknownSeries(s.ID, "%s", resp.ErrorMessage).WithSeries(string(a.provider), s.ID)
		}
		return nil, a.formatErr(s.ID, nil, "provider error %d: %s", resp.ErrorCode, resp.ErrorMessage)
	}

	obs := make([]models.Observation, 0, len(resp.Observations))
	for _, o := range resp.Observations {
		d, err := util.ParseDate(o.Date)
		if err != nil {
			return nil, a.formatErr(s.ID, err, "observation date")
		}
		v, err := parseValue(o.Value, ".")
		if err != nil {
			return nil, a.formatErr(s.ID, err, "observation %s", o.Date)
		}
		obs = append(obs, models.Observation{Date: d, Value: v})
	}
	return finalize(s.ID, obs, start, end), nil
}
