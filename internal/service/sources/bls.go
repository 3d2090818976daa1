package sources

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/pkg/cache"
	xhttp "LighthouseMacro/pkg/http"
)

const (
	defaultLaborURL = "https://api.bls.gov/publicAPI/v2"
	// laborMaxYears is the widest year span one request may cover.
	laborMaxYears = 20
)

type laborRequest struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	RegistrationKey string   `json:"registrationkey"`
}

type laborResponse struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Data     []struct {
				Year   string `json:"year"`
				Period string `json:"period"`
				Value  string `json:"value"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// LaborAdapter reads monthly and quarterly labor statistics. Requests are
// split into year chunks the provider accepts.
type LaborAdapter struct {
	base
}

func NewLaborAdapter(s Settings) *LaborAdapter {
	return &LaborAdapter{base: newBase(models.ProviderLabor, defaultLaborURL, s)}
}

func (a *LaborAdapter) Fetch(ctx context.Context, s models.Series, start, end time.Time) ([]models.Observation, error) {
	if err := a.requireKey(s.ID); err != nil {
		return nil, err
	}
	var obs []models.Observation
	for from := start.Year(); from <= end.Year(); from += laborMaxYears {
		to := from + laborMaxYears - 1
		if to > end.Year() {
			to = end.Year()
		}
		chunk, err := a.fetchYears(ctx, s, from, to)
		if err != nil {
			return nil, err
		}
		obs = append(obs, chunk...)
	}
	return finalize(s.ID, obs, start, end), nil
}

func (a *LaborAdapter) fetchYears(ctx context.Context, s models.Series, from, to int) ([]models.Observation, error) {
	opts := &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    strings.TrimRight(a.baseURL, "/") + "/timeseries/data/",
		Body: laborRequest{
			SeriesID:        []string{s.SourceID()},
			StartYear:       strconv.Itoa(from),
			EndYear:         strconv.Itoa(to),
			RegistrationKey: a.apiKey,
		},
	}
	body, err := a.do(ctx, s.ID, cache.Key(a.provider, s.SourceID(), from, to), opts)
	if err != nil {
		return nil, err
	}

	var resp laborResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, a.formatErr(s.ID, err, "decode timeseries")
	}
	msg := strings.Join(resp.Message, "; ")
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "does not exist") {
		return nil, apperr.UnknownSeries(s.ID, "%s", msg).WithSeries(string(a.provider), s.ID)
	}
	if resp.Status != "REQUEST_SUCCEEDED" {
		if strings.Contains(lower, "threshold") || strings.Contains(lower, "unavailable") {
			return nil, apperr.Transient(nil, "provider refused request: %s", msg).WithSeries(string(a.provider), s.ID)
		}
		return nil, a.formatErr(s.ID, nil, "request status %s: %s", resp.Status, msg)
	}

	var obs []models.Observation
	for _, series := range resp.Results.Series {
		for _, row := range series.Data {
			d, ok, err := laborPeriodDate(row.Year, row.Period)
			if err != nil {
				return nil, a.formatErr(s.ID, err, "period %s %s", row.Year, row.Period)
			}
			if !ok {
				continue
			}
			v, err := parseValue(row.Value, "-", "(NA)")
			if err != nil {
				return nil, a.formatErr(s.ID, err, "period %s %s", row.Year, row.Period)
			}
			obs = append(obs, models.Observation{Date: d, Value: v})
		}
	}
	return obs, nil
}

// laborPeriodDate maps Mnn and Qnn periods to the first day of the period.
// Annual averages (M13, Q05, Annn) and semiannual rows report ok=false.
func laborPeriodDate(year, period string) (time.Time, bool, error) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(period) != 3 {
		return time.Time{}, false, nil
	}
	n, err := strconv.Atoi(period[1:])
	if err != nil {
		return time.Time{}, false, err
	}
	switch period[0] {
	case 'M':
		if n < 1 || n > 12 {
			return time.Time{}, false, nil
		}
		return time.Date(y, time.Month(n), 1, 0, 0, 0, 0, time.UTC), true, nil
	case 'Q':
		if n < 1 || n > 4 {
			return time.Time{}, false, nil
		}
		return time.Date(y, time.Month(3*(n-1)+1), 1, 0, 0, 0, 0, time.UTC), true, nil
	}
	return time.Time{}, false, nil
}
