package sources

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/pkg/cache"
	xhttp "LighthouseMacro/pkg/http"
	"LighthouseMacro/pkg/util"
)

const defaultMarketURL = "https://finnhub.io/api/v1"

// candleResponse is the daily candle payload; s is "ok" or "no_data".
type candleResponse struct {
	Status string     `json:"s"`
	Time   []int64    `json:"t"`
	Open   []*float64 `json:"o"`
	High   []*float64 `json:"h"`
	Low    []*float64 `json:"l"`
	Close  []*float64 `json:"c"`
	Volume []*float64 `json:"v"`
	Error  string     `json:"error"`
}

func (r *candleResponse) column(field string) ([]*float64, bool) {
	switch field {
	case "", "c", "close":
		return r.Close, true
	case "o", "open":
		return r.Open, true
	case "h", "high":
		return r.High, true
	case "l", "low":
		return r.Low, true
	case "v", "volume":
		return r.Volume, true
	}
	return nil, false
}

// MarketAdapter reads daily candles from the market-data provider.
type MarketAdapter struct {
	base
}

func NewMarketAdapter(s Settings) *MarketAdapter {
	return &MarketAdapter{base: newBase(models.ProviderMarket, defaultMarketURL, s)}
}

func (a *MarketAdapter) Fetch(ctx context.Context, s models.Series, start, end time.Time) ([]models.Observation, error) {
	if err := a.requireKey(s.ID); err != nil {
		return nil, err
	}
	from := util.Day(start).Unix()
	// to is inclusive of the whole end day
	to := util.Day(end).Unix() + 86399
	opts := &xhttp.RequestOptions{
		URL: strings.TrimRight(a.baseURL, "/") + "/stock/candle",
		QueryParams: map[string][]string{
			"symbol":     {s.SourceID()},
			"resolution": {"D"},
			"from":       {strconv.FormatInt(from, 10)},
			"to":         {strconv.FormatInt(to, 10)},
			"token":      {a.apiKey},
		},
	}
	body, err := a.do(ctx, s.ID, cache.Key(a.provider, s.SourceID(), from, to), opts)
	if err != nil {
		return nil, err
	}

	var resp candleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, a.formatErr(s.ID, err, "decode candles")
	}
	if resp.Error != "" {
		return nil, a.formatErr(s.ID, nil, "provider error: %s", resp.Error)
	}
	if resp.Status == "no_data" {
		return []models.Observation{}, nil
	}
	if resp.Status != "ok" {
		return nil, a.formatErr(s.ID, nil, "unexpected candle status %q", resp.Status)
	}
	values, ok := resp.column(s.Field)
	if !ok {
		return nil, a.formatErr(s.ID, nil, "unknown candle field %q", s.Field)
	}
	if len(values) != len(resp.Time) {
		return nil, a.formatErr(s.ID, nil, "candle arrays differ in length (%d timestamps, %d values)", len(resp.Time), len(values))
	}

	obs := make([]models.Observation, 0, len(values))
	for i, ts := range resp.Time {
		v := models.Missing()
		if values[i] != nil {
			v = *values[i]
		}
		obs = append(obs, models.Observation{Date: util.UnixDay(ts), Value: v})
	}
	return finalize(s.ID, obs, start, end), nil
}
