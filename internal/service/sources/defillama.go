package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/pkg/cache"
	xhttp "LighthouseMacro/pkg/http"
	"LighthouseMacro/pkg/util"
)

const defaultStablecoinURL = "https://stablecoins.llama.fi"

type stablecoinPoint struct {
	Date                json.RawMessage     `json:"date"`
	TotalCirculatingUSD map[string]*float64 `json:"totalCirculatingUSD"`
}

type peggedAssetList struct {
	PeggedAssets []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	} `json:"peggedAssets"`
}

// StablecoinAdapter reads circulating-supply history. The provider needs no
// credential and always returns the full history, so the response cache key
// ignores the requested range.
type StablecoinAdapter struct {
	base
}

func NewStablecoinAdapter(s Settings) *StablecoinAdapter {
	return &StablecoinAdapter{base: newBase(models.ProviderStablecoin, defaultStablecoinURL, s)}
}

func (a *StablecoinAdapter) Fetch(ctx context.Context, s models.Series, start, end time.Time) ([]models.Observation, error) {
	opts := &xhttp.RequestOptions{URL: strings.TrimRight(a.baseURL, "/") + "/stablecoincharts/all"}
	asset := s.ProviderID
	if asset != "" && asset != "all" {
		opts.QueryParams = map[string][]string{"stablecoin": {asset}}
	} else {
		asset = "all"
	}
	body, err := a.do(ctx, s.ID, cache.Key(a.provider, asset), opts)
	if err != nil {
		return nil, err
	}

	var points []stablecoinPoint
	if err := json.Unmarshal(body, &points); err != nil {
		return nil, a.formatErr(s.ID, err, "decode supply chart")
	}

	field := s.Field
	if field == "" {
		field = "peggedUSD"
	}
	obs := make([]models.Observation, 0, len(points))
	for _, p := range points {
		d, ok := util.ParseUnixDay(string(bytes.Trim(p.Date, `"`)))
		if !ok {
			return nil, a.formatErr(s.ID, nil, "bad chart date %s", string(p.Date))
		}
		v := models.Missing()
		if x, ok := p.TotalCirculatingUSD[field]; ok && x != nil {
			v = *x
		}
		obs = append(obs, models.Observation{Date: d, Value: v})
	}
	return finalize(s.ID, obs, start, end), nil
}

// ListSeries returns the provider's asset ids, ordered numerically.
func (a *StablecoinAdapter) ListSeries(ctx context.Context) ([]string, error) {
	opts := &xhttp.RequestOptions{
		URL:         strings.TrimRight(a.baseURL, "/") + "/stablecoins",
		QueryParams: map[string][]string{"includePrices": {"false"}},
	}
	body, err := a.do(ctx, "", "", opts)
	if err != nil {
		return nil, err
	}
	var list peggedAssetList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, a.formatErr("", err, "decode asset list")
	}
	ids := make([]string, 0, len(list.PeggedAssets))
	for _, p := range list.PeggedAssets {
		ids = append(ids, p.ID)
	}
	sort.Slice(ids, func(i, j int) bool {
		x, errX := strconv.Atoi(ids[i])
		y, errY := strconv.Atoi(ids[j])
		if errX == nil && errY == nil {
			return x < y
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}
