package sources

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/pkg/util"
)

// parseValue converts a provider value string to a float; any of the
// sentinels (and the empty string) map to missing, never to zero.
func parseValue(raw string, sentinels ...string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return models.Missing(), nil
	}
	for _, sen := range sentinels {
		if s == sen {
			return models.Missing(), nil
		}
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parse value %q: %w", raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", raw)
	}
	return v, nil
}

// finalize sorts by date, keeps the last occurrence of a duplicate date and
// clips to [start, end].
func finalize(seriesID string, obs []models.Observation, start, end time.Time) []models.Observation {
	start, end = util.Day(start), util.Day(end)
	for i := range obs {
		obs[i].SeriesID = seriesID
		obs[i].Date = util.Day(obs[i].Date)
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })

	out := obs[:0]
	for _, o := range obs {
		if o.Date.Before(start) || o.Date.After(end) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Date.Equal(o.Date) {
			out[n-1] = o
			continue
		}
		out = append(out, o)
	}
	return out
}
