package usecase

import (
	"sort"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	"LighthouseMacro/internal/services/composite"
	"LighthouseMacro/pkg/config"
	applogger "LighthouseMacro/pkg/logger"
)

// RunContext is everything a command needs, built once at startup and
// passed explicitly. Nothing below it reads process-wide state.
type RunContext struct {
	Config      *config.Config
	Credentials config.Credentials
	Series      *models.SeriesCatalog
	Catalog     *composite.Catalog
	Store       repository.RawStore
	Metrics     repository.Metrics
	Logger      *applogger.Logger
}

// LoadCatalogs reads and cross-validates the series and composite catalogs.
// Any problem is a ConfigError.
func LoadCatalogs(seriesPath, compositesPath string) (*models.SeriesCatalog, *composite.Catalog, error) {
	var series models.SeriesCatalog
	if err := config.DecodeFile(seriesPath, &series); err != nil {
		return nil, nil, apperr.Config("series catalog %s: %v", seriesPath, err)
	}
	var comps models.CompositeCatalog
	if err := config.DecodeFile(compositesPath, &comps); err != nil {
		return nil, nil, apperr.Config("composite catalog %s: %v", compositesPath, err)
	}
	cat, err := composite.NewCatalog(&series, &comps)
	if err != nil {
		return nil, nil, err
	}
	return &series, cat, nil
}

// selectSeries resolves ids against the catalog; empty ids means all.
func selectSeries(catalog *models.SeriesCatalog, ids []string) ([]models.Series, error) {
	if len(ids) == 0 {
		return append([]models.Series(nil), catalog.Series...), nil
	}
	out := make([]models.Series, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		s, ok := catalog.Lookup(id)
		if !ok {
			return nil, apperr.Config("series %s is not in the catalog", id)
		}
		out = append(out, s)
	}
	return out, nil
}

func sortRevisions(revs []models.RevisionEvent) {
	sort.SliceStable(revs, func(i, j int) bool {
		if revs[i].SeriesID != revs[j].SeriesID {
			return revs[i].SeriesID < revs[j].SeriesID
		}
		return revs[i].Date.Before(revs[j].Date)
	})
}
