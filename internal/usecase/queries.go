package usecase

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	"LighthouseMacro/pkg/util"
)

// InventoryRow joins a catalog entry with what the store holds for it.
type InventoryRow struct {
	SeriesID      string           `json:"series_id"`
	Provider      models.Provider  `json:"provider,omitempty"`
	Frequency     models.Frequency `json:"native_frequency,omitempty"`
	FirstDate     string           `json:"first_date,omitempty"`
	LastDate      string           `json:"last_date,omitempty"`
	Count         int              `json:"count"`
	LastFetchedAt string           `json:"last_fetched_at,omitempty"`
	// InCatalog is false for stored series no longer configured.
	InCatalog bool `json:"in_catalog"`
}

// Inventory lists every catalog series (with zero counts when never
// fetched) followed by stored series the catalog no longer names.
func (d *Driver) Inventory(ctx context.Context) ([]InventoryRow, error) {
	scan, err := d.rc.Store.Scan(ctx)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]models.SeriesInventory, len(scan))
	for _, inv := range scan {
		stored[inv.SeriesID] = inv
	}

	rows := make([]InventoryRow, 0, len(d.rc.Series.Series)+len(scan))
	for _, s := range d.rc.Series.Series {
		row := InventoryRow{SeriesID: s.ID, Provider: s.Provider, Frequency: s.Frequency, InCatalog: true}
		if inv, ok := stored[s.ID]; ok {
			fillInventory(&row, inv)
			delete(stored, s.ID)
		}
		rows = append(rows, row)
	}
	for _, inv := range scan {
		if _, orphan := stored[inv.SeriesID]; orphan {
			row := InventoryRow{SeriesID: inv.SeriesID}
			fillInventory(&row, inv)
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func fillInventory(row *InventoryRow, inv models.SeriesInventory) {
	row.FirstDate = util.FormatDate(inv.FirstDate)
	row.LastDate = util.FormatDate(inv.LastDate)
	row.Count = inv.Count
	if !inv.LastFetchedAt.IsZero() {
		row.LastFetchedAt = inv.LastFetchedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
}

// Description is a composite definition plus its resolved inputs.
type Description struct {
	Definition models.CompositeDef `json:"definition"`
	Series     []string            `json:"series"`
	Summary    string              `json:"-"`
	YAML       string              `json:"-"`
}

func (d *Driver) Describe(indexID string) (*Description, error) {
	def, ok := d.rc.Catalog.Lookup(indexID)
	if !ok {
		return nil, apperr.Config("unknown index %q", indexID)
	}
	summary, err := d.rc.Catalog.Describe(indexID)
	if err != nil {
		return nil, err
	}
	raw, err := yaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", indexID, err)
	}
	return &Description{
		Definition: def,
		Series:     d.rc.Catalog.LeafSeries(indexID),
		Summary:    summary,
		YAML:       string(raw),
	}, nil
}

// Composites lists every configured composite in declaration order.
func (d *Driver) Composites() []models.CompositeDef {
	return d.rc.Catalog.Composites()
}

// ListSeries asks the provider for the ids it serves when it supports
// discovery; otherwise it returns the catalog ids configured for it.
func (d *Driver) ListSeries(ctx context.Context, provider models.Provider) ([]string, error) {
	adapter, err := d.orch.adapters.Adapter(provider)
	if err != nil {
		return nil, err
	}
	if lister, ok := adapter.(repository.SeriesLister); ok {
		return lister.ListSeries(ctx)
	}
	var ids []string
	for _, s := range d.rc.Series.ByProvider()[provider] {
		ids = append(ids, s.SourceID())
	}
	return ids, nil
}

// Revisions returns the revision log of seriesID (every series when empty)
// recorded at or after since, oldest first. Ids the catalog dropped are
// still readable.
func (d *Driver) Revisions(ctx context.Context, seriesID string, since time.Time) ([]models.RevisionEvent, error) {
	return d.rc.Store.Revisions(ctx, seriesID, since)
}
