package models

import "time"

// Provider identifies the upstream data source family of a series.
type Provider string

const (
	ProviderEconomic   Provider = "economic-data"
	ProviderMarket     Provider = "market-data"
	ProviderStablecoin Provider = "stablecoin"
	ProviderFiscal     Provider = "fiscal"
	ProviderLabor      Provider = "labor"
)

// Providers lists every supported provider in a stable order.
func Providers() []Provider {
	return []Provider{ProviderEconomic, ProviderMarket, ProviderStablecoin, ProviderFiscal, ProviderLabor}
}

type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
)

// HorizonEnd returns the last calendar day an observation dated d may be
// carried forward to: the day before the next native period starts.
func (f Frequency) HorizonEnd(d time.Time) time.Time {
	switch f {
	case Weekly:
		return d.AddDate(0, 0, 6)
	case Monthly:
		return addMonths(d, 1).AddDate(0, 0, -1)
	case Quarterly:
		return addMonths(d, 3).AddDate(0, 0, -1)
	default:
		return d
	}
}

// addMonths clamps to the end of the target month (Jan 31 + 1 = Feb 29).
func addMonths(d time.Time, n int) time.Time {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, d.Location())
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, d.Location())
}

type Units string

const (
	UnitsPercent     Units = "percent"
	UnitsBasisPoints Units = "basis_points"
	UnitsBillionsUSD Units = "billions_usd"
	UnitsMillionsUSD Units = "millions_usd"
	UnitsUSD         Units = "usd"
	UnitsIndex       Units = "index"
	UnitsCount       Units = "count"
	UnitsThousands   Units = "thousands"
)

// Series is read-only catalog metadata for one univariate time series.
type Series struct {
	ID                 string    `yaml:"id" json:"series_id" validate:"required"`
	Provider           Provider  `yaml:"provider" json:"provider" validate:"required,oneof=economic-data market-data stablecoin fiscal labor"`
	ProviderID         string    `yaml:"provider_id" json:"provider_id,omitempty"`
	Field              string    `yaml:"field" json:"field,omitempty"`
	Filter             string    `yaml:"filter" json:"filter,omitempty"`
	Frequency          Frequency `yaml:"frequency" json:"native_frequency" validate:"required,oneof=daily weekly monthly quarterly"`
	Units              Units     `yaml:"units" json:"units" validate:"required,oneof=percent basis_points billions_usd millions_usd usd index count thousands"`
	PublicationLagDays int       `yaml:"publication_lag_days" json:"publication_lag_days" validate:"gte=0"`
	BackfillStart      string    `yaml:"backfill_start" json:"backfill_start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Description        string    `yaml:"description" json:"description,omitempty"`
}

// SourceID is the identifier in the provider's own namespace.
func (s Series) SourceID() string {
	if s.ProviderID != "" {
		return s.ProviderID
	}
	return s.ID
}

// SeriesCatalog is the series.yaml document.
type SeriesCatalog struct {
	Series []Series `yaml:"series" validate:"required,min=1,dive"`
}

// Lookup returns the series with the given id.
func (c *SeriesCatalog) Lookup(id string) (Series, bool) {
	for _, s := range c.Series {
		if s.ID == id {
			return s, true
		}
	}
	return Series{}, false
}

// ByProvider groups series ids per provider, preserving catalog order.
func (c *SeriesCatalog) ByProvider() map[Provider][]Series {
	out := make(map[Provider][]Series)
	for _, s := range c.Series {
		out[s.Provider] = append(out[s.Provider], s)
	}
	return out
}
