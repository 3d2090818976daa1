package repository

import (
	"context"
	"time"

	"LighthouseMacro/internal/domain/models"
)

// SourceAdapter fetches raw observations from one provider. Results are
// ordered by date, free of duplicates, and clipped to [start, end].
// Failures are *apperr.Error values.
type SourceAdapter interface {
	Provider() models.Provider
	Fetch(ctx context.Context, s models.Series, start, end time.Time) ([]models.Observation, error)
}

// SeriesLister is implemented by adapters whose provider supports discovery.
type SeriesLister interface {
	ListSeries(ctx context.Context) ([]string, error)
}

// RawStore persists observations across runs. Upsert is atomic per call.
type RawStore interface {
	Upsert(ctx context.Context, seriesID string, obs []models.Observation, runID string) (models.UpsertResult, error)
	Get(ctx context.Context, seriesID string, start, end time.Time) ([]models.Observation, error)
	LastObservationDate(ctx context.Context, seriesID string) (time.Time, bool, error)
	Scan(ctx context.Context) ([]models.SeriesInventory, error)
	Revisions(ctx context.Context, seriesID string, since time.Time) ([]models.RevisionEvent, error)
	Close() error
}

// IndicatorSink persists a run's indicator panel and report.
type IndicatorSink interface {
	Name() string
	Write(ctx context.Context, panel *models.IndicatorPanel, report *models.RunReport) (location string, err error)
}

// RunPublisher announces finished runs and revisions to downstream consumers.
type RunPublisher interface {
	PublishRun(ctx context.Context, report *models.RunReport) error
	Close() error
}

// Locker provides cross-process mutual exclusion per series writer.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type Metrics interface {
	RecordFetch(provider, seriesID string, rows int)
	RecordRevisions(seriesID string, n int)
	RecordSeriesOutcome(provider, status, kind string)
	RecordRetry(provider string)
	RecordComposite(indexID, status string)
	RecordLatency(phase string, seconds float64)
	RecordRunFinished(unixSeconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordFetch(string, string, int)            {}
func (NopMetrics) RecordRevisions(string, int)                {}
func (NopMetrics) RecordSeriesOutcome(string, string, string) {}
func (NopMetrics) RecordRetry(string)                         {}
func (NopMetrics) RecordComposite(string, string)             {}
func (NopMetrics) RecordLatency(string, float64)              {}
func (NopMetrics) RecordRunFinished(float64)                  {}
