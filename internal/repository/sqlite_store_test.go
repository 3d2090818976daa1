package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	clock := time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC)
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "raw.db"), time.Second, nil,
		WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func obs(id string, date string, v float64) models.Observation {
	d, _ := util.ParseDate(date)
	return models.Observation{SeriesID: id, Date: d, Value: v}
}

func TestUpsertInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, "X", []models.Observation{
		obs("X", "2024-01-03", 3),
		obs("X", "2024-01-01", 1),
		obs("X", "2024-01-02", models.Missing()),
	}, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Zero(t, res.Revised)

	got, err := s.Get(ctx, "X", util.Date(2024, 1, 1), util.Date(2024, 1, 31))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, util.Date(2024, 1, 1), got[0].Date)
	assert.True(t, got[1].IsMissing())
	assert.Equal(t, 3.0, got[2].Value)

	last, ok, err := s.LastObservationDate(ctx, "X")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, util.Date(2024, 1, 3), last)

	_, ok, err = s.LastObservationDate(ctx, "UNKNOWN")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertRevisionDetection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-05-15", 3.14), obs("X", "2024-05-16", 3.15)}, "run-1")
	require.NoError(t, err)

	res, err := s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-05-15", 3.20), obs("X", "2024-05-16", 3.15)}, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Revised)
	assert.Equal(t, 1, res.Unchanged)
	require.Len(t, res.Revisions, 1)
	assert.Equal(t, 3.14, res.Revisions[0].OldValue)
	assert.Equal(t, 3.20, res.Revisions[0].NewValue)
	assert.Equal(t, "run-2", res.Revisions[0].RunID)

	got, err := s.Get(ctx, "X", util.Date(2024, 5, 15), util.Date(2024, 5, 15))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3.20, got[0].Value)

	log, err := s.Revisions(ctx, "X", time.Time{})
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, util.Date(2024, 5, 15), log[0].Date)
	assert.Equal(t, 3.14, log[0].OldValue)
}

func TestRevisionsSinceSubSecond(t *testing.T) {
	since := time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC)
	clock := since.Add(-time.Hour)
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "raw.db"), time.Second, nil,
		WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	_, err = s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-05-15", 3.14)}, "run-1")
	require.NoError(t, err)
	clock = since.Add(-time.Minute)
	_, err = s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-05-15", 3.15)}, "run-2")
	require.NoError(t, err)
	clock = since.Add(500 * time.Millisecond)
	res, err := s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-05-15", 3.20)}, "run-3")
	require.NoError(t, err)
	require.Equal(t, 1, res.Revised)

	log, err := s.Revisions(ctx, "X", since)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "run-3", log[0].RunID)
	assert.True(t, since.Add(500*time.Millisecond).Equal(log[0].RevisedAt))

	log, err = s.Revisions(ctx, "X", since.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, log)

	log, err = s.Revisions(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, log, 2)
}

func TestUpsertMissingSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-01-01", models.Missing())}, "r1")
	require.NoError(t, err)

	res, err := s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-01-01", models.Missing())}, "r2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)

	res, err = s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-01-01", 2.5)}, "r3")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Revised)
	assert.True(t, models.IsMissing(res.Revisions[0].OldValue))
}

func TestUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := []models.Observation{obs("X", "2024-06-29", 1), obs("X", "2024-06-30", 2)}

	_, err := s.Upsert(ctx, "X", batch, "r1")
	require.NoError(t, err)
	res, err := s.Upsert(ctx, "X", batch, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.UpsertResult{Unchanged: 2}, res)
}

func TestUpsertDeduplicatesBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-01-01", 1), obs("X", "2024-01-01", 7)}, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	got, err := s.Get(ctx, "X", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7.0, got[0].Value)
}

func TestUpsertRejectsForeignObservation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(context.Background(), "X", []models.Observation{obs("X", "2024-01-01", 1), obs("Y", "2024-01-02", 1)}, "r1")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindStore))

	got, err := s.Get(context.Background(), "X", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpsertCancelledLeavesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Upsert(ctx, "X", []models.Observation{obs("X", "2024-01-01", 1)}, "r1")
	require.Error(t, err)

	got, err := s.Get(context.Background(), "X", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "B", []models.Observation{obs("B", "2020-01-01", 1), obs("B", "2020-02-01", 2)}, "r")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "A", []models.Observation{obs("A", "2021-03-05", 1)}, "r")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "EMPTY", nil, "r")
	require.NoError(t, err)

	inv, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, inv, 2)
	assert.Equal(t, "A", inv[0].SeriesID)
	assert.Equal(t, "B", inv[1].SeriesID)
	assert.Equal(t, 2, inv[1].Count)
	assert.Equal(t, util.Date(2020, 1, 1), inv[1].FirstDate)
	assert.Equal(t, util.Date(2020, 2, 1), inv[1].LastDate)
	assert.Equal(t, time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC), inv[1].LastFetchedAt)
}

func TestConcurrentSeriesWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			batch := make([]models.Observation, 0, 100)
			for i := 0; i < 100; i++ {
				batch = append(batch, models.Observation{SeriesID: id, Date: util.AddDays(util.Date(2020, 1, 1), i), Value: float64(i)})
			}
			_, err := s.Upsert(ctx, id, batch, "r")
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	inv, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, inv, 4)
	for _, row := range inv {
		assert.Equal(t, 100, row.Count)
	}
}
