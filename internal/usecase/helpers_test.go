package usecase

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	irepo "LighthouseMacro/internal/repository"
	"LighthouseMacro/pkg/util"
)

// fakeAdapter serves scripted observations and errors per series.
type fakeAdapter struct {
	provider models.Provider

	mu     sync.Mutex
	data   map[string][]models.Observation
	errs   map[string][]error // consumed one per call before data is served
	calls  map[string][][2]time.Time
	active int
	peak   int
	delay  time.Duration
}

func newFakeAdapter(p models.Provider) *fakeAdapter {
	return &fakeAdapter{
		provider: p,
		data:     make(map[string][]models.Observation),
		errs:     make(map[string][]error),
		calls:    make(map[string][][2]time.Time),
	}
}

func (f *fakeAdapter) Provider() models.Provider { return f.provider }

func (f *fakeAdapter) Fetch(ctx context.Context, s models.Series, start, end time.Time) ([]models.Observation, error) {
	f.mu.Lock()
	f.calls[s.ID] = append(f.calls[s.ID], [2]time.Time{start, end})
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	var err error
	if q := f.errs[s.ID]; len(q) > 0 {
		err, f.errs[s.ID] = q[0], q[1:]
	}
	data := f.data[s.ID]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	var out []models.Observation
	for _, o := range data {
		if !o.Date.Before(start) && !o.Date.After(end) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeAdapter) callsFor(id string) [][2]time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]time.Time(nil), f.calls[id]...)
}

// adapterMap implements Adapters; absent providers report a config error.
type adapterMap map[models.Provider]repository.SourceAdapter

func (m adapterMap) Adapter(p models.Provider) (repository.SourceAdapter, error) {
	if a, ok := m[p]; ok {
		return a, nil
	}
	return nil, apperr.Config("provider %s unavailable: missing credential", p)
}

func date(s string) time.Time {
	d, err := util.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dailyObs(id, from string, values ...float64) []models.Observation {
	out := make([]models.Observation, len(values))
	for i, v := range values {
		out[i] = models.Observation{SeriesID: id, Date: util.AddDays(date(from), i), Value: v}
	}
	return out
}

func newStore(t *testing.T) *irepo.SQLiteStore {
	t.Helper()
	s, err := irepo.NewSQLiteStore(filepath.Join(t.TempDir(), "raw.db"), time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixedClock(s string) func() time.Time {
	t := date(s).Add(12 * time.Hour)
	return func() time.Time { return t }
}

// sleepRecorder captures backoff durations without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

var defaultPolicy = FetchPolicy{
	FanOut:                   4,
	ReconciliationWindowDays: 30,
	BackfillYears:            20,
	MaxRetries:               3,
	BaseBackoff:              time.Second,
}
