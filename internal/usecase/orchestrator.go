package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	"LighthouseMacro/pkg/cache"
	applogger "LighthouseMacro/pkg/logger"
	"LighthouseMacro/pkg/util"
)

// Adapters resolves a provider to its source adapter.
type Adapters interface {
	Adapter(p models.Provider) (repository.SourceAdapter, error)
}

// FetchPolicy bounds how the orchestrator talks to providers.
type FetchPolicy struct {
	FanOut                   int
	ReconciliationWindowDays int
	BackfillYears            int
	MaxRetries               int
	BaseBackoff              time.Duration
	LockTTL                  time.Duration
}

// Orchestrator brings the raw store up to date, one independent task per
// series, at most FanOut at a time. Calls for one series are sequential.
type Orchestrator struct {
	adapters Adapters
	store    repository.RawStore
	locker   repository.Locker
	metrics  repository.Metrics
	policy   FetchPolicy
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	l        *applogger.Logger
}

type OrchestratorOption func(*Orchestrator)

// WithLocker guards each series writer with a cross-process lock.
func WithLocker(l repository.Locker) OrchestratorOption {
	return func(o *Orchestrator) { o.locker = l }
}

func WithMetrics(m repository.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep replaces the backoff sleep (tests use it to avoid waiting).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func NewOrchestrator(adapters Adapters, store repository.RawStore, policy FetchPolicy, l *applogger.Logger, opts ...OrchestratorOption) *Orchestrator {
	if policy.FanOut < 1 {
		policy.FanOut = 4
	}
	if policy.BackfillYears < 1 {
		policy.BackfillYears = 20
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = time.Second
	}
	if policy.LockTTL <= 0 {
		policy.LockTTL = 10 * time.Minute
	}
	if l == nil {
		l = applogger.Nop()
	}
	o := &Orchestrator{
		adapters: adapters,
		store:    store,
		metrics:  repository.NopMetrics{},
		policy:   policy,
		now:      time.Now,
		sleep:    sleepCtx,
		l:        l,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchResult is the outcome of one orchestrator pass.
type FetchResult struct {
	Series    []models.SeriesOutcome
	Revisions []models.RevisionEvent
}

// Fetch refreshes every series in the list. Per-series failures are recorded
// as outcomes; the returned error is a StoreError or cancellation, in which
// case the result holds whatever completed before the abort.
func (o *Orchestrator) Fetch(ctx context.Context, series []models.Series, runID string) (*FetchResult, error) {
	started := o.now()
	res := &FetchResult{Series: make([]models.SeriesOutcome, len(series))}
	var (
		mu      sync.Mutex
		unknown sync.Map
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.policy.FanOut)
	for i, s := range series {
		g.Go(func() error {
			out, revs, err := o.fetchSeries(gctx, s, runID, &unknown)
			mu.Lock()
			res.Series[i] = out
			res.Revisions = append(res.Revisions, revs...)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	// series never started because of an abort
	for i, s := range series {
		if res.Series[i].SeriesID == "" {
			res.Series[i] = models.SeriesOutcome{
				SeriesID: s.ID, Provider: s.Provider, Status: models.SeriesSkipped, Reason: "run aborted",
			}
		}
	}
	sortRevisions(res.Revisions)
	o.metrics.RecordLatency("fetch", o.now().Sub(started).Seconds())
	if err != nil {
		return res, err
	}
	return res, ctx.Err()
}

func (o *Orchestrator) fetchSeries(ctx context.Context, s models.Series, runID string, unknown *sync.Map) (models.SeriesOutcome, []models.RevisionEvent, error) {
	out := models.SeriesOutcome{SeriesID: s.ID, Provider: s.Provider}
	log := o.l.With(applogger.String("series_id", s.ID), applogger.String("provider", string(s.Provider)))

	if err := ctx.Err(); err != nil {
		out.Status, out.Reason = models.SeriesSkipped, "run aborted"
		return out, nil, nil
	}

	adapter, err := o.adapters.Adapter(s.Provider)
	if err != nil {
		o.skip(&out, err)
		log.Warn("series skipped", applogger.String("reason", out.Reason))
		return out, nil, nil
	}

	if o.locker != nil {
		key := cache.Key("lock", "series", s.ID)
		token, ok, err := o.locker.TryLock(ctx, key, o.policy.LockTTL)
		if err != nil {
			o.skip(&out, apperr.Transient(err, "acquire series lock"))
			log.Warn("series skipped", applogger.Error(err))
			return out, nil, nil
		}
		if !ok {
			out.Status, out.Reason = models.SeriesSkipped, "another writer holds the series lock"
			o.metrics.RecordSeriesOutcome(string(s.Provider), string(out.Status), "locked")
			log.Warn("series skipped", applogger.String("reason", out.Reason))
			return out, nil, nil
		}
		defer func() {
			// release even when ctx is already cancelled
			uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := o.locker.Unlock(uctx, key, token); err != nil && !errors.Is(err, cache.ErrNotLocked) {
				log.Warn("series unlock failed", applogger.Error(err))
			}
		}()
	}

	last, ok, err := o.store.LastObservationDate(ctx, s.ID)
	if err != nil {
		out.Status, out.ErrorKind, out.Reason = models.SeriesFailed, string(apperr.KindStore), err.Error()
		return out, nil, err
	}
	start, end := o.requestRange(s, last, ok)
	out.RequestStart, out.RequestEnd = util.FormatDate(start), util.FormatDate(end)

	obs, attempts, err := o.fetchWithRetry(ctx, adapter, s, start, end)
	out.Attempts = attempts
	if err != nil {
		if ctx.Err() != nil {
			out.Status, out.Reason = models.SeriesSkipped, "run aborted"
			return out, nil, nil
		}
		o.fail(&out, err, log, unknown)
		return out, nil, nil
	}
	out.Fetched = len(obs)
	o.metrics.RecordFetch(string(s.Provider), s.ID, len(obs))

	res, err := o.store.Upsert(ctx, s.ID, obs, runID)
	if err != nil {
		if ctx.Err() != nil {
			out.Status, out.Reason = models.SeriesSkipped, "run aborted"
			return out, nil, nil
		}
		out.Status, out.ErrorKind, out.Reason = models.SeriesFailed, string(apperr.KindStore), err.Error()
		log.Error("upsert failed", applogger.Error(err))
		return out, nil, fmt.Errorf("upsert %s: %w", s.ID, err)
	}
	out.Inserted, out.Revised, out.Unchanged = res.Inserted, res.Revised, res.Unchanged
	o.metrics.RecordRevisions(s.ID, res.Revised)

	if lastNow, ok, err := o.store.LastObservationDate(ctx, s.ID); err == nil && ok {
		out.LastObservationDate = util.FormatDate(lastNow)
	}
	out.Status = models.SeriesUnchanged
	if res.Inserted > 0 || res.Revised > 0 {
		out.Status = models.SeriesAdvanced
	}
	o.metrics.RecordSeriesOutcome(string(s.Provider), string(out.Status), "")
	log.Info("series fetched",
		applogger.String("start", out.RequestStart),
		applogger.String("end", out.RequestEnd),
		applogger.Int("fetched", out.Fetched),
		applogger.Int("inserted", out.Inserted),
		applogger.Int("revised", out.Revised),
		applogger.Int("attempts", out.Attempts),
	)
	return out, res.Revisions, nil
}

// requestRange is [last - reconciliation window, today] for a known series
// and [backfill start, today] for a new one.
func (o *Orchestrator) requestRange(s models.Series, last time.Time, known bool) (time.Time, time.Time) {
	today := util.Day(o.now().UTC())
	backfill, hasBackfill := time.Time{}, false
	if s.BackfillStart != "" {
		if d, err := util.ParseDate(s.BackfillStart); err == nil {
			backfill, hasBackfill = d, true
		}
	}
	if known {
		// never reach back before the configured history
		return util.MaxDate(util.AddDays(last, -o.policy.ReconciliationWindowDays), backfill), today
	}
	if hasBackfill {
		return backfill, today
	}
	return today.AddDate(-o.policy.BackfillYears, 0, 0), today
}

// fetchWithRetry retries TransientFetchErrors with exponential backoff
// (base, 2*base, 4*base, ...) up to MaxRetries extra attempts.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, a repository.SourceAdapter, s models.Series, start, end time.Time) ([]models.Observation, int, error) {
	var lastErr error
	for attempt := 0; attempt <= o.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			o.metrics.RecordRetry(string(s.Provider))
			backoff := o.policy.BaseBackoff << (attempt - 1)
			o.l.Debug("retrying fetch",
				applogger.String("series_id", s.ID),
				applogger.Int("attempt", attempt+1),
				applogger.Duration("backoff", backoff),
				applogger.Error(lastErr),
			)
			if err := o.sleep(ctx, backoff); err != nil {
				return nil, attempt, err
			}
		}
		obs, err := a.Fetch(ctx, s, start, end)
		if err == nil {
			return obs, attempt + 1, nil
		}
		lastErr = err
		if !apperr.Retryable(err) {
			return nil, attempt + 1, err
		}
	}
	return nil, o.policy.MaxRetries + 1, lastErr
}

func (o *Orchestrator) skip(out *models.SeriesOutcome, err error) {
	out.Status = models.SeriesSkipped
	out.ErrorKind = string(apperr.KindOf(err))
	out.Reason = err.Error()
	o.metrics.RecordSeriesOutcome(string(out.Provider), string(out.Status), out.ErrorKind)
}

// fail records a fetch failure. Exhausted transient faults fail the series;
// every other kind skips it. Unknown series are logged once per run.
func (o *Orchestrator) fail(out *models.SeriesOutcome, err error, log *applogger.Logger, unknown *sync.Map) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindTransientFetch:
		out.Status = models.SeriesFailed
		log.Error("fetch failed after retries", applogger.Int("attempts", out.Attempts), applogger.Error(err))
	case apperr.KindUnknownSeries:
		out.Status = models.SeriesSkipped
		if _, seen := unknown.LoadOrStore(out.SeriesID, true); !seen {
			log.Error("provider does not know series; fix the catalog", applogger.Error(err))
		}
	default:
		out.Status = models.SeriesSkipped
		log.Warn("series skipped", applogger.Error(err))
	}
	out.ErrorKind = string(kind)
	out.Reason = err.Error()
	o.metrics.RecordSeriesOutcome(string(out.Provider), string(out.Status), out.ErrorKind)
}
