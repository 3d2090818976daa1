package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	"LighthouseMacro/internal/services/composite"
	"LighthouseMacro/internal/services/panel"
	applogger "LighthouseMacro/pkg/logger"
	"LighthouseMacro/pkg/util"
)

const (
	CommandFetch = "fetch"
	CommandRun   = "run"
	CommandBuild = "build"
)

// PushFunc ships collected metrics somewhere at the end of a batch command.
type PushFunc func(ctx context.Context) error

// BuildRequest selects the panel range and, optionally, a point-in-time
// (publication-lag) view.
type BuildRequest struct {
	Start time.Time
	End   time.Time
	AsOf  time.Time
}

// Driver sequences fetch, panel build, materialization and output.
type Driver struct {
	rc           *RunContext
	orch         *Orchestrator
	builder      *panel.Builder
	materializer *composite.Materializer
	sinks        []repository.IndicatorSink
	publisher    repository.RunPublisher
	push         PushFunc
	now          func() time.Time
	newRunID     func() string
	l            *applogger.Logger
}

type DriverOption func(*Driver)

// WithSinks sets the output sinks, written in order.
func WithSinks(sinks ...repository.IndicatorSink) DriverOption {
	return func(d *Driver) { d.sinks = sinks }
}

func WithPublisher(p repository.RunPublisher) DriverOption {
	return func(d *Driver) { d.publisher = p }
}

func WithPush(push PushFunc) DriverOption {
	return func(d *Driver) { d.push = push }
}

func WithDriverClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

func WithRunID(gen func() string) DriverOption {
	return func(d *Driver) { d.newRunID = gen }
}

func NewDriver(rc *RunContext, orch *Orchestrator, opts ...DriverOption) *Driver {
	l := rc.Logger
	if l == nil {
		l = applogger.Nop()
	}
	metrics := rc.Metrics
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	d := &Driver{
		rc:           rc,
		orch:         orch,
		builder:      panel.NewBuilder(rc.Store, rc.Series, l),
		materializer: composite.NewMaterializer(rc.Catalog, metrics, l),
		now:          time.Now,
		newRunID:     uuid.NewString,
		l:            l,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) metrics() repository.Metrics {
	if d.rc.Metrics == nil {
		return repository.NopMetrics{}
	}
	return d.rc.Metrics
}

func (d *Driver) newReport(command string) *models.RunReport {
	now := d.now()
	return &models.RunReport{
		RunID:      d.newRunID(),
		Command:    command,
		StartedAt:  now.UTC(),
		RunDate:    util.FormatDate(now.UTC()),
		Series:     []models.SeriesOutcome{},
		Revisions:  []models.RevisionEvent{},
		Composites: []models.CompositeOutcome{},
	}
}

// Fetch refreshes the raw store for ids (the configured fetch list, or the
// whole catalog, when empty). No materialization.
func (d *Driver) Fetch(ctx context.Context, ids []string) (*models.RunReport, error) {
	report := d.newReport(CommandFetch)
	if err := d.fetch(ctx, ids, report); err != nil {
		return d.abort(ctx, report, err)
	}
	d.finish(ctx, report)
	return report, nil
}

// Run is the scheduled batch: fetch, then build the lookback window ending
// today, then write outputs. A failed fetch phase does not stop the build;
// a fatal one does.
func (d *Driver) Run(ctx context.Context) (*models.RunReport, error) {
	report := d.newReport(CommandRun)
	if err := d.fetch(ctx, nil, report); err != nil {
		return d.abort(ctx, report, err)
	}

	today := util.Day(d.now().UTC())
	req := BuildRequest{
		Start: util.AddDays(today, -d.rc.Config.Build.LookbackDays),
		End:   today,
	}
	res, err := d.materialize(ctx, req, report)
	if err != nil {
		return d.abort(ctx, report, err)
	}
	d.write(ctx, res, report)
	d.finish(ctx, report)
	return report, nil
}

// Build materializes composites from what the store already holds.
func (d *Driver) Build(ctx context.Context, req BuildRequest) (*models.RunReport, error) {
	report := d.newReport(CommandBuild)
	// a build is keyed by the date it represents
	report.RunDate = util.FormatDate(req.End)
	if !req.AsOf.IsZero() {
		report.RunDate = util.FormatDate(req.AsOf)
	}
	res, err := d.materialize(ctx, req, report)
	if err != nil {
		return d.abort(ctx, report, err)
	}
	d.write(ctx, res, report)
	d.finish(ctx, report)
	return report, nil
}

// Indicators builds and materializes without writing anything.
func (d *Driver) Indicators(ctx context.Context, req BuildRequest) (*composite.Result, error) {
	report := d.newReport(CommandBuild)
	return d.materialize(ctx, req, report)
}

func (d *Driver) fetch(ctx context.Context, ids []string, report *models.RunReport) error {
	if len(ids) == 0 {
		ids = d.rc.Config.Fetch.Series
	}
	series, err := selectSeries(d.rc.Series, ids)
	if err != nil {
		return err
	}
	d.l.Info("fetch started", applogger.String("run_id", report.RunID), applogger.Int("series", len(series)))

	res, err := d.orch.Fetch(ctx, series, report.RunID)
	if res != nil {
		report.Series = res.Series
		report.Revisions = append(report.Revisions, res.Revisions...)
	}
	if err != nil {
		return err
	}
	for _, s := range report.Series {
		if s.Failed() {
			report.Failures = append(report.Failures, fmt.Sprintf("series %s %s: %s", s.SeriesID, s.Status, s.Reason))
		}
	}
	d.l.Info("fetch finished",
		applogger.Int("advanced", report.SeriesAdvanced()),
		applogger.Int("revisions", len(report.Revisions)),
	)
	return nil
}

func (d *Driver) materialize(ctx context.Context, req BuildRequest, report *models.RunReport) (*composite.Result, error) {
	started := d.now()
	start, end := util.Day(req.Start), util.Day(req.End)
	report.Start, report.End = util.FormatDate(start), util.FormatDate(end)
	if !req.AsOf.IsZero() {
		report.AsOf = util.FormatDate(req.AsOf)
	}

	p, err := d.builder.Build(ctx, panel.Request{
		SeriesIDs: d.rc.Catalog.RequiredSeries(),
		Start:     start,
		End:       end,
		Fill:      panel.FillPolicy(d.rc.Config.Build.FillPolicy),
		AsOf:      req.AsOf,
	})
	if err != nil {
		return nil, err
	}
	res, err := d.materializer.Materialize(ctx, p)
	if err != nil {
		return nil, err
	}
	report.Composites = res.Outcomes
	for _, c := range res.Outcomes {
		if c.Status == models.CompositeFailed {
			report.Failures = append(report.Failures, fmt.Sprintf("composite %s: %s", c.IndexID, c.Reason))
		}
	}
	d.metrics().RecordLatency("build", d.now().Sub(started).Seconds())
	d.l.Info("composites materialized",
		applogger.String("start", report.Start),
		applogger.String("end", report.End),
		applogger.Int("rows", len(p.Dates)),
		applogger.Int("composites", len(res.Panel.Columns)),
	)
	return res, nil
}

// write hands the panel to every sink. Sink failures degrade the run.
func (d *Driver) write(ctx context.Context, res *composite.Result, report *models.RunReport) {
	report.Finalize(d.now().UTC())
	for _, s := range d.sinks {
		loc, err := s.Write(ctx, res.Panel, report)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("sink %s: %v", s.Name(), err))
			d.l.Error("sink write failed", applogger.String("sink", s.Name()), applogger.Error(err))
			continue
		}
		report.Outputs = append(report.Outputs, loc)
		d.l.Info("indicators written", applogger.String("sink", s.Name()), applogger.String("location", loc))
	}
}

// finish publishes the report and pushes metrics; neither can fail the run
// beyond degrading it.
func (d *Driver) finish(ctx context.Context, report *models.RunReport) {
	if d.publisher != nil {
		if err := d.publisher.PublishRun(ctx, report); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("publish: %v", err))
			d.l.Error("run publish failed", applogger.Error(err))
		}
	}
	status := report.Finalize(d.now().UTC())
	d.metrics().RecordRunFinished(float64(report.FinishedAt.Unix()))
	d.pushMetrics(ctx)
	d.l.Info("run finished",
		applogger.String("run_id", report.RunID),
		applogger.String("command", report.Command),
		applogger.String("status", string(status)),
		applogger.Int("failures", len(report.Failures)),
	)
}

func (d *Driver) abort(ctx context.Context, report *models.RunReport, err error) (*models.RunReport, error) {
	report.Fatal = err.Error()
	report.Finalize(d.now().UTC())
	d.pushMetrics(ctx)
	d.l.Error("run aborted",
		applogger.String("run_id", report.RunID),
		applogger.String("command", report.Command),
		applogger.Error(err),
	)
	return report, err
}

func (d *Driver) pushMetrics(ctx context.Context) {
	if d.push == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := d.push(pctx); err != nil {
		d.l.Warn("metrics push failed", applogger.Error(err))
	}
}

// ExitCode maps a command's result onto the process exit status:
// 0 ok, 1 degraded (or every series failed), 2 fatal.
func ExitCode(report *models.RunReport, err error) int {
	if err != nil {
		// fatal kinds, cancellation and anything unexpected abort the run
		return 2
	}
	if report == nil {
		return 0
	}
	switch report.Status {
	case models.RunOK:
		return 0
	case models.RunFailed:
		if report.Fatal != "" {
			return 2
		}
		return 1
	default:
		return 1
	}
}
