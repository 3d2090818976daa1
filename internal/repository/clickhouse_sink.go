package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	pkgch "LighthouseMacro/pkg/clickhouse"
	applogger "LighthouseMacro/pkg/logger"
)

// ClickHouseSink mirrors indicator values into a ReplacingMergeTree keyed by
// (index_id, date), so re-running a date replaces rather than duplicates.
type ClickHouseSink struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
	now   func() time.Time
}

var _ repository.IndicatorSink = (*ClickHouseSink)(nil)

type indicatorRow struct {
	IndexID string
	Date    time.Time
	Value   *float64
	Regime  string
	RunID   string
}

func NewClickHouseSink(ch *pkgch.Client, table string, l *applogger.Logger) *ClickHouseSink {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseSink{db: ch.DB(), table: table, l: l, now: time.Now}
}

// Schema returns the idempotent DDL for the sink table.
func (s *ClickHouseSink) Schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		index_id   LowCardinality(String),
		date       Date,
		value      Nullable(Float64),
		regime     LowCardinality(String),
		run_id     String,
		written_at DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(written_at)
	ORDER BY (index_id, date)`, s.table)}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, panel *models.IndicatorPanel, report *models.RunReport) (string, error) {
	rows := buildRows(panel, report.RunID)
	if len(rows) == 0 {
		return s.table, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", apperr.Store(err, "clickhouse begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (index_id, date, value, regime, run_id, written_at)", s.table))
	if err != nil {
		return "", apperr.Store(err, "clickhouse prepare")
	}
	defer stmt.Close()

	writtenAt := s.now().UTC()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.IndexID, r.Date, r.Value, r.Regime, r.RunID, writtenAt); err != nil {
			return "", apperr.Store(err, "clickhouse append %s %s", r.IndexID, r.Date.Format("2006-01-02"))
		}
	}
	if err := tx.Commit(); err != nil {
		return "", apperr.Store(err, "clickhouse commit")
	}

	s.l.Info("indicator values sent to clickhouse",
		applogger.String("table", s.table),
		applogger.Int("rows", len(rows)),
	)
	return s.table, nil
}

// buildRows flattens the panel to one row per (index, date), skipping
// leading rows before a composite's first present value.
func buildRows(panel *models.IndicatorPanel, runID string) []indicatorRow {
	if panel == nil {
		return nil
	}
	var out []indicatorRow
	for _, c := range panel.Columns {
		started := false
		for i, d := range panel.Dates {
			v := c.Values[i]
			if !started && models.IsMissing(v) {
				continue
			}
			started = true
			r := indicatorRow{IndexID: c.ID, Date: d, Value: models.Nullable(v), RunID: runID}
			if c.Regimes != nil {
				r.Regime = c.Regimes[i]
			}
			out = append(out, r)
		}
	}
	return out
}
