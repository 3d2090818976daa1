package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	applogger "LighthouseMacro/pkg/logger"
	"LighthouseMacro/pkg/util"

	_ "modernc.org/sqlite"
)

const (
	minDate = "0001-01-01"
	maxDate = "9999-12-31"

	// stampLayout is fixed width so stored stamps sort as text.
	stampLayout = "2006-01-02T15:04:05.000000000Z"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS observations (
		series_id  TEXT NOT NULL,
		date       TEXT NOT NULL,
		value      REAL,
		fetched_at TEXT NOT NULL,
		PRIMARY KEY (series_id, date)
	) WITHOUT ROWID`,
	`CREATE TABLE IF NOT EXISTS series_state (
		series_id       TEXT PRIMARY KEY,
		first_date      TEXT,
		last_date       TEXT,
		count           INTEGER NOT NULL DEFAULT 0,
		last_fetched_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS revisions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		series_id  TEXT NOT NULL,
		date       TEXT NOT NULL,
		old_value  REAL,
		new_value  REAL,
		run_id     TEXT NOT NULL,
		revised_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_revisions_series ON revisions (series_id, revised_at)`,
}

// SQLiteStore is the RawStore on an embedded SQLite database in WAL mode.
// Each Upsert is one IMMEDIATE transaction; readers see the committed
// snapshot from before or after it.
type SQLiteStore struct {
	db    *sql.DB
	l     *applogger.Logger
	now   func() time.Time
	locks sync.Map // series_id -> *sync.Mutex
}

var _ repository.RawStore = (*SQLiteStore)(nil)

// StoreOption configures SQLiteStore.
type StoreOption func(*SQLiteStore)

// WithClock overrides the clock used for fetched_at/revised_at.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore opens (creating if needed) the raw store at path.
func NewSQLiteStore(path string, busyTimeout time.Duration, l *applogger.Logger, opts ...StoreOption) (*SQLiteStore, error) {
	if path == "" {
		return nil, apperr.Store(nil, "store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperr.Store(err, "create store directory")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Store(err, "open sqlite")
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if l == nil {
		l = applogger.Nop()
	}
	s := &SQLiteStore{db: db, l: l, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, apperr.Store(err, "init schema")
		}
	}
	return s, nil
}

func (s *SQLiteStore) seriesLock(seriesID string) *sync.Mutex {
	m, _ := s.locks.LoadOrStore(seriesID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Upsert inserts new dates, overwrites changed values (recording a revision)
// and refreshes series_state, all in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, seriesID string, obs []models.Observation, runID string) (models.UpsertResult, error) {
	var res models.UpsertResult
	if seriesID == "" {
		return res, apperr.Store(nil, "upsert without series id")
	}

	batch := normalizeBatch(obs)
	for _, o := range batch {
		if o.SeriesID != "" && o.SeriesID != seriesID {
			return res, apperr.Store(nil, "observation for %s in batch for %s", o.SeriesID, seriesID)
		}
	}

	mu := s.seriesLock(seriesID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now().UTC()
	stamp := now.Format(stampLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, apperr.Store(err, "begin upsert %s", seriesID)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.existingValues(ctx, tx, seriesID, batch)
	if err != nil {
		return res, err
	}

	for _, o := range batch {
		date := util.FormatDate(o.Date)
		old, found := existing[date]
		switch {
		case !found:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO observations (series_id, date, value, fetched_at) VALUES (?, ?, ?, ?)`,
				seriesID, date, nullFloat(o.Value), stamp); err != nil {
				return models.UpsertResult{}, apperr.Store(err, "insert %s %s", seriesID, date)
			}
			res.Inserted++
		case models.SameValue(old, o.Value):
			res.Unchanged++
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE observations SET value = ?, fetched_at = ? WHERE series_id = ? AND date = ?`,
				nullFloat(o.Value), stamp, seriesID, date); err != nil {
				return models.UpsertResult{}, apperr.Store(err, "update %s %s", seriesID, date)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO revisions (series_id, date, old_value, new_value, run_id, revised_at) VALUES (?, ?, ?, ?, ?, ?)`,
				seriesID, date, nullFloat(old), nullFloat(o.Value), runID, stamp); err != nil {
				return models.UpsertResult{}, apperr.Store(err, "record revision %s %s", seriesID, date)
			}
			res.Revised++
			res.Revisions = append(res.Revisions, models.RevisionEvent{
				SeriesID:  seriesID,
				Date:      o.Date,
				OldValue:  old,
				NewValue:  o.Value,
				RunID:     runID,
				RevisedAt: now,
			})
		}
	}

	if err := s.refreshState(ctx, tx, seriesID, stamp); err != nil {
		return models.UpsertResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.UpsertResult{}, apperr.Store(err, "commit upsert %s", seriesID)
	}

	for _, r := range res.Revisions {
		s.l.Warn("observation revised",
			applogger.String("series_id", seriesID),
			applogger.Date("date", r.Date),
			applogger.Float64("old_value", r.OldValue),
			applogger.Float64("new_value", r.NewValue),
			applogger.String("run_id", runID),
			applogger.String("revised_at", stamp),
		)
	}
	return res, nil
}

func (s *SQLiteStore) existingValues(ctx context.Context, tx *sql.Tx, seriesID string, batch []models.Observation) (map[string]float64, error) {
	out := make(map[string]float64)
	if len(batch) == 0 {
		return out, nil
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT date, value FROM observations WHERE series_id = ? AND date >= ? AND date <= ?`,
		seriesID, util.FormatDate(batch[0].Date), util.FormatDate(batch[len(batch)-1].Date))
	if err != nil {
		return nil, apperr.Store(err, "read existing %s", seriesID)
	}
	defer rows.Close()
	for rows.Next() {
		var date string
		var v sql.NullFloat64
		if err := rows.Scan(&date, &v); err != nil {
			return nil, apperr.Store(err, "scan existing %s", seriesID)
		}
		out[date] = fromNull(v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err, "read existing %s", seriesID)
	}
	return out, nil
}

func (s *SQLiteStore) refreshState(ctx context.Context, tx *sql.Tx, seriesID, stamp string) error {
	var first, last sql.NullString
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT MIN(date), MAX(date), COUNT(*) FROM observations WHERE series_id = ?`, seriesID).
		Scan(&first, &last, &count)
	if err != nil {
		return apperr.Store(err, "summarize %s", seriesID)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO series_state (series_id, first_date, last_date, count, last_fetched_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(series_id) DO UPDATE SET
		   first_date = excluded.first_date,
		   last_date = excluded.last_date,
		   count = excluded.count,
		   last_fetched_at = excluded.last_fetched_at`,
		seriesID, first, last, count, stamp)
	if err != nil {
		return apperr.Store(err, "update state %s", seriesID)
	}
	return nil
}

// Get returns observations in [start, end] ascending; zero bounds are open.
func (s *SQLiteStore) Get(ctx context.Context, seriesID string, start, end time.Time) ([]models.Observation, error) {
	lo, hi := minDate, maxDate
	if !start.IsZero() {
		lo = util.FormatDate(start)
	}
	if !end.IsZero() {
		hi = util.FormatDate(end)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT date, value FROM observations WHERE series_id = ? AND date >= ? AND date <= ? ORDER BY date ASC`,
		seriesID, lo, hi)
	if err != nil {
		return nil, apperr.Store(err, "query %s", seriesID)
	}
	defer rows.Close()

	out := make([]models.Observation, 0, 256)
	for rows.Next() {
		var date string
		var v sql.NullFloat64
		if err := rows.Scan(&date, &v); err != nil {
			return nil, apperr.Store(err, "scan %s", seriesID)
		}
		d, err := util.ParseDate(date)
		if err != nil {
			return nil, apperr.Store(err, "corrupt date %q for %s", date, seriesID)
		}
		out = append(out, models.Observation{SeriesID: seriesID, Date: d, Value: fromNull(v)})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err, "query %s", seriesID)
	}
	return out, nil
}

func (s *SQLiteStore) LastObservationDate(ctx context.Context, seriesID string) (time.Time, bool, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_date FROM series_state WHERE series_id = ?`, seriesID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !last.Valid) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperr.Store(err, "last observation %s", seriesID)
	}
	d, err := util.ParseDate(last.String)
	if err != nil {
		return time.Time{}, false, apperr.Store(err, "corrupt last_date for %s", seriesID)
	}
	return d, true, nil
}

// Scan lists every series holding at least one observation.
func (s *SQLiteStore) Scan(ctx context.Context) ([]models.SeriesInventory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT series_id, first_date, last_date, count, last_fetched_at FROM series_state WHERE count > 0 ORDER BY series_id`)
	if err != nil {
		return nil, apperr.Store(err, "scan")
	}
	defer rows.Close()

	var out []models.SeriesInventory
	for rows.Next() {
		var inv models.SeriesInventory
		var first, last, fetched string
		if err := rows.Scan(&inv.SeriesID, &first, &last, &inv.Count, &fetched); err != nil {
			return nil, apperr.Store(err, "scan row")
		}
		if inv.FirstDate, err = util.ParseDate(first); err != nil {
			return nil, apperr.Store(err, "corrupt first_date for %s", inv.SeriesID)
		}
		if inv.LastDate, err = util.ParseDate(last); err != nil {
			return nil, apperr.Store(err, "corrupt last_date for %s", inv.SeriesID)
		}
		inv.LastFetchedAt, _ = time.Parse(stampLayout, fetched)
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err, "scan")
	}
	return out, nil
}

// Revisions returns the revision log for seriesID (all series when empty)
// at or after since, oldest first.
func (s *SQLiteStore) Revisions(ctx context.Context, seriesID string, since time.Time) ([]models.RevisionEvent, error) {
	q := `SELECT series_id, date, old_value, new_value, run_id, revised_at FROM revisions WHERE revised_at >= ?`
	args := []interface{}{since.UTC().Format(stampLayout)}
	if seriesID != "" {
		q += ` AND series_id = ?`
		args = append(args, seriesID)
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Store(err, "query revisions")
	}
	defer rows.Close()

	var out []models.RevisionEvent
	for rows.Next() {
		var ev models.RevisionEvent
		var date, at string
		var oldV, newV sql.NullFloat64
		if err := rows.Scan(&ev.SeriesID, &date, &oldV, &newV, &ev.RunID, &at); err != nil {
			return nil, apperr.Store(err, "scan revision")
		}
		ev.Date, _ = util.ParseDate(date)
		ev.RevisedAt, _ = time.Parse(stampLayout, at)
		ev.OldValue, ev.NewValue = fromNull(oldV), fromNull(newV)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close releases the underlying DB handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// normalizeBatch sorts by date and keeps the last occurrence of a date.
func normalizeBatch(obs []models.Observation) []models.Observation {
	out := make([]models.Observation, len(obs))
	for i, o := range obs {
		o.Date = util.Day(o.Date)
		out[i] = o
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	n := 0
	for i := range out {
		if n > 0 && out[n-1].Date.Equal(out[i].Date) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

func nullFloat(v float64) sql.NullFloat64 {
	if models.IsMissing(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return models.Missing()
	}
	return v.Float64
}
