package repository

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	applogger "LighthouseMacro/pkg/logger"
	"LighthouseMacro/pkg/util"
)

const (
	IndicatorsFile = "indicators.csv"
	RunReportFile  = "run.json"
)

// CSVSink writes <dir>/<run_date>/indicators.csv and run.json. Files are
// written to a temp name and renamed so readers never see a partial file.
type CSVSink struct {
	dir string
	l   *applogger.Logger
}

var _ repository.IndicatorSink = (*CSVSink)(nil)

func NewCSVSink(dir string, l *applogger.Logger) *CSVSink {
	if l == nil {
		l = applogger.Nop()
	}
	return &CSVSink{dir: dir, l: l}
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(_ context.Context, panel *models.IndicatorPanel, report *models.RunReport) (string, error) {
	runDir := filepath.Join(s.dir, report.RunDate)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", apperr.Store(err, "create output directory")
	}

	if panel != nil {
		if err := writeAtomic(filepath.Join(runDir, IndicatorsFile), func(f *os.File) error {
			return writeIndicatorCSV(f, panel)
		}); err != nil {
			return "", err
		}
	}

	if err := writeAtomic(filepath.Join(runDir, RunReportFile), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}); err != nil {
		return "", err
	}

	s.l.Info("indicator panel written",
		applogger.String("dir", runDir),
		applogger.Int("rows", rowCount(panel)),
	)
	return runDir, nil
}

// IndicatorHeader is the CSV header: date, then per composite its value
// column and, when it declares bands, an <id>_regime column.
func IndicatorHeader(panel *models.IndicatorPanel) []string {
	header := []string{"date"}
	for _, c := range panel.Columns {
		header = append(header, c.ID)
		if c.Regimes != nil {
			header = append(header, c.ID+"_regime")
		}
	}
	return header
}

func writeIndicatorCSV(f *os.File, panel *models.IndicatorPanel) error {
	w := csv.NewWriter(f)
	if err := w.Write(IndicatorHeader(panel)); err != nil {
		return err
	}
	record := make([]string, 0, 1+2*len(panel.Columns))
	for i, d := range panel.Dates {
		record = append(record[:0], util.FormatDate(d))
		for _, c := range panel.Columns {
			record = append(record, FormatValue(c.Values[i]))
			if c.Regimes != nil {
				record = append(record, c.Regimes[i])
			}
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	w.Flush()
	return w.Error()
}

// FormatValue renders a value with the shortest exact representation; missing is "".
func FormatValue(v float64) string {
	if models.IsMissing(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeAtomic(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return apperr.Store(err, "create temp file for %s", path)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return apperr.Store(err, "write %s", path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return apperr.Store(err, "sync %s", path)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Store(err, "close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperr.Store(err, "rename into %s", path)
	}
	return nil
}

func rowCount(p *models.IndicatorPanel) int {
	if p == nil {
		return 0
	}
	return len(p.Dates)
}
