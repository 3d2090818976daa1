package models

import (
	"encoding/json"
	"math"
	"time"
)

type RunStatus string

const (
	RunOK       RunStatus = "ok"
	RunDegraded RunStatus = "degraded"
	RunFailed   RunStatus = "failed"
)

type SeriesStatus string

const (
	SeriesAdvanced  SeriesStatus = "advanced"
	SeriesUnchanged SeriesStatus = "unchanged"
	SeriesSkipped   SeriesStatus = "skipped"
	SeriesFailed    SeriesStatus = "failed"
)

// SeriesOutcome is the orchestrator's per-series result.
type SeriesOutcome struct {
	SeriesID            string       `json:"series_id"`
	Provider            Provider     `json:"provider"`
	Status              SeriesStatus `json:"status"`
	RequestStart        string       `json:"request_start,omitempty"`
	RequestEnd          string       `json:"request_end,omitempty"`
	Fetched             int          `json:"fetched"`
	Inserted            int          `json:"inserted"`
	Revised             int          `json:"revised"`
	Unchanged           int          `json:"unchanged"`
	Attempts            int          `json:"attempts"`
	LastObservationDate string       `json:"last_observation_date,omitempty"`
	ErrorKind           string       `json:"error_kind,omitempty"`
	Reason              string       `json:"reason,omitempty"`
}

// Failed reports whether the series counts against the run (skip or failure).
func (o SeriesOutcome) Failed() bool {
	return o.Status == SeriesSkipped || o.Status == SeriesFailed
}

type CompositeStatus string

const (
	CompositeMaterialized CompositeStatus = "materialized"
	CompositeFailed       CompositeStatus = "failed"
)

type CompositeOutcome struct {
	IndexID     string          `json:"index_id"`
	Status      CompositeStatus `json:"status"`
	Rows        int             `json:"rows"`
	Present     int             `json:"present"`
	LatestDate  string          `json:"latest_date,omitempty"`
	LatestValue *float64        `json:"latest_value,omitempty"`
	Regime      string          `json:"regime,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// RevisionEvent records a stored value overwritten by a later fetch.
type RevisionEvent struct {
	SeriesID  string
	Date      time.Time
	OldValue  float64
	NewValue  float64
	RunID     string
	RevisedAt time.Time
}

type revisionJSON struct {
	SeriesID  string   `json:"series_id"`
	Date      string   `json:"date"`
	OldValue  *float64 `json:"old_value"`
	NewValue  *float64 `json:"new_value"`
	RunID     string   `json:"run_id,omitempty"`
	RevisedAt string   `json:"revised_at"`
}

// MarshalJSON writes missing values as null.
func (e RevisionEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(revisionJSON{
		SeriesID:  e.SeriesID,
		Date:      e.Date.Format("2006-01-02"),
		OldValue:  nullable(e.OldValue),
		NewValue:  nullable(e.NewValue),
		RunID:     e.RunID,
		RevisedAt: e.RevisedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (e *RevisionEvent) UnmarshalJSON(b []byte) error {
	var raw revisionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d, err := time.Parse("2006-01-02", raw.Date)
	if err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339Nano, raw.RevisedAt)
	if err != nil {
		return err
	}
	*e = RevisionEvent{
		SeriesID:  raw.SeriesID,
		Date:      d,
		OldValue:  fromNullable(raw.OldValue),
		NewValue:  fromNullable(raw.NewValue),
		RunID:     raw.RunID,
		RevisedAt: at,
	}
	return nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func fromNullable(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// Nullable converts a possibly-missing value to a JSON-safe pointer.
func Nullable(v float64) *float64 {
	return nullable(v)
}

// RunReport is the run-metadata record written next to every indicator panel.
type RunReport struct {
	RunID      string             `json:"run_id"`
	Command    string             `json:"command"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	RunDate    string             `json:"run_date"`
	Start      string             `json:"start,omitempty"`
	End        string             `json:"end,omitempty"`
	AsOf       string             `json:"as_of,omitempty"`
	Series     []SeriesOutcome    `json:"series"`
	Revisions  []RevisionEvent    `json:"revisions"`
	Composites []CompositeOutcome `json:"composites"`
	Outputs    []string           `json:"outputs,omitempty"`
	Failures   []string           `json:"failures,omitempty"`
	Fatal      string             `json:"fatal,omitempty"`
	Status     RunStatus          `json:"status"`
}

// SeriesAdvanced counts series that stored at least one new or revised row.
func (r *RunReport) SeriesAdvanced() int {
	n := 0
	for _, s := range r.Series {
		if s.Status == SeriesAdvanced {
			n++
		}
	}
	return n
}

// Finalize derives Status from outcomes. A fetch where every attempted series
// failed and none advanced is a failed run; any other failure degrades it.
func (r *RunReport) Finalize(now time.Time) RunStatus {
	r.FinishedAt = now
	failedSeries, failedComposites := 0, 0
	for _, s := range r.Series {
		if s.Failed() {
			failedSeries++
		}
	}
	for _, c := range r.Composites {
		if c.Status == CompositeFailed {
			failedComposites++
		}
	}
	switch {
	case r.Fatal != "":
		r.Status = RunFailed
	case len(r.Series) > 0 && failedSeries == len(r.Series) && len(r.Composites) == 0:
		r.Status = RunFailed
	case failedSeries > 0 || failedComposites > 0 || len(r.Failures) > 0:
		r.Status = RunDegraded
	default:
		r.Status = RunOK
	}
	return r.Status
}

// IndicatorColumn is one materialized composite in the output panel.
type IndicatorColumn struct {
	ID      string
	Values  []float64
	Regimes []string // nil when the composite declares no bands
}

// IndicatorPanel is the per-run output table: a daily date index and one
// column per successfully materialized composite, in catalog order.
type IndicatorPanel struct {
	Dates   []time.Time
	Columns []IndicatorColumn
}

func (p *IndicatorPanel) Column(id string) (IndicatorColumn, bool) {
	for _, c := range p.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return IndicatorColumn{}, false
}
