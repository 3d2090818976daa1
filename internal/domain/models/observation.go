package models

import (
	"math"
	"time"
)

// Observation is one dated value of one series. A NaN value means explicitly missing.
type Observation struct {
	SeriesID string
	Date     time.Time
	Value    float64
}

func (o Observation) IsMissing() bool {
	return IsMissing(o.Value)
}

// Missing returns the missing-value marker.
func Missing() float64 {
	return math.NaN()
}

func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// SameValue reports whether two stored values are equal, treating missing == missing.
func SameValue(a, b float64) bool {
	if IsMissing(a) || IsMissing(b) {
		return IsMissing(a) && IsMissing(b)
	}
	return a == b
}

// UpsertResult summarizes one raw store upsert.
type UpsertResult struct {
	Inserted  int
	Revised   int
	Unchanged int
	Revisions []RevisionEvent
}

// SeriesInventory is one row of a raw store scan.
type SeriesInventory struct {
	SeriesID      string    `json:"series_id"`
	FirstDate     time.Time `json:"first_date"`
	LastDate      time.Time `json:"last_date"`
	Count         int       `json:"count"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
}
