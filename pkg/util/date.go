package util

import (
    "fmt"
    "strconv"
    "time"
)

// DateLayout is the calendar date format used in configs, CLI flags and storage.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
    y, m, d := t.Date()
    return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC calendar date.
func Date(y int, m time.Month, d int) time.Time {
    return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD into a UTC calendar date.
func ParseDate(s string) (time.Time, error) {
    t, err := time.Parse(DateLayout, s)
    if err != nil {
        return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
    }
    return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
    return t.Format(DateLayout)
}

// UnixDay converts epoch seconds to the UTC calendar date they fall on.
func UnixDay(sec int64) time.Time {
    return Day(time.Unix(sec, 0).UTC())
}

// ParseUnixDay parses a decimal epoch-seconds string (as some providers send it).
func ParseUnixDay(s string) (time.Time, bool) {
    sec, err := strconv.ParseInt(s, 10, 64)
    if err != nil || sec <= 0 {
        return time.Time{}, false
    }
    return UnixDay(sec), true
}

// DaysBetween returns the number of calendar days from a to b (negative if b is before a).
func DaysBetween(a, b time.Time) int {
    return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// AddDays shifts a calendar date by n days.
func AddDays(t time.Time, n int) time.Time {
    return Day(t).AddDate(0, 0, n)
}

// DailyRange returns every calendar date in [start, end]; nil if start is after end.
func DailyRange(start, end time.Time) []time.Time {
    start, end = Day(start), Day(end)
    if start.After(end) {
        return nil
    }
    out := make([]time.Time, 0, DaysBetween(start, end)+1)
    for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
        out = append(out, d)
    }
    return out
}

// MaxDate returns the later of two dates.
func MaxDate(a, b time.Time) time.Time {
    if a.After(b) {
        return a
    }
    return b
}
