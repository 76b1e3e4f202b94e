package timecalc

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used as the matching partition key.
const DateLayout = "2006-01-02"

// SecondsToHours converts a duration in seconds to decimal hours.
func SecondsToHours(seconds int64) float64 {
	return float64(seconds) / 3600
}

// NormalizeDate reduces a date or timestamp string to YYYY-MM-DD.
// Both plain dates and RFC 3339 timestamps are accepted.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if len(s) > len(DateLayout) {
		if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	return s, fmt.Errorf("invalid date %q", s)
}

// FormatHours formats decimal hours as "1h 30m" or "45m".
func FormatHours(hours float64) string {
	minutes := int64(math.Round(hours * 60))
	h := minutes / 60
	m := minutes % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// RoundHours rounds to two decimal places.
func RoundHours(hours float64) float64 {
	return math.Round(hours*100) / 100
}

// WeekRange returns the first and last date (Monday, Sunday) of the ISO week
// containing t, both at midnight like the dates from ParseRange.
func WeekRange(t time.Time) (time.Time, time.Time) {
	sinceMonday := (int(t.Weekday()) + 6) % 7
	from := time.Date(t.Year(), t.Month(), t.Day()-sinceMonday, 0, 0, 0, 0, t.Location())
	return from, from.AddDate(0, 0, 6)
}

// ISOWeekLabel returns a label like "2026-W09".
func ISOWeekLabel(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// ParseRange parses from/to flags. An empty to defaults to from.
func ParseRange(from, to string) (time.Time, time.Time, error) {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	if to == "" {
		return f, f, nil
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q: %w", to, err)
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, fmt.Errorf("to date %s is before from date %s", to, from)
	}
	return f, t, nil
}
