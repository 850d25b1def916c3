// Package isoweek computes ISO-8601 week keys (Monday-start, UTC), the one
// calendar helper the teacher's pkg/utils/time.go does not provide: it has
// GetWeekStart but keys weeks by that start timestamp rather than by the
// "YYYY-Www" label the exposure tracker persists and compares week to week.
package isoweek

import (
	"fmt"
	"time"
)

// Key returns the ISO-8601 week identifier for t, e.g. "2026-W05". t is
// converted to UTC before computing the week, so the same instant always
// yields the same key regardless of the caller's local time.
func Key(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthKey returns the calendar month identifier for t, e.g. "2026-07".
func MonthKey(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%04d-%02d", u.Year(), int(u.Month()))
}

// Start returns the Monday 00:00:00 UTC that begins t's ISO week.
func Start(t time.Time) time.Time {
	u := t.UTC()
	weekday := int(u.Weekday())
	if weekday == 0 { // time.Sunday
		weekday = 7
	}
	daysSinceMonday := weekday - 1
	d := u.AddDate(0, 0, -daysSinceMonday)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// Previous returns the week key immediately preceding key, e.g.
// Previous("2026-W01") -> "2025-W52" (or "2025-W53" on long years).
func Previous(key string) (string, error) {
	var year, week int
	if _, err := fmt.Sscanf(key, "%04d-W%02d", &year, &week); err != nil {
		return "", fmt.Errorf("isoweek: invalid key %q: %w", key, err)
	}
	// Anchor on the Thursday of the given ISO week, which always falls
	// inside the correct ISO year, then step back seven days.
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
	jan4Weekday := int(jan4.Weekday())
	if jan4Weekday == 0 {
		jan4Weekday = 7
	}
	week1Monday := jan4.AddDate(0, 0, -(jan4Weekday - 1))
	thisWeekMonday := week1Monday.AddDate(0, 0, (week-1)*7)
	prevWeekMonday := thisWeekMonday.AddDate(0, 0, -7)
	return Key(prevWeekMonday.AddDate(0, 0, 3)), nil
}
