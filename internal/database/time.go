package database

import (
	"database/sql"
	"time"
)

// Timestamps are stored as RFC3339 TEXT so the same queries work on SQLite
// and MySQL. These helpers keep the conversions in one place.

// timeLayout is RFC3339 with a fixed-width nanosecond fraction and UTC
// normalization. Fixed width keeps lexicographic TEXT comparisons in SQL
// equivalent to chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders a time for storage. Zero times become the empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// FormatTimePtr renders an optional time for storage as a nullable column.
func FormatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ParseTime parses a stored timestamp. Invalid or empty input yields the zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ParseNullTime parses a nullable stored timestamp.
func ParseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := ParseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
