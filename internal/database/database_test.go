package database

import (
	"database/sql"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return db
}

func TestInitializeIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	// A second pass must not fail or duplicate anything.
	if err := db.Initialize(); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}

	tables := []string{
		"schedule_jobs", "projects", "knowledge_items", "todos", "bugs",
		"snippets", "journal_entries", "corrections", "documents",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("expected table %s to exist: %v", table, err)
		}
	}
}

func TestColumnExists(t *testing.T) {
	db := newTestDB(t)

	tests := []struct {
		table  string
		column string
		want   bool
	}{
		{"knowledge_items", "subcategory", true},
		{"knowledge_items", "no_such_column", false},
		{"snippets", "session_ref", true},
		{"documents", "published", true},
	}
	for _, tt := range tests {
		got, err := db.columnExists(tt.table, tt.column)
		if err != nil {
			t.Fatalf("columnExists(%s, %s): %v", tt.table, tt.column, err)
		}
		if got != tt.want {
			t.Errorf("columnExists(%s, %s) = %v, want %v", tt.table, tt.column, got, tt.want)
		}
	}
}

func TestTimeRoundTrip(t *testing.T) {
	orig := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)

	parsed := ParseTime(FormatTime(orig))
	if !parsed.Equal(orig) {
		t.Errorf("round trip changed time: %v != %v", parsed, orig)
	}

	if got := ParseNullTime(sql.NullString{}); got != nil {
		t.Errorf("ParseNullTime on NULL should be nil, got %v", got)
	}

	ptr := FormatTimePtr(nil)
	if ptr != nil {
		t.Errorf("FormatTimePtr(nil) should be nil, got %v", ptr)
	}
}

func TestFormatTimeOrdersLexicographically(t *testing.T) {
	// Stored timestamps are compared as TEXT in SQL, so string order must
	// match chronological order even across fraction boundaries.
	base := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(999 * time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Second + time.Nanosecond),
		base.Add(time.Minute),
	}

	prev := FormatTime(times[0])
	for _, tm := range times[1:] {
		cur := FormatTime(tm)
		if !(prev < cur) {
			t.Errorf("string order broke chronology: %q >= %q", prev, cur)
		}
		prev = cur
	}
}
