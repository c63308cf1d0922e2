package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *SQLite {
	t.Helper()
	j, err := OpenSQLite(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestSQLite_AppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{GameID: "g1", Power: "FRANCE", Phase: "S1901M", Kind: KindMessage, Text: "first", CreatedAt: base},
		{GameID: "g1", Power: "FRANCE", Phase: "S1901M", Kind: KindOrders, Text: "second", CreatedAt: base.Add(time.Second)},
		{GameID: "g1", Power: "ENGLAND", Phase: "S1901M", Kind: KindMessage, Text: "other", CreatedAt: base},
	}
	for _, e := range entries {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := j.Recent(ctx, "FRANCE", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Text != "second" || got[0].Kind != KindOrders {
		t.Errorf("expected newest entry first, got %+v", got[0])
	}
	if got[1].ID == "" {
		t.Error("expected generated entry id")
	}
}

func TestSQLite_Prune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	_ = j.Append(ctx, Entry{Power: "ITALY", Kind: KindMessage, Text: "old", CreatedAt: now.Add(-48 * time.Hour)})
	_ = j.Append(ctx, Entry{Power: "ITALY", Kind: KindMessage, Text: "new", CreatedAt: now.Add(-time.Hour)})

	removed, err := j.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned entry, got %d", removed)
	}
	got, _ := j.Recent(ctx, "ITALY", 10)
	if len(got) != 1 || got[0].Text != "new" {
		t.Errorf("unexpected remaining entries: %+v", got)
	}
}

func TestIsConflictError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: database busy"), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := isConflictError(tt.err); got != tt.want {
			t.Errorf("isConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("short", 10); got != "short" {
		t.Errorf("Excerpt() = %q", got)
	}
	if got := Excerpt("abcdefghij", 4); got != "abcd..." {
		t.Errorf("Excerpt() = %q", got)
	}
}
