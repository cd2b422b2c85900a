package storage

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTimedTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.Exec("CREATE TABLE test (id TEXT PRIMARY KEY, val TEXT)")
	return db
}

func TestTimedDB_ExecContext(t *testing.T) {
	tdb := NewTimedDB(openTimedTestDB(t))

	if _, err := tdb.ExecContext(context.Background(), "INSERT INTO test (id, val) VALUES (?, ?)", "a", "one"); err != nil {
		t.Fatalf("ExecContext failed: %v", err)
	}

	var val string
	if err := tdb.QueryRowContext(context.Background(), "SELECT val FROM test WHERE id = ?", "a").Scan(&val); err != nil {
		t.Fatalf("QueryRowContext failed: %v", err)
	}
	if val != "one" {
		t.Errorf("expected val 'one', got %q", val)
	}
}

func TestTimedDB_QueryContext(t *testing.T) {
	tdb := NewTimedDB(openTimedTestDB(t))
	tdb.ExecContext(context.Background(), "INSERT INTO test (id, val) VALUES ('a', '1'), ('b', '2')")

	rows, err := tdb.QueryContext(context.Background(), "SELECT id FROM test ORDER BY id")
	if err != nil {
		t.Fatalf("QueryContext failed: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}
}

func TestTimedDB_BeginTx(t *testing.T) {
	tdb := NewTimedDB(openTimedTestDB(t))

	tx, err := tdb.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if _, err := tx.Exec("INSERT INTO test (id, val) VALUES ('x', 'y')"); err != nil {
		t.Fatalf("tx exec failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	var val string
	if err := tdb.QueryRowContext(context.Background(), "SELECT val FROM test WHERE id = 'x'").Scan(&val); err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if val != "y" {
		t.Errorf("expected 'y', got %q", val)
	}
}
