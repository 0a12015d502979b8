package db

import (
	"path/filepath"
	"testing"
)

func TestOpenDatabaseCreatesDirAndAppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "meals.db")
	conn, err := OpenDatabase(path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer conn.Close()

	var journal string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&journal); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if journal != "wal" {
		t.Fatalf("expected wal journal, got %s", journal)
	}

	var foreignKeys int
	if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("expected foreign keys on, got %d", foreignKeys)
	}

	version, dirty, err := SchemaVersion(conn)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("expected clean version 2, got %d dirty=%v", version, dirty)
	}
}

func TestOpenDatabaseIsReopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meals.db")
	for i := 0; i < 2; i++ {
		conn, err := OpenDatabase(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		_ = conn.Close()
	}
}
