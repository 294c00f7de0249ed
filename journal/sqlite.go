package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_events (
    entry_id    TEXT PRIMARY KEY,
    timestamp   INTEGER NOT NULL,
    component   TEXT NOT NULL,
    operation   TEXT NOT NULL,
    identity    TEXT,
    token       TEXT,
    status      TEXT NOT NULL,
    error       TEXT,
    duration_ms INTEGER,
    detail      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_ts ON pipeline_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_op ON pipeline_events(component, operation);
`

// openDB opens the SQLite file at path with WAL and a busy timeout, then
// applies the schema. ":memory:" pins the pool to one connection because
// every connection to it is a separate database.
func openDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return db, nil
}

// isBusy reports whether err is an SQLite BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// runTx executes fn in a transaction, retrying up to 3 times on BUSY with
// 100/200/300ms backoff.
func runTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	const attempts = 3
	var err error
	for i := range attempts {
		if err = txOnce(ctx, db, fn); err == nil || !isBusy(err) {
			return err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("journal: context cancelled during retry: %w", ctx.Err())
		case <-t.C:
		}
	}
	return err
}

func txOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	return nil
}
