package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// schemaDDL creates the journal table. Timestamps are UTC text in
// timeLayout so they sort and compare lexically.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS bridge_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	type        TEXT    NOT NULL,
	instance_id TEXT    NOT NULL DEFAULT '',
	generation  INTEGER NOT NULL DEFAULT 0,
	pid         INTEGER NOT NULL DEFAULT 0,
	message     TEXT    NOT NULL DEFAULT '',
	error       TEXT    NOT NULL DEFAULT '',
	created_at  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bridge_events_instance ON bridge_events(instance_id, id);
CREATE INDEX IF NOT EXISTS idx_bridge_events_type ON bridge_events(type, id);
`

// timeLayout is the fixed-width UTC timestamp format stored in created_at.
const timeLayout = "2006-01-02 15:04:05.000000"

// Open opens (creating if needed) the journal at path in WAL mode with a
// busy timeout, and applies the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create eventlog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init eventlog schema: %w", err)
	}

	return db, nil
}
