package history

import "database/sql"

// Schema is the history schema. All statements are idempotent.
const Schema = `
-- One row per capture session
CREATE TABLE IF NOT EXISTS captures (
    id           TEXT PRIMARY KEY,
    url          TEXT NOT NULL,
    mode         TEXT NOT NULL,               -- 'fullpage', 'area', 'embed'
    state        TEXT NOT NULL DEFAULT 'queued',
    mime         TEXT NOT NULL DEFAULT '',
    width        INTEGER NOT NULL DEFAULT 0,  -- device px
    height       INTEGER NOT NULL DEFAULT 0,  -- device px
    truncated    INTEGER NOT NULL DEFAULT 0,
    segments     INTEGER NOT NULL DEFAULT 0,
    bytes        INTEGER NOT NULL DEFAULT 0,
    blob_path    TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL,            -- milliseconds since epoch
    finished_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_captures_created ON captures(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_captures_state ON captures(state, created_at DESC);

-- Per-session progress trail
CREATE TABLE IF NOT EXISTS capture_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    capture_id  TEXT NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
    state       TEXT NOT NULL,
    segment     INTEGER NOT NULL DEFAULT 0,
    total       INTEGER NOT NULL DEFAULT 0,
    detail      TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_capture_events_capture ON capture_events(capture_id, id);

-- Hot-reloadable capture settings: a single JSON row
CREATE TABLE IF NOT EXISTS settings (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    config     TEXT NOT NULL DEFAULT '{}',
    updated_at INTEGER NOT NULL
);
INSERT OR IGNORE INTO settings (id, config, updated_at)
VALUES (1, '{}', strftime('%s', 'now') * 1000);
`

// ApplySchema creates the history tables if they don't exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
