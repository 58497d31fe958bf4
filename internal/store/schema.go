package store

import "database/sql"

// Schema is the complete engine schema. All timestamps are Unix milliseconds.
const Schema = `
-- Watch targets
CREATE TABLE IF NOT EXISTS monitors (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    url             TEXT NOT NULL,
    content_type    TEXT NOT NULL DEFAULT '',
    check_interval  INTEGER NOT NULL DEFAULT 60,
    enabled         INTEGER NOT NULL DEFAULT 1,
    config_json     TEXT NOT NULL DEFAULT '{}',
    last_etag       TEXT NOT NULL DEFAULT '',
    last_modified   TEXT NOT NULL DEFAULT '',
    last_checked_at INTEGER,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_monitors_url ON monitors(url);
CREATE INDEX IF NOT EXISTS idx_monitors_due ON monitors(enabled, last_checked_at);

-- Immutable normalized-content captures
CREATE TABLE IF NOT EXISTS snapshots (
    id              TEXT PRIMARY KEY,
    monitor_id      TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
    content_hash    TEXT NOT NULL,
    content         TEXT NOT NULL,
    release_version TEXT,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_monitor ON snapshots(monitor_id, created_at DESC);
-- At most one snapshot per (monitor, version) when versioned.
CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_version
    ON snapshots(monitor_id, release_version) WHERE release_version IS NOT NULL;

-- Detected transitions between snapshots
CREATE TABLE IF NOT EXISTS changes (
    id                 TEXT PRIMARY KEY,
    monitor_id         TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
    before_snapshot_id TEXT REFERENCES snapshots(id) ON DELETE SET NULL,
    after_snapshot_id  TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    summary            TEXT NOT NULL DEFAULT '',
    ai_summary         TEXT NOT NULL DEFAULT '',
    ai_meta_json       TEXT NOT NULL DEFAULT '',
    diff_type          TEXT NOT NULL DEFAULT 'modification',
    release_version    TEXT,
    created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_monitor ON changes(monitor_id, created_at DESC);

-- Notification channels (config encrypted at rest)
CREATE TABLE IF NOT EXISTS channels (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL CHECK(type IN ('webhook','discord','telegram')),
    name        TEXT NOT NULL DEFAULT '',
    config_enc  BLOB NOT NULL,
    enabled     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

-- Monitor by channel delivery links
CREATE TABLE IF NOT EXISTS monitor_channels (
    monitor_id     TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
    channel_id     TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
    include_link   INTEGER NOT NULL DEFAULT 1,
    delivery_mode  TEXT NOT NULL DEFAULT 'immediate' CHECK(delivery_mode IN ('immediate','weekly_digest')),
    last_digest_at INTEGER,
    PRIMARY KEY (monitor_id, channel_id)
);

-- Weekly digest queue: one row per (monitor, channel, change)
CREATE TABLE IF NOT EXISTS digest_items (
    id          TEXT PRIMARY KEY,
    monitor_id  TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
    channel_id  TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
    change_id   TEXT NOT NULL REFERENCES changes(id) ON DELETE CASCADE,
    digest_at   INTEGER NOT NULL,
    digest_key  TEXT NOT NULL,
    sent_at     INTEGER,
    UNIQUE (channel_id, change_id)
);
CREATE INDEX IF NOT EXISTS idx_digest_pending ON digest_items(digest_at) WHERE sent_at IS NULL;
`

// ApplySchema creates all tables and indexes on the given database and
// backfills columns added after the initial release.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return err
	}
	return migrate(db)
}

// migrate adds columns to tables created by an older schema. CREATE TABLE
// IF NOT EXISTS leaves existing tables untouched, so new columns need an
// explicit ALTER guarded by a pragma check.
func migrate(db *sql.DB) error {
	added := []struct {
		table  string
		column string
		ddl    string
	}{
		{"monitors", "last_etag", `ALTER TABLE monitors ADD COLUMN last_etag TEXT NOT NULL DEFAULT ''`},
		{"monitors", "last_modified", `ALTER TABLE monitors ADD COLUMN last_modified TEXT NOT NULL DEFAULT ''`},
	}
	for _, a := range added {
		ok, err := hasColumn(db, a.table, a.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := db.Exec(a.ddl); err != nil {
			return err
		}
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	return n > 0, err
}
