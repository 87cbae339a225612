package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes the agent's local database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Durability over speed: the queue is the write-ahead record for captures
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Photos captured while offline, waiting for upload
	CREATE TABLE IF NOT EXISTS pending_photos (
		id TEXT PRIMARY KEY,
		hotspot_id TEXT NOT NULL,
		tour_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		blob BLOB NOT NULL,
		capture_date DATETIME,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		enqueued_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_photos_hotspot ON pending_photos(hotspot_id);
	CREATE INDEX IF NOT EXISTS idx_pending_photos_tour ON pending_photos(tour_id);
	CREATE INDEX IF NOT EXISTS idx_pending_photos_status ON pending_photos(status);

	-- Tours created while offline, waiting for a server id
	CREATE TABLE IF NOT EXISTS pending_tours (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		cover_image_ref TEXT,
		tour_type TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		remote_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_tours_status ON pending_tours(status);
	CREATE INDEX IF NOT EXISTS idx_pending_tours_tenant ON pending_tours(tenant_id);

	-- Full tour documents cached for offline browsing and staged edits
	CREATE TABLE IF NOT EXISTS cached_tours (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		document TEXT NOT NULL,
		has_local_changes INTEGER NOT NULL DEFAULT 0,
		last_synced_at DATETIME,
		cached_at DATETIME NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_cached_tours_dirty ON cached_tours(has_local_changes);
	CREATE INDEX IF NOT EXISTS idx_cached_tours_cached_at ON cached_tours(cached_at);
	`

	_, err := db.Exec(schema)
	return err
}
