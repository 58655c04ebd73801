package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS samples (
    id          TEXT PRIMARY KEY,
    waypoint    INTEGER NOT NULL,
    x           REAL NOT NULL,
    y           REAL NOT NULL,
    ph          REAL NOT NULL,
    soil_type   TEXT NOT NULL,
    moisture    TEXT NOT NULL,
    fertilizer  REAL NOT NULL DEFAULT 0,
    mode        TEXT NOT NULL,
    taken_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_taken_at ON samples(taken_at);
CREATE INDEX IF NOT EXISTS idx_samples_waypoint ON samples(waypoint);
`

// DB wraps the SQLite sample database.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.Exec(schema)
	return err
}
