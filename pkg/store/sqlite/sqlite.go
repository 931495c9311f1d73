package sqlite

// SQLite-backed Store on modernc.org/sqlite (pure Go driver). Schema is
// migrated on open. Timestamps are stored as unix seconds; rowid breaks
// ordering ties so message order stays stable across reads.

import (
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/go-go-golems/parley/pkg/store"
)

type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	// The modernc driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent use and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS topic (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_ts INTEGER NOT NULL,
			last_accessed_ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS message (
			id TEXT PRIMARY KEY,
			topic_id TEXT NOT NULL REFERENCES topic (id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			created_ts INTEGER NOT NULL,
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_topic_id ON message (topic_id, created_ts)`,
		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}
