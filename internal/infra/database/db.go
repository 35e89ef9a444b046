package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"
)

const (
	defaultMaxOpenConns    = 5
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 1 * time.Minute
)

const sqlitePrefix = "sqlite://"

// Open connects to DATABASE_URL. "sqlite://<path>" selects a local SQLite
// file; anything else is handed to the PostgreSQL driver.
func Open(databaseURL string) (*sqlx.DB, error) {
	if path, ok := strings.CutPrefix(databaseURL, sqlitePrefix); ok {
		return NewSQLiteConnection(path)
	}
	return NewPostgresConnection(databaseURL)
}

// NewPostgresConnection opens and pings a PostgreSQL connection pool.
func NewPostgresConnection(dataSourceName string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewSQLiteConnection opens (or creates) a SQLite file in WAL mode.
func NewSQLiteConnection(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return db, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS notification_relays (
    id              BIGSERIAL PRIMARY KEY,
    notification_id BIGINT      NOT NULL,
    chat_id         BIGINT      NOT NULL,
    category        VARCHAR(32) NOT NULL,
    priority        VARCHAR(16) NOT NULL,
    relayed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT notification_relays_unique UNIQUE (notification_id, chat_id)
);
CREATE INDEX IF NOT EXISTS notification_relays_chat_relayed_at_idx
    ON notification_relays (chat_id, relayed_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notification_relays (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    notification_id INTEGER   NOT NULL,
    chat_id         INTEGER   NOT NULL,
    category        TEXT      NOT NULL,
    priority        TEXT      NOT NULL,
    relayed_at      TIMESTAMP NOT NULL,
    UNIQUE (notification_id, chat_id)
);
CREATE INDEX IF NOT EXISTS notification_relays_chat_relayed_at_idx
    ON notification_relays (chat_id, relayed_at);
`

// EnsureSchema creates the relay log table if it does not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	schema := postgresSchema
	if db.DriverName() == "sqlite" {
		schema = sqliteSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
