package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/spec-kit/support-bridge/internal/config"
)

// SQLite wraps an embedded database used in place of Postgres for development.
type SQLite struct {
	DB *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tickets (
	id            TEXT PRIMARY KEY,
	user_id       INTEGER NOT NULL,
	user_name     TEXT NOT NULL DEFAULT '',
	username      TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL,
	group_id      INTEGER NOT NULL,
	topic_id      INTEGER,
	status        TEXT NOT NULL,
	assignee_id   INTEGER,
	assignee_name TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	closed_at     INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS tickets_one_active_per_user ON tickets(user_id) WHERE status <> 'CLOSED';
CREATE INDEX IF NOT EXISTS tickets_user_created_idx ON tickets(user_id, created_at);
CREATE INDEX IF NOT EXISTS tickets_topic_idx ON tickets(group_id, topic_id) WHERE topic_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS message_mirrors (
	ticket_id         TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	origin_side       TEXT NOT NULL,
	origin_chat_id    INTEGER NOT NULL,
	origin_message_id INTEGER NOT NULL,
	mirror_chat_id    INTEGER NOT NULL,
	mirror_message_id INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	PRIMARY KEY (ticket_id, origin_side, origin_message_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS message_mirrors_target_idx ON message_mirrors(ticket_id, origin_side, mirror_message_id);

CREATE TABLE IF NOT EXISTS ticket_events (
	id         TEXT PRIMARY KEY,
	ticket_id  TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	actor      TEXT NOT NULL,
	actor_id   INTEGER,
	action     TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ticket_events_ticket_idx ON ticket_events(ticket_id, created_at);
`

// NewSQLite opens the database file, creating its directory and schema when missing.
// The path ":memory:" opens a private in-memory database on a single connection.
func NewSQLite(ctx context.Context, cfg config.SQLiteConfig, logger *zap.Logger) (*SQLite, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	inMemory := strings.HasPrefix(path, ":memory:")

	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if !inMemory {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if inMemory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("opened sqlite database", zap.String("path", path))
	return &SQLite{DB: db}, nil
}

// Ping verifies database connectivity.
func (s *SQLite) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("sqlite database not configured")
	}
	return s.DB.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLite) Close() {
	if s != nil && s.DB != nil {
		_ = s.DB.Close()
	}
}
