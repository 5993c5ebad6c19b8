// Package db provides the embedded SQLite store behind the kws virtual
// filesystem.
//
// The store is the single source of truth for workspaces, virtual nodes and
// content objects. It runs SQLite in WAL mode through the ncruces/go-sqlite3
// driver so the CLI, the sync daemon and the dashboard can read
// concurrently while one of them writes.
//
// Architecture:
//   - Database file: .kws/kws.db
//   - Tables: workspaces, sync_sources, vnodes, content_objects
//   - Content objects are keyed by SHA-256 fingerprint and compressed with
//     zstd when that saves space
//   - Reference counts are maintained inside the node write transactions
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with VFS-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode with foreign keys enabled. A "file:"
// prefix on path is accepted. The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(".kws/kws.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	path = strings.TrimPrefix(path, "file:")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path}, nil
}

// connPragmas are applied by the driver to every pooled connection.
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(wal)",
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString("file:" + path)
	for _, p := range connPragmas {
		b.WriteString(sep + "_pragma=" + p)
		sep = "&"
	}
	return b.String()
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_sources (
		workspace_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		location TEXT NOT NULL,
		prefix TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (workspace_id, position),
		FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS content_objects (
		hash TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		size INTEGER NOT NULL,
		stored_size INTEGER NOT NULL,
		line_count INTEGER NOT NULL DEFAULT 0,
		compression TEXT NOT NULL DEFAULT '',
		ref_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vnodes (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		content_hash TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		mode INTEGER,
		status TEXT NOT NULL DEFAULT 'created',
		version INTEGER NOT NULL DEFAULT 1,
		metadata TEXT,  -- JSON object
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		accessed_at TEXT NOT NULL,
		UNIQUE (workspace_id, path),
		FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_vnodes_status ON vnodes(status);
	CREATE INDEX IF NOT EXISTS idx_vnodes_workspace_status ON vnodes(workspace_id, status);
	CREATE INDEX IF NOT EXISTS idx_vnodes_content ON vnodes(content_hash);
	CREATE INDEX IF NOT EXISTS idx_content_refs ON content_objects(ref_count);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
