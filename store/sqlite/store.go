// Package sqlite implements store.Store on SQLite via database/sql and
// the mattn/go-sqlite3 driver. It suits single-node embeddings that
// want durable checkpoints without running a database server; the
// retained-record-per-key rule is enforced with an upsert whose update
// clause requires a strictly greater sequence.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver

	"github.com/skeinlabs/skein/checkpoint"
	"github.com/skeinlabs/skein/quarantine"
)

// Compile-time interface checks.
var (
	_ checkpoint.Store = (*Store)(nil)
	_ quarantine.Store = (*Store)(nil)
)

// Store implements the composite store.Store interface backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ownsDB bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store over an existing database handle. The caller
// owns the *sql.DB lifecycle; Close is a no-op.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens a SQLite database at the given DSN and wraps it in a
// Store. The returned store owns the handle and closes it on Close.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("skein/sqlite: open %s: %w", dsn, err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent commits.
	db.SetMaxOpenConns(1)

	s := New(db, opts...)
	s.ownsDB = true
	return s, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("skein/sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the handle when the store opened it, otherwise it is a
// no-op because the caller owns the *sql.DB lifecycle.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS skein_checkpoints (
		instance_key TEXT PRIMARY KEY,
		seq          INTEGER NOT NULL,
		data         BLOB NOT NULL,
		created_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
	`CREATE TABLE IF NOT EXISTS skein_quarantine (
		id             TEXT PRIMARY KEY,
		instance_key   TEXT NOT NULL,
		seq            INTEGER NOT NULL,
		data           BLOB NOT NULL,
		reason         TEXT NOT NULL,
		quarantined_at TEXT NOT NULL,
		requeued_at    TEXT,
		created_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_skein_quarantine_at
		ON skein_quarantine (quarantined_at)`,
}
