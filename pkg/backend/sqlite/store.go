// Package sqlite provides a relational storage target backed by a
// single SQLite file. Items persist as JSON documents in a generic
// records table; Params and predicate filters push down through the
// JSON1 functions, and a planner folds read-filter-write sequences
// into single statements.
//
// Native queries for this target are WHERE-clause fragments over the
// records table (the data column holds the item JSON), with `?`
// placeholders bound from the index's Args.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/registry"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (records table)
const currentSchemaVersion = 1

// Store is a SQLite-backed target.
type Store struct {
	name string
	db   *sql.DB
	reg  *registry.Registry
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithName overrides the target name derived from the file path.
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

// WithRegistry converts items through the registry's user/storage
// mappings on the way in and out. Types without a mapping persist
// as-is.
func WithRegistry(reg *registry.Registry) Option {
	return func(s *Store) { s.reg = reg }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	db.SetMaxIdleConns(1) // Keep one connection ready

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		db:   db,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Name() string { return s.name }

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer operations when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Transaction runs fn inside one SQLite transaction. An error from fn
// rolls everything back; otherwise the transaction commits when fn
// returns.
func (s *Store) Transaction(ctx context.Context, fn func(context.Context, engine.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(ctx, &sqlTx{store: s, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on
// user_version. Version 1 is the initial schema; future versions
// migrate from here.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version >= currentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}
