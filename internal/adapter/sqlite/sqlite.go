// Package sqlite implements the metadata store port on a single-file SQLite
// database with WAL journaling and goose-managed forward-only migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/hostkit-platform/hostkit/internal/port/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens (creating if needed) the sqlite database at path and applies the
// concurrency pragmas. The busy_timeout pragma is the bounded-retry busy
// policy serializing writers across HostKit processes.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// file: URI form handles paths with spaces and query params.
	escaped := strings.ReplaceAll(path, " ", "%20")
	// _txlock=immediate makes BeginTx take the write lock when it starts.
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// RunMigrations applies all pending goose migrations from the embedded SQL
// files. A failure here is fatal to the process before any command runs.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so the same query code
// serves plain reads and transaction-scoped stores.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements database.Store on SQLite.
type Store struct {
	db *sql.DB
	q  querier
}

// NewStore creates a Store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// WithTx runs fn with a transaction-scoped store; all writes commit
// atomically or none do.
func (s *Store) WithTx(ctx context.Context, fn func(database.Store) error) error {
	if s.db == nil {
		// Already transaction-scoped; nested calls reuse the tx.
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Now returns the current time for storage: UTC, monotonic reading stripped,
// so SQLite datetime functions understand the stored value.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func toNullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func toNullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func fromNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func fromNullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
