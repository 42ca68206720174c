// Package store is the durable state of iptvstrm: the materialization cache,
// per-kind sync state, settings, category and group selections, playlist
// sources and their parsed entries, subscriptions and schedules. It is the
// engine's only record of what exists on disk.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a keyed lookup has no row.
var ErrNotFound = errors.New("store: not found")

// querier abstracts *sql.DB and *sql.Tx for shared query logic.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ops carries every query; Store runs them on the pool, Tx inside a
// transaction.
type ops struct {
	q querier
}

// MaxOpenConns sizes the pool. Readers run concurrently under WAL; writers
// are serialized by writeLock.
const MaxOpenConns = 4

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

// writeLock admits one writer at a time: a transaction holds it from Begin
// to Commit or Rollback, a plain statement for the length of its Exec.
type writeLock chan struct{}

func (w writeLock) acquire(ctx context.Context) error {
	select {
	case w <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w writeLock) release() { <-w }

// pool reads straight from the database and takes the write lock for Exec.
type pool struct {
	db *sql.DB
	w  writeLock
}

func (p pool) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

func (p pool) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

func (p pool) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := p.w.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.w.release()
	return p.db.ExecContext(ctx, query, args...)
}

// Store provides access to the database.
type Store struct {
	ops
	db *sql.DB
	w  writeLock
}

// Tx wraps a database transaction with the same methods as Store.
type Tx struct {
	ops
	tx   *sql.Tx
	done sync.Once
	w    writeLock
}

// DSN builds the modernc connection string for path: every connection gets
// the pragmas, and transactions begin IMMEDIATE so writers in another
// process wait on busy_timeout instead of failing on lock upgrade.
func DSN(path string) string {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + q.Encode()
}

// Open opens (creating if needed) the SQLite database at path and applies
// pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(MaxOpenConns)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database. The caller is responsible for
// running Migrate.
func New(db *sql.DB) *Store {
	w := make(writeLock, 1)
	return &Store{ops: ops{q: pool{db: db, w: w}}, db: db, w: w}
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.db, sub)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := s.w.acquire(ctx); err != nil {
		return err
	}
	defer s.w.release()
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return 0, err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.db, sub)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Begin starts a transaction and holds the write lock until it ends. Reads
// through the Store stay available meanwhile; writes through the Store from
// the same goroutine would wait on the lock, so use the Tx.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	if err := s.w.acquire(ctx); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.w.release()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{ops: ops{q: tx}, tx: tx, w: s.w}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	defer t.done.Do(t.w.release)
	return t.tx.Commit()
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	defer t.done.Do(t.w.release)
	return t.tx.Rollback()
}

// InTx runs fn inside a transaction, committing when it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func unixOrNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timeFromNull(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
