/*
Package sqlstore provides a database/sql implementation of fees.TxStore.

PURPOSE:
  Persists fee structures, components, rules, discounts, calculations,
  approvals and the audit log. The same code runs on SQLite (embedded,
  tests, demos) and PostgreSQL (production); only the schema and the
  placeholder syntax differ.

INTERFACES IMPLEMENTED:
  fees.Store:   every table, usable inside or outside a transaction
  fees.TxStore: WithTx

KEY TABLES:
  fee_structures:          versioned pricing rows
  charge_components:       itemized charges (soft delete)
  charge_rules:            typed rule variants (JSON condition/action)
  discount_configurations: discounts with usage counter
  fee_calculations:        immutable calculation snapshots
  fee_approvals:           approval cycles
  fee_approval_events:     append-only approval history
  audit_log:               append-only audit trail

CONCURRENCY:
  SQLite: one connection, transactions opened with BEGIN IMMEDIATE
  (_txlock=immediate) so writers serialize; overlap triggers reject
  overlapping active fee structures.
  PostgreSQL: SERIALIZABLE transactions plus an EXCLUDE USING gist
  constraint over (hostel, room type, fee type, daterange).
  Constraint violations come back as generic.ErrConflict.

COLUMN ENCODING:
  dates:    'YYYY-MM-DD' (DATE)
  money:    decimal string (TEXT on SQLite, NUMERIC on PostgreSQL)
  sets:     JSON arrays
  payloads: JSON (TEXT / JSONB)

USAGE:
  store, err := sqlstore.Open(sqlstore.Options{Driver: "sqlite", DSN: "./data/fees.db"})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  err = store.WithTx(ctx, func(tx fees.Store) error {
      _, err := catalog.Create(ctx, tx, audit, params)
      return err
  })

SEE ALSO:
  - fees/store.go: Interface definitions
  - schema.go: Dialect-specific DDL
  - errors.go: Constraint error translation
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/fee-engine/fees"
)

// Dialect selects schema and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Options configures Open.
type Options struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is a file path (or ":memory:") for SQLite and a connection
	// string for PostgreSQL.
	DSN string
}

// Store implements fees.TxStore.
type Store struct {
	*conn
	db *sql.DB
}

// conn runs every query against either the pool or an open transaction.
type conn struct {
	q       queryer
	dialect Dialect
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ fees.TxStore = (*Store)(nil)
	_ fees.Store   = (*conn)(nil)
)

// Open connects and migrates the schema.
func Open(opts Options) (*Store, error) {
	switch Dialect(opts.Driver) {
	case SQLite, "sqlite3", "":
		return NewSQLite(opts.DSN)
	case Postgres, "postgresql", "pgx":
		return NewPostgres(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

// NewSQLite opens a SQLite database. Use ":memory:" for an in-memory
// database.
func NewSQLite(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path + "?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" alive and serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return newStore(db, SQLite)
}

// NewPostgres opens a PostgreSQL database through the pgx stdlib driver.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return newStore(db, Postgres)
}

func newStore(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{conn: &conn{q: db, dialect: dialect}, db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaFor(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (fees.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx fees.Store) error) error {
	var opts *sql.TxOptions
	if s.dialect == Postgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return translate(err, "commit")
	}
	return nil
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (c *conn) rebind(query string) string {
	if c.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
