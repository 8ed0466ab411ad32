// Package sqlite implements the repository interfaces and the session store
// on top of SQLite (modernc.org/sqlite, pure Go, no cgo).
//
// CONNECTION MODEL:
// The pool is pinned to a single connection. SQLite allows one writer at a
// time anyway, and pinning gives us two things for free: per-connection
// PRAGMAs (foreign_keys) stay in effect, and ":memory:" databases survive
// for the lifetime of the *DB instead of vanishing with an idle connection.
// It also means that inside a transaction every query MUST go through the
// *sql.Tx, never db.conn, or it will wait forever for the busy connection.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/authlink/internal/repository"
)

// DB owns the connection pool. Users, Identities and Sessions hand out the
// per-table repositories, which all share it.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/authlink.db" → file-based database
//   - ":memory:"         → in-memory database, used by the tests
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable; used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Stats returns current row counts.
func (db *DB) Stats(ctx context.Context) (repository.Stats, error) {
	var st repository.Stats
	err := db.conn.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM identities),
		(SELECT COUNT(*) FROM sessions)`,
	).Scan(&st.Users, &st.Identities, &st.Sessions)
	if err != nil {
		return repository.Stats{}, fmt.Errorf("sqlite: counting rows: %w", err)
	}
	return st, nil
}

func (db *DB) Users() *UserDB          { return &UserDB{conn: db.conn} }
func (db *DB) Identities() *IdentityDB { return &IdentityDB{conn: db.conn} }

// Sessions returns a session store whose entries expire ttl after their last
// write.
func (db *DB) Sessions(ttl time.Duration) *SessionDB {
	return &SessionDB{conn: db.conn, ttl: ttl}
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			phone         TEXT UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			is_active     INTEGER NOT NULL DEFAULT 1,
			is_staff      INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// (provider, provider_user_id) is the identity key. The UNIQUE constraint
	// is what serializes two racing first-time callbacks for one account.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS identities (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			provider         TEXT NOT NULL,
			provider_user_id TEXT NOT NULL,
			email            TEXT,
			email_verified   INTEGER NOT NULL DEFAULT 0,
			profile          TEXT NOT NULL DEFAULT '{}',
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (provider, provider_user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_identities_user_id ON identities(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating identities table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	// Added after the first release; ALTER keeps existing databases working.
	if err := db.addColumnIfNotExists("users", "last_login", "DATETIME"); err != nil {
		return fmt.Errorf("adding last_login to users: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, so they can run on every start.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// uniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint
// failure. The returned message names the columns, e.g.
// "... UNIQUE constraint failed: users.email (2067)".
func uniqueViolation(err error) (string, bool) {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return "", false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return se.Error(), true
	}
	return "", false
}

// violates reports whether err is a unique violation on column ("table.col").
func violates(err error, column string) bool {
	msg, ok := uniqueViolation(err)
	return ok && strings.Contains(msg, column)
}
