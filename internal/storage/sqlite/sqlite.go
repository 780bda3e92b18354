// Package sqlite implements the coupon and API key stores on an embedded
// SQLite database. It is used for single-node deployments and tests.
//
// Every handle uses a single connection and starts transactions with BEGIN
// IMMEDIATE, so writers on one database file are serialized, across handles
// too, with busy_timeout making them wait. That also serializes issuance per
// owner, which makes Tx.LockOwner a no-op here.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/carrykaro/coupon-service/db"
)

// busyTimeout is how long a writer waits for the database lock.
const busyTimeout = 5 * time.Second

// dsn builds the modernc.org/sqlite data source name for path. Pragmas go in
// the DSN so every connection the pool opens gets them.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the SQLite database at path. Use ":memory:" for a private
// in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %q: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connecting sqlite %q: %w", path, err)
	}
	return conn, nil
}

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, db.SQLiteSchema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var e *sqlitedrv.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// Primary code only, when extended codes are off.
		return strings.Contains(e.Error(), "UNIQUE")
	default:
		return false
	}
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func ptrMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
