// Package db provides embedded database schema and migration files.
package db

import _ "embed"

// Schema contains the PostgreSQL DDL for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SQLiteSchema is the same layout for the embedded SQLite store. Timestamps
// are stored as INTEGER unix microseconds.
//
//go:embed sqlite/001_schema.sql
var SQLiteSchema string
