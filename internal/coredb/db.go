// SPDX-License-Identifier: AGPL-3.0-or-later

// Package coredb keeps the local record of acquisition runs: a ledger row per
// run and the stage-tagged event journal behind `modelport history`.
package coredb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowd-org/modelport/internal/paths"
)

const (
	sqliteDriverName = "sqlite"

	// FileName is the database file created inside the data directory.
	FileName = "modelport.db"

	defaultMaxBytes        = 256 << 20
	defaultJournalMaxBytes = 64 << 20

	// walSizeLimit bounds the -wal file left behind after checkpoints.
	walSizeLimit = 4 << 20
	busyTimeout  = 5 * time.Second
	pageSize     = 4096
)

// connectionPragmas run on every connection the driver opens. max_page_count
// turns MaxBytes into a hard limit that surfaces as SQLITE_FULL.
func connectionPragmas(opts Options) []string {
	pages := opts.MaxBytes / pageSize
	if pages < 1 {
		pages = 1
	}
	return []string{
		fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()),
		fmt.Sprintf("page_size(%d)", pageSize),
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		fmt.Sprintf("journal_size_limit(%d)", walSizeLimit),
		fmt.Sprintf("max_page_count(%d)", pages),
	}
}

// Options controls where the database lives and how large it may grow.
type Options struct {
	// DataDir holds the database file; paths.DataDir() when empty.
	DataDir string
	// MaxBytes caps the whole database file.
	MaxBytes int64
	// JournalMaxBytes caps the summed event payloads. Older runs are
	// evicted, ledger row included, to stay below it.
	JournalMaxBytes int64
}

func (o Options) withDefaults() Options {
	if o.DataDir == "" {
		o.DataDir = paths.DataDir()
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = defaultMaxBytes
	}
	if o.JournalMaxBytes <= 0 {
		o.JournalMaxBytes = defaultJournalMaxBytes
	}
	if o.JournalMaxBytes > o.MaxBytes {
		o.JournalMaxBytes = o.MaxBytes
	}
	return o
}

// DB is the open run database.
type DB struct {
	sql  *sql.DB
	opts Options
}

// Open creates the data directory if needed, opens the database and brings
// the schema up to date.
func Open(ctx context.Context, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	q := url.Values{}
	for _, p := range connectionPragmas(opts) {
		q.Add("_pragma", p)
	}
	dsn := "file:" + filepath.ToSlash(filepath.Join(opts.DataDir, FileName)) + "?" + q.Encode()
	conn, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; a CLI run never needs more.
	conn.SetMaxOpenConns(1)

	if err := applyMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DB{sql: conn, opts: opts}, nil
}

// Close releases the connection. Safe on a nil DB.
func (db *DB) Close() error {
	if db == nil || db.sql == nil {
		return nil
	}
	return db.sql.Close()
}

// Path returns the database file location.
func (db *DB) Path() string {
	if db == nil {
		return ""
	}
	return filepath.Join(db.opts.DataDir, FileName)
}

// inTx runs fn inside a transaction, committing only when fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func querySingleInt(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, stmt string, args ...any) (int64, error) {
	var out sql.NullInt64
	if err := q.QueryRowContext(ctx, stmt, args...).Scan(&out); err != nil {
		return 0, err
	}
	return out.Int64, nil
}
