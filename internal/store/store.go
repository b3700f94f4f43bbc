// Package store is the shared persistence layer (spec §4.7, §8): checks,
// pings, flips, channels and notifications, backed by SQLite through the
// pure-Go modernc.org/sqlite driver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the shared database handle and the process-local worker
// identity used for the row-level advisory lock (spec §4.7 item 1).
type Store struct {
	db       *sql.DB
	dbPath   string
	workerID string
}

// Options configures New.
type Options struct {
	// Pool enables a bounded multi-connection pool instead of the
	// default single-writer connection. Only useful for deployments
	// that separate readers onto a replica; most deployments should
	// leave this false, matching the teacher's single-connection WAL
	// posture.
	Pool     bool
	PoolSize int
}

// New opens (creating if necessary) the SQLite database at dbPath and
// applies any pending migrations.
func New(dbPath string, opts Options) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.Pool && opts.PoolSize > 1 {
		db.SetMaxOpenConns(opts.PoolSize)
	} else {
		// SQLite only supports one concurrent writer. Limit the pool to
		// a single connection so all access is serialized at the Go
		// level, preventing SQLITE_BUSY errors from concurrent tickers.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := runMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, dbPath: dbPath, workerID: randomWorkerID()}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WorkerID identifies this process for the row-level advisory lock in
// locks.go.
func (s *Store) WorkerID() string {
	return s.workerID
}

func randomWorkerID() string {
	return fmt.Sprintf("worker-%d-%d", os.Getpid(), rand.Int63())
}

// withRetry retries a storage-transient failure (spec §7) with
// exponential backoff capped at 30s, starting at 100ms.
func withRetry(ctx context.Context, fn func() error) error {
	backoff := 100 * time.Millisecond
	const ceiling = 30 * time.Second
	for {
		err := fn()
		if err == nil || !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > ceiling {
			backoff = ceiling
		}
	}
}

// isTransient reports whether err looks like a storage-transient failure
// (spec §7). modernc.org/sqlite surfaces busy/locked conditions as plain
// errors without an exported sentinel, so this is a substring check on
// the driver message rather than errors.Is.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
