package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type openConfig struct {
	busyTimeoutMS int
	synchronous   string
	foreignKeys   bool
	cacheSize     int
	mkdirAll      bool
}

func defaultOpenConfig() openConfig {
	return openConfig{
		busyTimeoutMS: 10_000,
		synchronous:   "NORMAL",
		foreignKeys:   true,
		mkdirAll:      true,
	}
}

// Option customises OpenDB's pragmas and setup behavior.
type Option func(*openConfig)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *openConfig) { c.busyTimeoutMS = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *openConfig) { c.synchronous = mode } }

// WithCacheSize sets PRAGMA cache_size. 0 (the default) leaves SQLite's own
// default in place. Negative values are KiB, e.g. -64000 for 64MB.
func WithCacheSize(pages int) Option { return func(c *openConfig) { c.cacheSize = pages } }

// WithoutForeignKeys disables PRAGMA foreign_keys. Tests that stub out
// referenced tables without the full schema sometimes need this.
func WithoutForeignKeys() Option { return func(c *openConfig) { c.foreignKeys = false } }

// WithoutMkdirAll skips creating dbPath's parent directory before opening.
// OpenDB creates it by default so a fresh deployment doesn't have to.
func WithoutMkdirAll() Option { return func(c *openConfig) { c.mkdirAll = false } }

// OpenDB opens the orchestrator's SQLite connection with the standard
// pragmas (WAL journaling, foreign keys, a busy_timeout so concurrent
// writers block instead of erroring), applying any Options on top of those
// defaults.
//
// A ":memory:" dbPath gets exactly one pooled connection: database/sql may
// otherwise open a second connection that sees a distinct, empty in-memory
// database rather than the one the first connection initialized.
func OpenDB(dbPath string, opts ...Option) (*sql.DB, error) {
	cfg := defaultOpenConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.mkdirAll && dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func applyPragmas(db *sql.DB, cfg openConfig) error {
	fk := "ON"
	if !cfg.foreignKeys {
		fk = "OFF"
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA foreign_keys=%s", fk),
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.busyTimeoutMS),
		fmt.Sprintf("PRAGMA synchronous=%s", cfg.synchronous),
	}
	if cfg.cacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=%d", cfg.cacheSize))
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// RunTransaction runs fn inside a transaction, retrying on SQLITE_BUSY.
func RunTransaction(db *sql.DB, fn func(*sql.Tx) error) error {
	maxRetries := 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		tx, err := db.Begin()
		if err != nil {
			if attempt < maxRetries-1 {
				continue
			}
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		err = fn(tx)
		if err != nil {
			SafeTxRollback(tx, "run transaction")
			if attempt < maxRetries-1 && isBusyError(err) {
				continue
			}
			return err
		}

		err = tx.Commit()
		if err != nil {
			if attempt < maxRetries-1 && isBusyError(err) {
				continue
			}
			return fmt.Errorf("failed to commit transaction: %w", err)
		}

		return nil
	}

	return fmt.Errorf("transaction failed after %d retries", maxRetries)
}

// ExecWithRetry runs an exec statement, retrying on SQLITE_BUSY.
func ExecWithRetry(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	maxRetries := 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err := db.Exec(query, args...)
		if err != nil {
			if attempt < maxRetries-1 && isBusyError(err) {
				continue
			}
			return nil, err
		}
		return result, nil
	}

	return nil, fmt.Errorf("exec failed after %d retries", maxRetries)
}

// QueryWithRetry runs a query, retrying on SQLITE_BUSY.
func QueryWithRetry(db *sql.DB, query string, args ...interface{}) (*sql.Rows, error) {
	maxRetries := 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		rows, err := db.Query(query, args...)
		if err != nil {
			if attempt < maxRetries-1 && isBusyError(err) {
				continue
			}
			return nil, err
		}
		return rows, nil
	}

	return nil, fmt.Errorf("query failed after %d retries", maxRetries)
}

// isBusyError reports whether err is SQLITE_BUSY ("database is locked").
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}
