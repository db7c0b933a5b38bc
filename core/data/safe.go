// Package data provides safe database error-handling helpers.
package data

import (
	"database/sql"
	"io"
	"log/slog"
)

// SafeClose closes an io.Closer, logging on failure instead of discarding
// the error. Replaces the `_ = rows.Close()` pattern that hides resource
// leaks (exhausted file descriptors, saturated connection pools).
//
// Usage:
//
//	rows, err := db.Query(...)
//	defer data.SafeClose(rows, "close query rows")
func SafeClose(closer io.Closer, op string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("failed to close resource", "op", op, "error", err)
	}
}

// SafeTxRollback rolls back a transaction, logging on failure. sql.ErrTxDone
// is expected after a successful commit and is filtered silently; any other
// error indicates an infrastructure problem worth logging.
//
// Usage:
//
//	tx, _ := db.Begin()
//	defer data.SafeTxRollback(tx, "cleanup transaction")
//	if err := tx.Commit(); err != nil {
//	    return err // defer calls Rollback, a no-op after a successful commit
//	}
func SafeTxRollback(tx *sql.Tx, op string) {
	if tx == nil {
		return
	}

	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("failed to roll back transaction", "op", op, "error", err)
	}
}
