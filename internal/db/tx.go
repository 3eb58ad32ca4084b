// Package db provides database transaction utilities used by the
// persistence store and the migrate command.
package db

import (
	"context"
	"database/sql"
	"fmt"
)

// WithTx wraps fn in a *sql.Tx following the same create/commit/rollback/
// panic-recovery shape as an ent-backed transaction helper, generalized to
// plain database/sql so it works against either the lib/pq or
// mattn/go-sqlite3 driver (spec.md §6: persistence is a named external
// collaborator, not ent-specific).
//
// If fn returns an error, the transaction is rolled back. If a panic
// occurs, the transaction is rolled back and the panic is re-raised. If fn
// completes successfully, the transaction is committed.
func WithTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if v := recover(); v != nil {
			//nolint:errcheck // rollback on panic is best-effort
			tx.Rollback()
			panic(v)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
