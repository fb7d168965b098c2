// Transactions.
//
// Marking a chat read touches one row per message and must not leave half
// the receipts written when a later insert fails. WithTx groups such steps:
//
//	err := database.WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
//		for _, id := range ids {
//			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE ...", id, userID); err != nil {
//				return err // rolls back
//			}
//		}
//		return nil // commits
//	})

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TxQuerier is satisfied by both *sql.DB and *sql.Tx, so repository code can
// run inside or outside a transaction unchanged. database/sql has no such
// interface of its own.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn in a transaction, committing on nil and rolling back on
// error or panic.
//
// A panic inside fn is re-raised after the rollback. Without the recover the
// transaction would stay open, and sqlite would hold its write lock until
// the connection is reclaimed.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}

		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
			return
		}

		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	err = fn(tx)
	return
}
