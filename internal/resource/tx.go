package resource

import (
	"context"
	"database/sql"
)

// RunInTx runs fn inside a transaction and guarantees rollback on every
// non-success exit. Resources passed into fn should be rebound with
// WithTx so composed mutations are all-or-nothing.
func RunInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
