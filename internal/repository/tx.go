package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Transactor runs repository operations inside a single database
// transaction. Lifecycle transitions use it so a status change and its
// side-effect rows (review event, outcome notification, plan assignment)
// commit or roll back together.
type Transactor struct {
	db *sqlx.DB
}

// NewTransactor constructs the helper.
func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx begins a transaction, invokes fn, and commits unless fn errors.
func (t *Transactor) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
