package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// WithTx executes fn within a new transaction, or within the current one
// if db is already bound to a transaction.
func WithTx[T any](ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) (T, error)) (_ T, txErr error) {
	var zero T

	if _, ok := db.Statement.ConnPool.(gorm.TxCommitter); ok {
		return fn(db.WithContext(ctx))
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return zero, fmt.Errorf("db.Begin: %w", tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		if txErr != nil {
			rollbackErr := tx.Rollback().Error
			if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				txErr = errors.Join(txErr, fmt.Errorf("tx.Rollback: %w", rollbackErr))
			}
		}
	}()

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}

	if err := tx.Commit().Error; err != nil {
		return zero, fmt.Errorf("tx.Commit: %w", err)
	}

	return result, nil
}
