// Package gormstore implements the booking stores on gorm (PostgreSQL in
// production, SQLite for local runs and tests).
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"clinic-booking/internal/domain/apperr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// mutate loads row id with SELECT ... FOR UPDATE inside a transaction, applies fn
// and saves. SQLite has no row locks but serialises writers per database.
func mutate[T any](ctx context.Context, db *gorm.DB, kind string, id uint, fn func(*T) error) (T, error) {
	var row T
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
			return translate(err, kind, id)
		}
		if err := fn(&row); err != nil {
			if errors.Is(err, apperr.ErrSkipWrite) {
				return nil
			}
			return err
		}
		if err := tx.Save(&row).Error; err != nil {
			return translate(err, kind, id)
		}
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return row, nil
}

func translate(err error, kind string, id any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s %v", apperr.ErrNotFound, kind, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s %v: %v", apperr.ErrConflict, kind, id, err)
	default:
		return err
	}
}
