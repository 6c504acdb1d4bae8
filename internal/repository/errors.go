// Package repository implements persistence over MySQL.  Driver errors are
// classified here so that higher layers only ever see the sentinel values
// of package model: a missing row becomes model.ErrNotFound, a duplicate
// key, deadlock or lock timeout becomes model.ErrConflict, and everything
// else is wrapped in a *model.DependencyError naming the failed operation.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// MySQL server error numbers that signal a recoverable conflict.
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// classify maps a driver error to the model error taxonomy.  op names the
// repository operation and ends up in messages shown to staff.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDuplicateEntry, errLockWaitTimeout, errDeadlock:
			return fmt.Errorf("%s: %w (mysql %d)", op, model.ErrConflict, me.Number)
		}
	}
	return &model.DependencyError{Op: op, Err: err}
}

// isDuplicate reports whether err is a unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
