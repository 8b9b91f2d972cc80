package store

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// oneRowOr converts a guarded UPDATE that matched nothing into the given
// error. Guarded updates are how state preconditions stay atomic against
// concurrent engine instances.
func oneRowOr(res sql.Result, lost error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return lost
	}
	return nil
}
