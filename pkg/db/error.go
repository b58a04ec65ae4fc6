package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsDuplicateKeyErr reports a unique index violation on any of the
// supported dialects. Callers map it to a conflict on the reference column.
func IsDuplicateKeyErr(err error) bool {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return false
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return true
	case errors.As(err, &pgErr):
		return pgErr.Code == pgUniqueViolation
	}
	// MySQL reports 1062, SQLite "UNIQUE constraint failed".
	msg := err.Error()
	return strings.Contains(msg, "Error 1062") || strings.Contains(msg, "UNIQUE constraint failed")
}
