package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateCheckViolation      = "23514"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return err != nil && pgCode(err) == sqlStateUniqueViolation
}

// IsForeignKeyViolation reports a write that referenced a missing row.
func IsForeignKeyViolation(err error) bool {
	return err != nil && pgCode(err) == sqlStateForeignKeyViolation
}

// IsCheckViolation reports a write rejected by a CHECK constraint or trigger.
func IsCheckViolation(err error) bool {
	return err != nil && pgCode(err) == sqlStateCheckViolation
}
