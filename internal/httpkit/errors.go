package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the service reacts to.
const (
	pgUndefinedTable   = "42P01"
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
	pgQueryCanceled    = "57014"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUndefinedTable reports a query against a table migrations have not created yet.
func IsUndefinedTable(err error) bool { return pgCode(err) == pgUndefinedTable }

// IsUniqueViolation reports a unique constraint violation.
func IsUniqueViolation(err error) bool { return pgCode(err) == pgUniqueViolation }

// IsLockNotAvailable reports a NOWAIT lock that could not be taken.
func IsLockNotAvailable(err error) bool { return pgCode(err) == pgLockNotAvailable }

// IsQueryCanceled reports a statement canceled by timeout or context.
func IsQueryCanceled(err error) bool { return pgCode(err) == pgQueryCanceled }
