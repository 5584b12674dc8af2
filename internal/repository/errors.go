package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL error codes the ledger store reacts to
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgLockNotAvailable     = "55P03"
)

// isDuplicateKeyErr reports a unique constraint violation on any supported driver
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	if isPgCode(err, pgUniqueViolation) {
		return true
	}

	// PostgreSQL without error translation
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// SQLite
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsDuplicateKey reports whether err is a unique constraint violation
func IsDuplicateKey(err error) bool {
	return isDuplicateKeyErr(err)
}

// isSerializationErr reports errors that a fresh attempt may not hit again
func isSerializationErr(err error) bool {
	return isPgCode(err, pgSerializationFailure) || isPgCode(err, pgLockNotAvailable)
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
