package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgErrUniqueViolation      = "23505" // unique_violation
	pgErrSerializationFailure = "40001" // serialization_failure
	pgErrDeadlockDetected     = "40P01" // deadlock_detected

	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// IsUniqueViolation reports whether err was raised by a unique index, whichever
// driver produced it.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDuplicateEntry
	}
	// sqlite
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsRetryable reports whether the database aborted the transaction because of a
// concurrent writer, so running it again may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrSerializationFailure || pgErr.Code == pgErrDeadlockDetected
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
	}
	return strings.Contains(err.Error(), "database is locked")
}

// Transact runs fn inside a transaction and reruns it, up to attempts times in total,
// while it fails with a unique violation or a retryable concurrency error. It returns
// how many reruns happened.
func Transact(ctx context.Context, db *gorm.DB, attempts int, fn func(tx *gorm.DB) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return i, ctxErr
		}
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return i, nil
		}
		if !IsUniqueViolation(err) && !IsRetryable(err) {
			return i, err
		}
	}
	return attempts - 1, err
}
