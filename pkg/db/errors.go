package db

import (
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether the provided error references a unique
// violation constraint. When constraintName is provided, the helper looks
// for the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	if pgCode(err) == pgUniqueViolation {
		return true
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsLockNotAvailable reports whether a row lock wait exceeded lock_timeout,
// or sqlite gave up waiting on its write lock.
func IsLockNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	if pgCode(err) == pgLockNotAvailable {
		return true
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSerializationFailure reports aborted transactions postgres expects the client to retry.
func IsSerializationFailure(err error) bool {
	switch pgCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}

// Contention converts driver level contention into the retryable domain codes.
// It returns nil when err is not contention.
func Contention(err error, message string) *pkgerrors.Error {
	switch {
	case IsLockNotAvailable(err):
		return pkgerrors.Wrap(pkgerrors.CodeBusy, err, message)
	case IsSerializationFailure(err):
		return pkgerrors.Wrap(pkgerrors.CodeVersionConflict, err, message)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// WrapError classifies a repository error. Typed errors pass through,
// gorm.ErrRecordNotFound becomes NOT_FOUND, and contention keeps its
// retryable code. Everything else is a dependency failure.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
	}
	if contention := Contention(err, message); contention != nil {
		return contention
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
