package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate row-locks the rows selected by the query. SQLite ignores the
// clause and relies on its database level write lock instead.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ForUpdateSkipLocked row-locks rows that no other transaction holds.
func ForUpdateSkipLocked(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}

// SetLockTimeout bounds row lock waits for the rest of the transaction.
func SetLockTimeout(tx *gorm.DB, wait time.Duration) error {
	if wait <= 0 || tx.Dialector.Name() != "postgres" {
		return nil
	}
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())
	return tx.Exec(stmt).Error
}
